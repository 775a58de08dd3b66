package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kindkart/kindkart/internal/pagination"
	"github.com/kindkart/kindkart/internal/requests"
)

// MemoryStore is an in-memory ledger for development and tests. Every
// multi-entity change runs under a single write lock.
type MemoryStore struct {
	mu       sync.RWMutex
	txs      map[string]*Transaction
	holds    map[string]*EscrowHold // keyed by transaction ID
	requests requests.StatusWriter
}

// NewMemoryStore creates an in-memory ledger that keeps request status in
// step through w.
func NewMemoryStore(w requests.StatusWriter) *MemoryStore {
	return &MemoryStore{
		txs:      make(map[string]*Transaction),
		holds:    make(map[string]*EscrowHold),
		requests: w,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Reserve(_ context.Context, tx *Transaction, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.txs {
		if existing.RequestID != tx.RequestID || existing.PayerID != tx.PayerID {
			continue
		}
		if existing.Status == TxPending && existing.CreatedAt.Before(staleBefore) {
			existing.Status = TxCancelled
			existing.UpdatedAt = tx.CreatedAt
			continue
		}
		if existing.IsOpen() {
			return ErrDuplicatePayment
		}
	}

	cp := *tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) AttachOrder(_ context.Context, txID, orderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.Status != TxPending {
		return ErrNotPending
	}
	tx.GatewayRef = orderID
	tx.UpdatedAt = at
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, txID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.Status != TxPending {
		return ErrNotPending
	}
	tx.Status = TxFailed
	tx.UpdatedAt = at
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) FindPending(_ context.Context, gatewayRef, payerID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tx := range m.txs {
		if tx.GatewayRef == gatewayRef && tx.PayerID == payerID && tx.Status == TxPending {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *MemoryStore) Capture(ctx context.Context, txID, paymentID string, hold *EscrowHold) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if tx.Status != TxPending {
		return nil, ErrNotPending
	}
	if _, exists := m.holds[txID]; exists {
		return nil, ErrNotPending
	}

	// The request write is the only step that can fail, so it goes first.
	if err := m.requests.SetStatus(ctx, tx.RequestID, requests.StatusInProgress, hold.CreatedAt); err != nil {
		return nil, err
	}

	tx.Status = TxCompleted
	tx.GatewayRef = paymentID
	tx.UpdatedAt = hold.CreatedAt
	h := *hold
	m.holds[txID] = &h

	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) GetHold(_ context.Context, txID string) (*EscrowHold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holds[txID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) ReleaseHold(ctx context.Context, txID string, at time.Time) (*EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[txID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	if h.Status != HoldHeld {
		return nil, ErrHoldNotHeld
	}
	tx := m.txs[txID]
	if err := m.requests.SetStatus(ctx, tx.RequestID, requests.StatusCompleted, at); err != nil {
		return nil, err
	}

	h.Status = HoldReleased
	h.UpdatedAt = at
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) DisputeHold(_ context.Context, txID, reason string, at time.Time) (*EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[txID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	if h.Status != HoldHeld {
		return nil, ErrHoldNotHeld
	}
	h.Status = HoldDisputed
	h.VerificationProof = reason
	h.UpdatedAt = at
	cp := *h
	return &cp, nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.collect(limit, func(tx *Transaction) bool {
		return tx.IsParty(userID) && (before == nil || olderThan(tx, before))
	}), nil
}

func olderThan(tx *Transaction, c *pagination.Cursor) bool {
	if tx.CreatedAt.Equal(c.CreatedAt) {
		return tx.ID < c.ID
	}
	return tx.CreatedAt.Before(c.CreatedAt)
}

func (m *MemoryStore) ListCompletedByUser(_ context.Context, userID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.collect(0, func(tx *Transaction) bool {
		return tx.Status == TxCompleted && tx.IsParty(userID)
	}), nil
}

func (m *MemoryStore) CountSettledPayments(_ context.Context, payerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for id, tx := range m.txs {
		if tx.PayerID != payerID || tx.Status != TxCompleted {
			continue
		}
		if h, ok := m.holds[id]; ok && h.Status == HoldDisputed {
			continue
		}
		n++
	}
	return n, nil
}

// collect returns matching records newest first. limit <= 0 means no limit.
// Caller holds at least the read lock.
func (m *MemoryStore) collect(limit int, match func(*Transaction) bool) []*Record {
	var out []*Record
	for id, tx := range m.txs {
		if !match(tx) {
			continue
		}
		rec := &Record{Transaction: copyTx(tx)}
		if h, ok := m.holds[id]; ok {
			hc := *h
			rec.Hold = &hc
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Transaction, out[j].Transaction
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyTx(tx *Transaction) *Transaction {
	cp := *tx
	return &cp
}
