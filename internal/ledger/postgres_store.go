package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kindkart/kindkart/internal/pagination"
	"github.com/kindkart/kindkart/internal/requests"
	"github.com/kindkart/kindkart/internal/retry"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"

	openPaymentIndex = "uq_transactions_open_payment"
)

// PostgresStore persists the ledger in PostgreSQL. The partial unique index
// on (request_id, payer_id) for pending and completed rows is what makes
// Reserve safe across processes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Reserve(ctx context.Context, t *Transaction, staleBefore time.Time) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE transactions SET status = 'cancelled', updated_at = $4
			WHERE request_id = $1 AND payer_id = $2 AND status = 'pending' AND created_at < $3`,
			t.RequestID, t.PayerID, staleBefore, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("cancel stale orders: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, request_id, payer_id, payee_id, amount, currency,
				status, gateway_ref, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, t.RequestID, t.PayerID, t.PayeeID, t.Amount, t.Currency,
			string(t.Status), nullString(t.GatewayRef), t.CreatedAt, t.UpdatedAt)
		if isUniqueViolation(err, openPaymentIndex) {
			return retry.Permanent(ErrDuplicatePayment)
		}
		return err
	})
}

func (p *PostgresStore) AttachOrder(ctx context.Context, txID, orderID string, at time.Time) error {
	return p.updatePending(ctx, `
		UPDATE transactions SET gateway_ref = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`, txID, orderID, at)
}

func (p *PostgresStore) MarkFailed(ctx context.Context, txID string, at time.Time) error {
	return p.updatePending(ctx, `
		UPDATE transactions SET status = 'failed', updated_at = $2
		WHERE id = $1 AND status = 'pending'`, txID, at)
}

func (p *PostgresStore) updatePending(ctx context.Context, query string, txID string, args ...any) error {
	result, err := p.db.ExecContext(ctx, query, append([]any{txID}, args...)...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.Get(ctx, txID); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

const txColumns = `t.id, t.request_id, t.payer_id, t.payee_id, t.amount, t.currency,
	t.status, t.gateway_ref, t.created_at, t.updated_at`

const holdColumns = `h.id, h.transaction_id, h.release_time, h.status,
	h.verification_proof, h.created_at, h.updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions t WHERE t.id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) FindPending(ctx context.Context, gatewayRef, payerID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions t
		WHERE t.gateway_ref = $1 AND t.payer_id = $2 AND t.status = 'pending'`,
		gatewayRef, payerID)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) Capture(ctx context.Context, txID, paymentID string, hold *EscrowHold) (*Transaction, error) {
	var captured *Transaction
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE transactions t SET status = 'completed', gateway_ref = $2, updated_at = $3
			WHERE t.id = $1 AND t.status = 'pending'
			RETURNING `+txColumns,
			txID, paymentID, hold.CreatedAt)
		t, err := scanTransaction(row)
		if err == sql.ErrNoRows {
			return retry.Permanent(ErrNotPending)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO escrow_holds (
				id, transaction_id, release_time, status, verification_proof, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			hold.ID, txID, hold.ReleaseTime, string(hold.Status),
			nullString(hold.VerificationProof), hold.CreatedAt, hold.UpdatedAt)
		if err != nil {
			return fmt.Errorf("open escrow hold: %w", err)
		}

		if err := requests.SetStatusTx(ctx, tx, t.RequestID, requests.StatusInProgress, hold.CreatedAt); err != nil {
			if errors.Is(err, requests.ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		}

		captured = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return captured, nil
}

func (p *PostgresStore) GetHold(ctx context.Context, txID string) (*EscrowHold, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM escrow_holds h WHERE h.transaction_id = $1`, txID)
	h, err := scanHold(row)
	if err == sql.ErrNoRows {
		return nil, ErrHoldNotFound
	}
	return h, err
}

func (p *PostgresStore) ReleaseHold(ctx context.Context, txID string, at time.Time) (*EscrowHold, error) {
	var released *EscrowHold
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		h, err := transitionHold(ctx, tx, txID, HoldReleased, "", at)
		if err != nil {
			return err
		}

		var requestID string
		if err := tx.QueryRowContext(ctx,
			`SELECT request_id FROM transactions WHERE id = $1`, txID).Scan(&requestID); err != nil {
			return err
		}
		if err := requests.SetStatusTx(ctx, tx, requestID, requests.StatusCompleted, at); err != nil {
			if errors.Is(err, requests.ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		}

		released = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (p *PostgresStore) DisputeHold(ctx context.Context, txID, reason string, at time.Time) (*EscrowHold, error) {
	var disputed *EscrowHold
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		h, err := transitionHold(ctx, tx, txID, HoldDisputed, reason, at)
		if err != nil {
			return err
		}
		disputed = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return disputed, nil
}

// transitionHold moves a held hold to status. It distinguishes a missing hold
// from one that has already left the held state.
func transitionHold(ctx context.Context, tx *sql.Tx, txID string, status HoldStatus, proof string, at time.Time) (*EscrowHold, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE escrow_holds h SET
			status = $2,
			verification_proof = COALESCE($3, h.verification_proof),
			updated_at = $4
		WHERE h.transaction_id = $1 AND h.status = 'held'
		RETURNING `+holdColumns,
		txID, string(status), nullString(proof), at)
	h, err := scanHold(row)
	if err == nil {
		return h, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM escrow_holds WHERE transaction_id = $1)`, txID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, retry.Permanent(ErrHoldNotFound)
	}
	return nil, retry.Permanent(ErrHoldNotHeld)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	limit = max(limit, 0)
	var beforeAt sql.NullTime
	var beforeID string
	if before != nil {
		beforeAt = sql.NullTime{Time: before.CreatedAt, Valid: true}
		beforeID = before.ID
	}
	return p.queryRecords(ctx, `
		SELECT `+txColumns+`, `+holdColumns+`
		FROM transactions t
		LEFT JOIN escrow_holds h ON h.transaction_id = t.id
		WHERE (t.payer_id = $1 OR t.payee_id = $1)
		  AND ($3::timestamptz IS NULL OR (t.created_at, t.id) < ($3::timestamptz, $4::text))
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT NULLIF($2::int, 0)`, userID, limit, beforeAt, beforeID)
}

func (p *PostgresStore) ListCompletedByUser(ctx context.Context, userID string) ([]*Record, error) {
	return p.queryRecords(ctx, `
		SELECT `+txColumns+`, `+holdColumns+`
		FROM transactions t
		LEFT JOIN escrow_holds h ON h.transaction_id = t.id
		WHERE t.status = 'completed' AND (t.payer_id = $1 OR t.payee_id = $1)
		ORDER BY t.created_at DESC, t.id DESC`, userID)
}

func (p *PostgresStore) CountSettledPayments(ctx context.Context, payerID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions t
		LEFT JOIN escrow_holds h ON h.transaction_id = t.id
		WHERE t.payer_id = $1 AND t.status = 'completed'
		  AND (h.status IS NULL OR h.status <> 'disputed')`, payerID).Scan(&n)
	return n, err
}

func (p *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// inTx runs fn in a serializable transaction, retrying serialization
// failures. fn marks domain errors with retry.Permanent.
func (p *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retry.Do(ctx, 4, 25*time.Millisecond, func() error {
		tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return retry.Permanent(err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return classify(err)
		}
		return classify(tx.Commit())
	})
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *retry.PermanentError
	if errors.As(err, &pe) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgSerializationFailure {
		return err
	}
	return retry.Permanent(err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation && pqErr.Constraint == constraint
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	t := &Transaction{}
	var status string
	var ref sql.NullString
	err := s.Scan(
		&t.ID, &t.RequestID, &t.PayerID, &t.PayeeID, &t.Amount, &t.Currency,
		&status, &ref, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = TxStatus(status)
	t.GatewayRef = ref.String
	return t, nil
}

func scanHold(s scanner) (*EscrowHold, error) {
	h := &EscrowHold{}
	var status string
	var proof sql.NullString
	if err := s.Scan(&h.ID, &h.TransactionID, &h.ReleaseTime, &status, &proof, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Status = HoldStatus(status)
	h.VerificationProof = proof.String
	return h, nil
}

func scanRecord(s scanner) (*Record, error) {
	t := &Transaction{}
	var (
		txStatus    string
		ref         sql.NullString
		holdID      sql.NullString
		holdTxID    sql.NullString
		releaseTime sql.NullTime
		holdStatus  sql.NullString
		proof       sql.NullString
		holdCreated sql.NullTime
		holdUpdated sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.RequestID, &t.PayerID, &t.PayeeID, &t.Amount, &t.Currency,
		&txStatus, &ref, &t.CreatedAt, &t.UpdatedAt,
		&holdID, &holdTxID, &releaseTime, &holdStatus, &proof, &holdCreated, &holdUpdated,
	)
	if err != nil {
		return nil, err
	}
	t.Status = TxStatus(txStatus)
	t.GatewayRef = ref.String

	rec := &Record{Transaction: t}
	if holdID.Valid {
		rec.Hold = &EscrowHold{
			ID:                holdID.String,
			TransactionID:     holdTxID.String,
			ReleaseTime:       releaseTime.Time,
			Status:            HoldStatus(holdStatus.String),
			VerificationProof: proof.String,
			CreatedAt:         holdCreated.Time,
			UpdatedAt:         holdUpdated.Time,
		}
	}
	return rec, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
