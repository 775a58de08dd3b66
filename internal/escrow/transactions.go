package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kindkart/kindkart/internal/ledger"
	"github.com/kindkart/kindkart/internal/pagination"
)

// Direction tells a user whether a transaction moved money out or in.
type Direction string

const (
	DirectionPayment Direction = "payment"
	DirectionEarning Direction = "earning"
)

// TransactionView is a transaction as one of its parties sees it.
type TransactionView struct {
	ID               string             `json:"id"`
	RequestID        string             `json:"requestId"`
	Type             Direction          `json:"type"`
	Description      string             `json:"description"`
	OtherUser        string             `json:"otherUser"`
	Amount           decimal.Decimal    `json:"amount"`
	Currency         string             `json:"currency"`
	Status           ledger.TxStatus    `json:"status"`
	PaymentGatewayID string             `json:"paymentGatewayId,omitempty"`
	EscrowHold       *ledger.EscrowHold `json:"escrowHold,omitempty"`
	EscrowActive     bool               `json:"escrowActive"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// ListTransactions returns every transaction the user paid or received,
// newest first. limit <= 0 returns all of them.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]TransactionView, error) {
	views, _, err := s.ListTransactionsPage(ctx, userID, limit, "")
	return views, err
}

// ListTransactionsPage is ListTransactions resumed from an opaque cursor.
// The returned cursor is empty on the last page.
func (s *Service) ListTransactionsPage(ctx context.Context, userID string, limit int, cursor string) ([]TransactionView, string, error) {
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fetch := limit
	if limit > 0 {
		fetch = limit + 1
	}
	records, err := s.ledger.ListByUser(ctx, userID, fetch, before)
	if err != nil {
		return nil, "", fmt.Errorf("list transactions: %w", err)
	}
	next := ""
	if limit > 0 {
		records, next, _ = pagination.ComputePage(records, limit, func(r *ledger.Record) (time.Time, string) {
			return r.Transaction.CreatedAt, r.Transaction.ID
		})
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.Transaction.RequestID)
	}
	titles, err := s.requests.GetMany(ctx, ids)
	if err != nil {
		return nil, "", fmt.Errorf("load request titles: %w", err)
	}

	now := s.now()
	views := make([]TransactionView, 0, len(records))
	for _, r := range records {
		tx := r.Transaction
		title := tx.RequestID
		if hr, ok := titles[tx.RequestID]; ok && hr.Title != "" {
			title = hr.Title
		}

		v := TransactionView{
			ID:               tx.ID,
			RequestID:        tx.RequestID,
			Amount:           tx.Amount,
			Currency:         tx.Currency,
			Status:           tx.Status,
			PaymentGatewayID: tx.GatewayRef,
			EscrowHold:       r.Hold,
			CreatedAt:        tx.CreatedAt,
		}
		if tx.PayerID == userID {
			v.Type = DirectionPayment
			v.Description = "Payment for: " + title
			v.OtherUser = tx.PayeeID
		} else {
			v.Type = DirectionEarning
			v.Description = "Payment from: " + title
			v.OtherUser = tx.PayerID
		}
		if r.Hold != nil {
			v.EscrowActive = r.Hold.Active(now)
		}
		views = append(views, v)
	}
	return views, next, nil
}
