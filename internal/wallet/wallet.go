// Package wallet derives a user's settlement position from the ledger.
//
// Nothing here is stored. Every read folds the user's completed
// transactions and their holds into balances, so the wallet cannot drift
// from the ledger.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kindkart/kindkart/internal/ledger"
	"github.com/kindkart/kindkart/internal/money"
	"github.com/kindkart/kindkart/internal/traces"
)

var ErrForbidden = errors.New("cannot view another user's wallet")

// Wallet is a user's settlement position.
//
// For every wallet, TotalEarned == Balance + PendingAmount + DisputedAmount.
type Wallet struct {
	UserID         string
	Currency       string
	Balance        decimal.Decimal // earned and no longer in custody
	PendingAmount  decimal.Decimal // earned but still held in escrow
	DisputedAmount decimal.Decimal // earned but frozen by a dispute
	TotalEarned    decimal.Decimal
	TotalSpent     decimal.Decimal
}

// MarshalJSON renders amounts with the currency's minor-unit digits.
func (w Wallet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserID         string `json:"userId"`
		Currency       string `json:"currency"`
		Balance        string `json:"balance"`
		PendingAmount  string `json:"pendingAmount"`
		DisputedAmount string `json:"disputedAmount"`
		TotalEarned    string `json:"totalEarned"`
		TotalSpent     string `json:"totalSpent"`
	}{
		UserID:         w.UserID,
		Currency:       w.Currency,
		Balance:        money.Format(w.Balance, w.Currency),
		PendingAmount:  money.Format(w.PendingAmount, w.Currency),
		DisputedAmount: money.Format(w.DisputedAmount, w.Currency),
		TotalEarned:    money.Format(w.TotalEarned, w.Currency),
		TotalSpent:     money.Format(w.TotalSpent, w.Currency),
	})
}

// Calculate folds records into userID's wallet as of now. Only completed
// transactions count; a hold whose release time has passed counts as
// released even though its stored status still reads held.
func Calculate(userID, currency string, records []*ledger.Record, now time.Time) Wallet {
	w := Wallet{
		UserID:         userID,
		Currency:       currency,
		Balance:        decimal.Zero,
		PendingAmount:  decimal.Zero,
		DisputedAmount: decimal.Zero,
		TotalEarned:    decimal.Zero,
		TotalSpent:     decimal.Zero,
	}
	for _, r := range records {
		tx := r.Transaction
		if tx == nil || tx.Status != ledger.TxCompleted {
			continue
		}
		if tx.PayeeID == userID {
			w.TotalEarned = w.TotalEarned.Add(tx.Amount)
			switch {
			case r.Hold != nil && r.Hold.Status == ledger.HoldDisputed:
				w.DisputedAmount = w.DisputedAmount.Add(tx.Amount)
			case r.Hold != nil && r.Hold.Active(now):
				w.PendingAmount = w.PendingAmount.Add(tx.Amount)
			default:
				w.Balance = w.Balance.Add(tx.Amount)
			}
		}
		if tx.PayerID == userID {
			w.TotalSpent = w.TotalSpent.Add(tx.Amount)
		}
	}
	return w
}

// Service serves wallets.
type Service struct {
	ledger   ledger.Store
	currency string
	now      func() time.Time
}

// NewService creates a wallet service reporting in currency.
func NewService(store ledger.Store, currency string) *Service {
	return &Service{ledger: store, currency: currency, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetWallet computes userID's wallet. Only the owner may read it.
func (s *Service) GetWallet(ctx context.Context, userID, callerID string) (*Wallet, error) {
	ctx, span := traces.StartSpan(ctx, "wallet.GetWallet", traces.UserID(userID))
	defer span.End()

	if userID == "" || userID != callerID {
		return nil, ErrForbidden
	}
	records, err := s.ledger.ListCompletedByUser(ctx, userID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("load completed transactions: %w", err)
	}
	w := Calculate(userID, s.currency, records, s.now())
	return &w, nil
}
