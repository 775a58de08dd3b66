// Package ledger stores payment transactions and the escrow holds that keep
// a helper's earnings in custody for a short verification window.
//
// Lifecycle:
//  1. Requester opens an order: a pending transaction is reserved
//  2. Gateway order is attached (or the transaction fails)
//  3. Payment is verified: transaction completes and a hold is opened
//  4. Either party releases or disputes the hold; otherwise it becomes
//     final on its own once the release time passes
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kindkart/kindkart/internal/pagination"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrHoldNotFound        = errors.New("escrow hold not found")
	ErrDuplicatePayment    = errors.New("payment already exists for this request")
	ErrNotPending          = errors.New("transaction is not pending")
	ErrHoldNotHeld         = errors.New("escrow hold is not held")
)

// TxStatus is the state of a payment transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
	TxRefunded  TxStatus = "refunded"
)

// HoldStatus is the custody state of captured funds.
type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldDisputed HoldStatus = "disputed"
)

// Transaction is one payment attempt for one help request.
type Transaction struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"requestId"`
	PayerID    string          `json:"payerId"`
	PayeeID    string          `json:"payeeId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     TxStatus        `json:"status"`
	GatewayRef string          `json:"paymentGatewayId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// IsOpen reports whether the transaction blocks another payment for the
// same request and payer.
func (t *Transaction) IsOpen() bool {
	return t.Status == TxPending || t.Status == TxCompleted
}

// IsParty reports whether userID paid or is being paid.
func (t *Transaction) IsParty(userID string) bool {
	return userID != "" && (t.PayerID == userID || t.PayeeID == userID)
}

// EscrowHold keeps a completed transaction's funds in custody until
// ReleaseTime, unless released or disputed first.
type EscrowHold struct {
	ID                string     `json:"id"`
	TransactionID     string     `json:"transactionId"`
	ReleaseTime       time.Time  `json:"releaseTime"`
	Status            HoldStatus `json:"status"`
	VerificationProof string     `json:"verificationProof,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Active reports whether the hold still has custody at now. Expiry is never
// written back; it is evaluated on every read.
func (h *EscrowHold) Active(now time.Time) bool {
	return h.Status == HoldHeld && now.Before(h.ReleaseTime)
}

// Record pairs a transaction with its hold, if one was opened.
type Record struct {
	Transaction *Transaction
	Hold        *EscrowHold
}

// Store persists transactions and holds. Implementations must make Reserve's
// duplicate check and insert atomic, and apply Capture and ReleaseHold as a
// single unit together with the help request status change.
type Store interface {
	// Reserve inserts a pending transaction unless an open one exists for the
	// same (request, payer). Pending rows created before staleBefore are
	// cancelled first.
	Reserve(ctx context.Context, tx *Transaction, staleBefore time.Time) error
	AttachOrder(ctx context.Context, txID, orderID string, at time.Time) error
	MarkFailed(ctx context.Context, txID string, at time.Time) error

	Get(ctx context.Context, id string) (*Transaction, error)
	FindPending(ctx context.Context, gatewayRef, payerID string) (*Transaction, error)

	// Capture completes a pending transaction, replaces its gateway reference
	// with the payment id, opens the hold and moves the request in progress.
	Capture(ctx context.Context, txID, paymentID string, hold *EscrowHold) (*Transaction, error)

	GetHold(ctx context.Context, txID string) (*EscrowHold, error)
	// ReleaseHold moves a held hold to released and completes the request.
	ReleaseHold(ctx context.Context, txID string, at time.Time) (*EscrowHold, error)
	DisputeHold(ctx context.Context, txID, reason string, at time.Time) (*EscrowHold, error)

	// ListByUser returns userID's records newest first, starting strictly
	// after before when it is set. limit <= 0 means no limit.
	ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error)
	ListCompletedByUser(ctx context.Context, userID string) ([]*Record, error)
	// CountSettledPayments counts completed payments made by payerID whose
	// hold was not disputed.
	CountSettledPayments(ctx context.Context, payerID string) (int, error)
}
