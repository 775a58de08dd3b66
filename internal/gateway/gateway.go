// Package gateway adapts external payment providers. The rest of the
// service sees two capabilities: create an order for an amount in minor
// units, and verify the signature the checkout returns after payment.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrGatewayUnavailable means the provider could not be reached or
	// failed on its side. Callers surface it; they do not retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrOrderRejected means the provider refused the order as invalid.
	ErrOrderRejected = errors.New("payment gateway rejected the order")
)

// OrderRequest describes an order to create with the provider.
type OrderRequest struct {
	AmountMinor int64             // smallest currency unit, e.g. paise
	Currency    string            // ISO 4217, upper case
	Receipt     string            // merchant reference shown on the provider dashboard
	Notes       map[string]string // copied onto the provider order as metadata
}

// Order is the provider's view of a created order. It is returned to the
// client so the checkout can be opened against it.
type Order struct {
	ID        string            `json:"id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Receipt   string            `json:"receipt"`
	Status    string            `json:"status"`
	Provider  string            `json:"provider"`
	Notes     map[string]string `json:"notes,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Gateway creates orders with an external provider.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

// Receipt builds the merchant reference for a help request payment.
func Receipt(requestID string, at time.Time) string {
	return fmt.Sprintf("req_%s_%d", requestID, at.UnixMilli())
}

func validate(req OrderRequest) error {
	if req.AmountMinor <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrOrderRejected)
	}
	if req.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrOrderRejected)
	}
	return nil
}
