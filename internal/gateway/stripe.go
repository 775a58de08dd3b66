package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeGateway creates orders as Stripe PaymentIntents. The intent id is
// the order id the checkout pays against. Stripe does not sign
// "<orderId>|<paymentId>"; the checkout bridge holding the key secret signs
// it with a Verifier once Stripe confirms the intent.
type StripeGateway struct {
	api *client.API
}

// NewStripe creates a gateway using the live Stripe API.
func NewStripe(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

// NewStripeWithBackend creates a gateway against a custom API backend, such
// as stripe-mock or a test server.
func NewStripeWithBackend(secretKey string, backend stripe.Backend) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Receipt),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Receipt)
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	notes := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		notes[k] = v
	}
	return &Order{
		ID:        pi.ID,
		Amount:    pi.Amount,
		Currency:  strings.ToUpper(string(pi.Currency)),
		Receipt:   req.Receipt,
		Status:    string(pi.Status),
		Provider:  g.Name(),
		Notes:     notes,
		CreatedAt: time.Unix(pi.Created, 0).UTC(),
	}, nil
}

// classifyStripeError separates provider outages from orders Stripe refused.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: stripe %d: %s", ErrGatewayUnavailable, se.HTTPStatusCode, se.Msg)
		}
		if se.HTTPStatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: %s", ErrOrderRejected, se.Msg)
		}
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
