package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kindkart/kindkart/internal/circuitbreaker"
	"github.com/kindkart/kindkart/internal/traces"
)

// Guarded wraps a Gateway with a per-call timeout and a circuit breaker.
// While the breaker is open, calls fail fast with ErrGatewayUnavailable.
type Guarded struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// NewGuarded wraps inner. A zero timeout defaults to 10 seconds.
func NewGuarded(inner Gateway, breaker *circuitbreaker.Breaker, timeout time.Duration) *Guarded {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Guarded{inner: inner, breaker: breaker, timeout: timeout}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "gateway.CreateOrder",
		traces.Provider(g.inner.Name()),
		traces.Currency(req.Currency),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	var order *Order
	err := g.breaker.Do(g.inner.Name(), isOutage, func() error {
		var err error
		order, err = g.inner.CreateOrder(ctx, req)
		return err
	})
	observe(g.inner.Name(), err, time.Since(start))

	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = fmt.Errorf("%w: circuit open for %s", ErrGatewayUnavailable, g.inner.Name())
	}
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	return order, nil
}

func isOutage(err error) bool {
	return !errors.Is(err, ErrOrderRejected)
}
