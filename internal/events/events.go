// Package events carries settlement and reputation notifications out of the
// service: to connected clients over WebSocket and to Kafka for downstream
// consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/kindkart/kindkart/internal/idgen"
)

// Type names an event.
type Type string

const (
	PaymentCaptured   Type = "payment_captured"
	EscrowReleased    Type = "escrow_released"
	EscrowDisputed    Type = "escrow_disputed"
	ReputationUpdated Type = "reputation_updated"
	BadgeEarned       Type = "badge_earned"
)

// Event is one notification. UserIDs are the users it concerns; realtime
// delivery only reaches them.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	UserIDs    []string  `json:"userIds"`
	Data       any       `json:"data"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New builds an event keyed by key (a transaction or user id).
func New(typ Type, key string, data any, userIDs ...string) *Event {
	return &Event{
		ID:         idgen.WithPrefix("evt_"),
		Type:       typ,
		Key:        key,
		UserIDs:    userIDs,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }

// Fanout publishes to every publisher and joins their errors. One failing
// sink does not stop delivery to the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e *Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
