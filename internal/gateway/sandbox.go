package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SandboxGateway issues orders locally. It is used in development, where
// the checkout is simulated by signing with the shared secret.
type SandboxGateway struct {
	now func() time.Time
}

// NewSandbox creates a sandbox gateway.
func NewSandbox() *SandboxGateway {
	return &SandboxGateway{now: time.Now}
}

func (s *SandboxGateway) Name() string { return "sandbox" }

func (s *SandboxGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrGatewayUnavailable
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	notes := make(map[string]string, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	return &Order{
		ID:        "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20],
		Amount:    req.AmountMinor,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		Provider:  s.Name(),
		Notes:     notes,
		CreatedAt: s.now().UTC(),
	}, nil
}
