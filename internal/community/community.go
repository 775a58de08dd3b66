// Package community provides read access to communities and their members.
package community

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("community not found")

// Community is an invite-coded neighborhood group.
type Community struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store reads community data. Only approved members are reported.
type Store interface {
	Get(ctx context.Context, id string) (*Community, error)
	CountCreatedBy(ctx context.Context, userID string) (int, error)
	MemberIDs(ctx context.Context, communityID string) ([]string, error)
	CommunitiesOf(ctx context.Context, userID string) ([]string, error)
}
