package reputation

import (
	"context"
	"time"
)

// Score is a user's point sum over a leaderboard window.
type Score struct {
	UserID string
	Points int64
}

// Store persists reputations, the credit event log, badges and
// achievements. ApplyCredit must read, clamp and write the reputation and
// append its event as one atomic step per user.
type Store interface {
	// GetOrCreate returns the user's reputation, creating a level 1 record
	// with zero credits on first access.
	GetOrCreate(ctx context.Context, userID string, at time.Time) (*Reputation, error)

	// ApplyCredit adds points to the user's total and to the category
	// bucket, clamped so the total stays non-negative, and logs a credit
	// event carrying the effective delta. With a non-empty ref it returns
	// ErrDuplicateCredit, changing nothing, when the user already has an
	// event for the same action and ref.
	ApplyCredit(ctx context.Context, userID, action, ref string, cat Category, points int64, at time.Time) (*Reputation, *CreditEvent, error)
	// CreditEvents returns the user's events for the given actions, oldest
	// first.
	CreditEvents(ctx context.Context, userID string, actions []string) ([]*CreditEvent, error)

	// ListByUsers returns the reputations that exist among userIDs.
	ListByUsers(ctx context.Context, userIDs []string) ([]*Reputation, error)
	// Top returns reputations ordered by total credits, highest first, ties
	// broken by user ID. A nil userIDs means every user.
	Top(ctx context.Context, userIDs []string, limit int) ([]*Reputation, error)
	// SumPointsSince totals credit events at or after since per user,
	// highest first. A nil userIDs means every user.
	SumPointsSince(ctx context.Context, since time.Time, userIDs []string, limit int) ([]Score, error)

	// AwardBadge stores a badge assignment. inserted is false when the user
	// already holds the badge; the existing assignment is left untouched.
	AwardBadge(ctx context.Context, a *BadgeAssignment) (inserted bool, err error)
	Badges(ctx context.Context, userID string) ([]*BadgeAssignment, error)
	BadgeCounts(ctx context.Context, userIDs []string) (map[string]int, error)

	// UpsertAchievement records progress. Stored progress never decreases
	// and a completed achievement stays completed.
	UpsertAchievement(ctx context.Context, a *Achievement) (*Achievement, error)
	Achievements(ctx context.Context, userID string) ([]*Achievement, error)
}
