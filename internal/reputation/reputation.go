// Package reputation credits users for helping, requesting and building
// communities, and derives levels, badges and achievements from those
// credits and from their settlement history.
//
// Credits only ever move through ApplyCredit. Total credits never drop
// below zero and a level, once reached, is never lost.
package reputation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownAction       = errors.New("unknown reputation action")
	ErrBadgeNotFound       = errors.New("badge not found")
	ErrBadgeAlreadyAwarded = errors.New("badge already awarded")
	ErrCommunityNotFound   = errors.New("community not found")
	ErrInvalidQuery        = errors.New("invalid leaderboard query")
	ErrInvalidPoints       = errors.New("points out of range")
	ErrDuplicateCredit     = errors.New("credit already applied for this reference")
)

// MaxAdHocPoints bounds the points an administrator may apply in one update.
const MaxAdHocPoints = 1000

// Category is the credit bucket an action feeds.
type Category string

const (
	CategoryHelper    Category = "helper"
	CategoryRequester Category = "requester"
	CategoryCommunity Category = "community"
	CategoryOther     Category = "other" // counts toward the total only
)

// Action is a creditable event with a fixed point value.
type Action struct {
	Key      string   `json:"action"`
	Category Category `json:"category"`
	Points   int      `json:"points"`
}

var (
	HelperRequestAccepted  = Action{"helper_request_accepted", CategoryHelper, 5}
	HelperRequestCompleted = Action{"helper_request_completed", CategoryHelper, 20}
	HelperRated5           = Action{"helper_rated_5", CategoryHelper, 25}
	HelperRated4           = Action{"helper_rated_4", CategoryHelper, 20}
	HelperRated3           = Action{"helper_rated_3", CategoryHelper, 15}
	HelperRated2           = Action{"helper_rated_2", CategoryHelper, 10}
	HelperRated1           = Action{"helper_rated_1", CategoryHelper, 5}

	RequesterRequestCreated   = Action{"requester_request_created", CategoryRequester, 2}
	RequesterRequestCompleted = Action{"requester_request_completed", CategoryRequester, 10}
	RequesterHelperRated      = Action{"requester_helper_rated", CategoryRequester, 5}
	RequesterPaymentOnTime    = Action{"requester_payment_on_time", CategoryRequester, 15}

	CommunityCreated        = Action{"community_created", CategoryCommunity, 50}
	CommunityJoined         = Action{"community_joined", CategoryCommunity, 5}
	CommunityInviteAccepted = Action{"community_invite_accepted", CategoryCommunity, 10}

	DailyLogin   = Action{"daily_login", CategoryOther, 1}
	WeeklyActive = Action{"weekly_active", CategoryOther, 5}

	BonusFastResponse    = Action{"bonus_fast_response", CategoryOther, 5}
	BonusCompletion      = Action{"bonus_completion", CategoryOther, 10}
	BonusCommunityHelper = Action{"bonus_community_helper", CategoryOther, 15}

	PenaltyLatePayment      = Action{"penalty_late_payment", CategoryOther, -10}
	PenaltyRequestCancelled = Action{"penalty_request_cancelled", CategoryOther, -5}
	PenaltyPoorRating       = Action{"penalty_poor_rating", CategoryOther, -15}
	PenaltyNoShow           = Action{"penalty_no_show", CategoryOther, -20}
)

var actions = indexActions(
	HelperRequestAccepted, HelperRequestCompleted,
	HelperRated5, HelperRated4, HelperRated3, HelperRated2, HelperRated1,
	RequesterRequestCreated, RequesterRequestCompleted, RequesterHelperRated, RequesterPaymentOnTime,
	CommunityCreated, CommunityJoined, CommunityInviteAccepted,
	DailyLogin, WeeklyActive,
	BonusFastResponse, BonusCompletion, BonusCommunityHelper,
	PenaltyLatePayment, PenaltyRequestCancelled, PenaltyPoorRating, PenaltyNoShow,
)

func indexActions(list ...Action) map[string]Action {
	m := make(map[string]Action, len(list))
	for _, a := range list {
		m[a.Key] = a
	}
	return m
}

// LookupAction returns the built-in action for key.
func LookupAction(key string) (Action, bool) {
	a, ok := actions[key]
	return a, ok
}

// CategoryOf infers a category from an action key prefix. It is only used
// for ad-hoc actions submitted by administrators.
func CategoryOf(key string) Category {
	switch {
	case strings.HasPrefix(key, "helper_"):
		return CategoryHelper
	case strings.HasPrefix(key, "requester_"):
		return CategoryRequester
	case strings.HasPrefix(key, "community_"):
		return CategoryCommunity
	default:
		return CategoryOther
	}
}

// ResolveAction turns an administrator's update into an Action. A known
// key without points uses the table value; explicit points override it and
// allow keys outside the table, categorized by prefix.
func ResolveAction(key string, points *int) (Action, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Action{}, ErrUnknownAction
	}
	if points == nil {
		a, ok := LookupAction(key)
		if !ok {
			return Action{}, fmt.Errorf("%w: %q (points required)", ErrUnknownAction, key)
		}
		return a, nil
	}
	if *points > MaxAdHocPoints || *points < -MaxAdHocPoints {
		return Action{}, fmt.Errorf("%w: |points| must not exceed %d", ErrInvalidPoints, MaxAdHocPoints)
	}
	if a, ok := LookupAction(key); ok {
		a.Points = *points
		return a, nil
	}
	return Action{Key: key, Category: CategoryOf(key), Points: *points}, nil
}

// levelThresholds[i] is the total needed for level i+1.
var levelThresholds = [...]int64{0, 100, 250, 500, 1000, 2000, 3500, 5000, 7000, 10000}

const MaxLevel = len(levelThresholds)

// LevelFor returns the ladder level for a credit total.
func LevelFor(total int64) int {
	level := 1
	for i, threshold := range levelThresholds {
		if total >= threshold {
			level = i + 1
		}
	}
	return level
}

// Reputation is a user's credit standing.
type Reputation struct {
	UserID           string    `json:"userId"`
	TotalCredits     int64     `json:"totalCredits"`
	CommunityCredits int64     `json:"communityCredits"`
	HelperCredits    int64     `json:"helperCredits"`
	RequesterCredits int64     `json:"requesterCredits"`
	Level            int       `json:"level"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NextLevelAt returns the total needed for the next level, or 0 at the top.
func (r *Reputation) NextLevelAt() int64 {
	if r.Level >= MaxLevel {
		return 0
	}
	return levelThresholds[r.Level]
}

// apply adds points to r in place and returns the effective delta. The
// delta is clamped so the total never goes below zero; the category bucket
// receives the same delta.
func (r *Reputation) apply(cat Category, points int64, at time.Time) int64 {
	delta := max(points, -r.TotalCredits)
	r.TotalCredits += delta
	switch cat {
	case CategoryHelper:
		r.HelperCredits += delta
	case CategoryRequester:
		r.RequesterCredits += delta
	case CategoryCommunity:
		r.CommunityCredits += delta
	}
	r.Level = max(r.Level, LevelFor(r.TotalCredits))
	r.UpdatedAt = at
	return delta
}

func newReputation(userID string, at time.Time) *Reputation {
	return &Reputation{UserID: userID, Level: 1, CreatedAt: at, UpdatedAt: at}
}

// CreditEvent is one applied credit change. Points is the effective delta.
// Reference names what earned the credit, such as a transaction ID; a user
// is credited for a given action and reference at most once.
type CreditEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Reference string    `json:"reference,omitempty"`
	Category  Category  `json:"category"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"createdAt"`
}

// BadgeAssignment records that a user earned a badge. It is never changed.
type BadgeAssignment struct {
	UserID   string    `json:"userId"`
	BadgeID  string    `json:"badgeId"`
	Context  string    `json:"context,omitempty"`
	EarnedAt time.Time `json:"earnedAt"`
}

// Achievement is progress toward a milestone.
type Achievement struct {
	UserID        string    `json:"userId"`
	AchievementID string    `json:"achievementId"`
	Category      string    `json:"category"`
	Progress      int       `json:"progress"`
	MaxProgress   int       `json:"maxProgress"`
	Completed     bool      `json:"completed"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
