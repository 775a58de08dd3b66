package reputation

import (
	"context"
	"time"
)

// ConditionType names the statistic a badge is judged on.
type ConditionType string

const (
	CondCompletedHelps      ConditionType = "completed_helps"
	CondCompletedRequests   ConditionType = "completed_requests"
	CondCommunitiesCreated  ConditionType = "communities_created"
	CondCommunityRank       ConditionType = "community_rank"
	CondFastResponses       ConditionType = "fast_responses"
	CondOnTimePayments      ConditionType = "on_time_payments"
	CondCompletionRate      ConditionType = "completion_rate"
	CondLoginStreak         ConditionType = "login_streak"
	CondFiveStarShare       ConditionType = "five_star_share"
	CondInvitesAccepted     ConditionType = "invites_accepted"
	completionRateMinSample               = 5
	ratingMinSample                       = 5
)

// Condition is the qualification rule for a badge. For community_rank the
// user qualifies at or below Threshold; for everything else at or above.
type Condition struct {
	Type      ConditionType `json:"type"`
	Threshold float64       `json:"threshold"`
}

// Badge is a catalog entry.
type Badge struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Category    string    `json:"category"`
	Condition   Condition `json:"condition"`
}

var badgeCatalog = []Badge{
	{"first_helper", "First Helper", "Helped your first neighbor", "🤝", "helper", Condition{CondCompletedHelps, 1}},
	{"helper_level_5", "Community Helper", "Helped 5 neighbors", "⭐", "helper", Condition{CondCompletedHelps, 5}},
	{"helper_level_10", "Super Helper", "Helped 10 neighbors", "🌟", "helper", Condition{CondCompletedHelps, 10}},
	{"helper_level_25", "Neighborhood Hero", "Helped 25 neighbors", "🏆", "helper", Condition{CondCompletedHelps, 25}},
	{"first_request", "First Request", "Had your first help request completed", "🙋", "requester", Condition{CondCompletedRequests, 1}},
	{"active_requester", "Active Requester", "Had 10 help requests completed", "📝", "requester", Condition{CondCompletedRequests, 10}},
	{"community_creator", "Community Creator", "Created a new community", "🏘️", "community", Condition{CondCommunitiesCreated, 1}},
	{"community_leader", "Community Leader", "Top helper in your community", "👑", "community", Condition{CondCommunityRank, 1}},
	{"fast_responder", "Fast Responder", "Accepted 5 requests within an hour of posting", "⚡", "special", Condition{CondFastResponses, 5}},
	{"payment_master", "Payment Master", "Made 10 settled payments", "💳", "special", Condition{CondOnTimePayments, 10}},
	{"reliable_helper", "Reliable Helper", "Completed at least 95% of assigned requests", "✅", "special", Condition{CondCompletionRate, 0.95}},
}

var badgesByID = func() map[string]Badge {
	m := make(map[string]Badge, len(badgeCatalog))
	for _, b := range badgeCatalog {
		m[b.ID] = b
	}
	return m
}()

// Badges returns the badge catalog.
func Badges() []Badge {
	out := make([]Badge, len(badgeCatalog))
	copy(out, badgeCatalog)
	return out
}

// LookupBadge returns the catalog entry for id.
func LookupBadge(id string) (Badge, bool) {
	b, ok := badgesByID[id]
	return b, ok
}

// AchievementDef is a milestone tracked as progress.
type AchievementDef struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	MaxProgress int           `json:"maxProgress"`
	Source      ConditionType `json:"-"`
}

var achievementCatalog = []AchievementDef{
	{"helper_milestone_50", "Helping Hand", "Help 50 neighbors", "milestone", 50, CondCompletedHelps},
	{"requester_milestone_20", "Active Member", "Have 20 help requests completed", "milestone", 20, CondCompletedRequests},
	{"weekly_streak", "Weekly Active", "Be active for 7 consecutive days", "streak", 7, CondLoginStreak},
	{"perfect_rating", "Perfect Helper", "Maintain a 5.0 average rating", "quality", 100, CondFiveStarShare},
	{"community_builder", "Community Builder", "Invite 10 people to communities", "community", 10, CondInvitesAccepted},
}

// Stats are the history-derived figures badges are judged on. They are
// recomputed from requests, communities and the ledger on every
// evaluation, never read from credit totals.
type Stats struct {
	CompletedHelps     int
	AssignedHelps      int
	CompletedRequests  int
	CommunitiesCreated int
	BestCommunityRank  int // 0 when the user ranks in no community
	FastResponses      int
	OnTimePayments     int
	LoginStreak        int // longest run of consecutive UTC days with a login
	FiveStarShare      int // percent of helper ratings that were 5 stars
	InvitesAccepted    int
}

// CompletionRate is completed over assigned helps. ok is false below the
// minimum sample size.
func (s Stats) CompletionRate() (rate float64, ok bool) {
	if s.AssignedHelps < completionRateMinSample {
		return 0, false
	}
	return float64(s.CompletedHelps) / float64(s.AssignedHelps), true
}

func (s Stats) value(t ConditionType) int {
	switch t {
	case CondCompletedHelps:
		return s.CompletedHelps
	case CondCompletedRequests:
		return s.CompletedRequests
	case CondCommunitiesCreated:
		return s.CommunitiesCreated
	case CondFastResponses:
		return s.FastResponses
	case CondOnTimePayments:
		return s.OnTimePayments
	case CondLoginStreak:
		return s.LoginStreak
	case CondFiveStarShare:
		return s.FiveStarShare
	case CondInvitesAccepted:
		return s.InvitesAccepted
	}
	return 0
}

// longestDailyStreak returns the longest run of consecutive UTC calendar
// days among times. Several times on one day count once.
func longestDailyStreak(times []time.Time) int {
	best, run := 0, 0
	var last time.Time
	for i, t := range times {
		day := t.UTC().Truncate(24 * time.Hour)
		switch {
		case i > 0 && day.Equal(last):
			continue
		case i > 0 && day.Sub(last) == 24*time.Hour:
			run++
		default:
			run = 1
		}
		last = day
		best = max(best, run)
	}
	return best
}

// fiveStarShare is the percentage of ratings that were 5 stars, or 0 below
// the minimum sample size.
func fiveStarShare(fives, total int) int {
	if total < ratingMinSample {
		return 0
	}
	return fives * 100 / total
}

// Qualifies reports whether stats meet the badge's condition.
func (b Badge) Qualifies(s Stats) bool {
	switch b.Condition.Type {
	case CondCommunityRank:
		return s.BestCommunityRank > 0 && float64(s.BestCommunityRank) <= b.Condition.Threshold
	case CondCompletionRate:
		rate, ok := s.CompletionRate()
		return ok && rate >= b.Condition.Threshold
	default:
		return float64(s.value(b.Condition.Type)) >= b.Condition.Threshold
	}
}

// StatsProvider computes a user's Stats.
type StatsProvider interface {
	Stats(ctx context.Context, userID string) (Stats, error)
}
