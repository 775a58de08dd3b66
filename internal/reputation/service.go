package reputation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kindkart/kindkart/internal/community"
	"github.com/kindkart/kindkart/internal/events"
	"github.com/kindkart/kindkart/internal/ledger"
	"github.com/kindkart/kindkart/internal/logging"
	"github.com/kindkart/kindkart/internal/metrics"
	"github.com/kindkart/kindkart/internal/traces"
)

// Leaderboard bounds.
const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	topHelpersLimit         = 5
)

// Service applies credits and answers reputation queries.
type Service struct {
	store       Store
	stats       StatsProvider
	communities community.Store
	publisher   events.Publisher
	now         func() time.Time
}

// NewService creates a reputation service.
func NewService(store Store, stats StatsProvider, communities community.Store) *Service {
	return &Service{
		store:       store,
		stats:       stats,
		communities: communities,
		publisher:   events.Nop{},
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithPublisher sets where reputation events go.
func (s *Service) WithPublisher(p events.Publisher) *Service {
	if p != nil {
		s.publisher = p
	}
	return s
}

// EarnedBadge is a catalog badge together with when the user earned it.
type EarnedBadge struct {
	Badge
	EarnedAt time.Time `json:"earnedAt"`
	Context  string    `json:"context,omitempty"`
}

// ApplyCredit credits userID for a and then re-evaluates their badges and
// achievements. Evaluation failures are logged; the credit stands.
func (s *Service) ApplyCredit(ctx context.Context, userID string, a Action) (*Reputation, error) {
	return s.applyCredit(ctx, userID, a, "")
}

// applyCredit is ApplyCredit with an optional reference; a repeated
// (userID, action, ref) fails with ErrDuplicateCredit.
func (s *Service) applyCredit(ctx context.Context, userID string, a Action, ref string) (rep *Reputation, err error) {
	ctx, span := traces.StartSpan(ctx, "reputation.ApplyCredit", traces.UserID(userID), traces.Action(a.Key))
	defer func() {
		traces.RecordError(span, err)
		span.End()
	}()

	if userID == "" || a.Key == "" {
		return nil, ErrUnknownAction
	}

	rep, ev, err := s.store.ApplyCredit(ctx, userID, a.Key, ref, a.Category, int64(a.Points), s.now())
	if err != nil {
		return nil, fmt.Errorf("apply credit: %w", err)
	}
	sign := "positive"
	if ev.Points < 0 {
		sign = "negative"
	}
	metrics.CreditsAppliedTotal.WithLabelValues(string(a.Category), sign).Inc()

	logging.L(ctx).Info("credits applied",
		"user_id", userID, "action", a.Key, "points", ev.Points, "total", rep.TotalCredits, "level", rep.Level)
	s.publish(ctx, events.New(events.ReputationUpdated, userID, rep, userID))

	if _, err := s.Evaluate(ctx, userID); err != nil {
		logging.L(ctx).Error("failed to evaluate badges", "user_id", userID, "error", err)
	}
	return rep, nil
}

// RecordSettlement credits both parties of a settled payment. Credits are
// keyed by the transaction ID, so recording the same settlement again is a
// no-op.
func (s *Service) RecordSettlement(ctx context.Context, tx *ledger.Transaction) error {
	credits := []struct {
		userID string
		action Action
	}{
		{tx.PayeeID, HelperRequestCompleted},
		{tx.PayerID, RequesterRequestCompleted},
		{tx.PayerID, RequesterPaymentOnTime},
	}
	var errs []error
	for _, c := range credits {
		_, err := s.applyCredit(ctx, c.userID, c.action, tx.ID)
		if errors.Is(err, ErrDuplicateCredit) {
			logging.L(ctx).Debug("settlement already credited", "tx_id", tx.ID, "user_id", c.userID, "action", c.action.Key)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Evaluate recomputes the user's statistics, awards every badge they now
// qualify for and advances achievement progress. It returns newly awarded
// badges.
func (s *Service) Evaluate(ctx context.Context, userID string) ([]Badge, error) {
	st, err := s.stats.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("compute stats: %w", err)
	}

	now := s.now()
	var awarded []Badge
	for _, b := range badgeCatalog {
		if !b.Qualifies(st) {
			continue
		}
		inserted, err := s.store.AwardBadge(ctx, &BadgeAssignment{UserID: userID, BadgeID: b.ID, EarnedAt: now})
		if err != nil {
			return awarded, fmt.Errorf("award %s: %w", b.ID, err)
		}
		if inserted {
			awarded = append(awarded, b)
			s.badgeEarned(ctx, userID, b, now)
		}
	}

	for _, def := range achievementCatalog {
		_, err := s.store.UpsertAchievement(ctx, &Achievement{
			UserID:        userID,
			AchievementID: def.ID,
			Category:      def.Category,
			Progress:      min(st.value(def.Source), def.MaxProgress),
			MaxProgress:   def.MaxProgress,
			UpdatedAt:     now,
		})
		if err != nil {
			return awarded, fmt.Errorf("update achievement %s: %w", def.ID, err)
		}
	}
	return awarded, nil
}

// AwardBadge grants a catalog badge by hand.
func (s *Service) AwardBadge(ctx context.Context, userID, badgeID, note string) (*EarnedBadge, error) {
	b, ok := LookupBadge(badgeID)
	if !ok {
		return nil, ErrBadgeNotFound
	}
	now := s.now()
	inserted, err := s.store.AwardBadge(ctx, &BadgeAssignment{
		UserID:   userID,
		BadgeID:  badgeID,
		Context:  strings.TrimSpace(note),
		EarnedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("award badge: %w", err)
	}
	if !inserted {
		return nil, ErrBadgeAlreadyAwarded
	}
	s.badgeEarned(ctx, userID, b, now)
	return &EarnedBadge{Badge: b, EarnedAt: now, Context: strings.TrimSpace(note)}, nil
}

func (s *Service) badgeEarned(ctx context.Context, userID string, b Badge, at time.Time) {
	metrics.BadgesAwardedTotal.WithLabelValues(b.ID).Inc()
	logging.L(ctx).Info("badge earned", "user_id", userID, "badge", b.ID)
	s.publish(ctx, events.New(events.BadgeEarned, userID, EarnedBadge{Badge: b, EarnedAt: at}, userID))
}

// GetReputation returns the user's reputation, creating it on first read.
func (s *Service) GetReputation(ctx context.Context, userID string) (*Reputation, error) {
	return s.store.GetOrCreate(ctx, userID, s.now())
}

// GetBadges returns the user's badges with their catalog details.
func (s *Service) GetBadges(ctx context.Context, userID string) ([]EarnedBadge, error) {
	held, err := s.store.Badges(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]EarnedBadge, 0, len(held))
	for _, h := range held {
		b, ok := LookupBadge(h.BadgeID)
		if !ok {
			// retired from the catalog
			b = Badge{ID: h.BadgeID, Name: h.BadgeID}
		}
		out = append(out, EarnedBadge{Badge: b, EarnedAt: h.EarnedAt, Context: h.Context})
	}
	return out, nil
}

// GetAchievements returns the user's recorded achievement progress.
func (s *Service) GetAchievements(ctx context.Context, userID string) ([]*Achievement, error) {
	return s.store.Achievements(ctx, userID)
}

// LeaderboardType selects who is ranked.
type LeaderboardType string

const (
	LeaderboardOverall   LeaderboardType = "overall"
	LeaderboardCommunity LeaderboardType = "community"
)

// TimeRange selects the scoring window.
type TimeRange string

const (
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
	RangeAll   TimeRange = "all"
)

// LeaderboardQuery selects a leaderboard. Zero values take defaults.
type LeaderboardQuery struct {
	Type        LeaderboardType
	CommunityID string
	TimeRange   TimeRange
	Limit       int
}

func (q *LeaderboardQuery) normalize() error {
	if q.Type == "" {
		q.Type = LeaderboardOverall
	}
	if q.TimeRange == "" {
		q.TimeRange = RangeMonth
	}
	if q.Limit == 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	switch q.Type {
	case LeaderboardOverall:
	case LeaderboardCommunity:
		if q.CommunityID == "" {
			return fmt.Errorf("%w: communityId is required for community leaderboards", ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidQuery, q.Type)
	}
	switch q.TimeRange {
	case RangeWeek, RangeMonth, RangeAll:
	default:
		return fmt.Errorf("%w: unknown timeRange %q", ErrInvalidQuery, q.TimeRange)
	}
	if q.Limit < 1 || q.Limit > MaxLeaderboardLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxLeaderboardLimit)
	}
	return nil
}

// LeaderboardEntry is one ranked user. Badges is the number of badges held.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
	Rank   int    `json:"rank"`
	Level  int    `json:"level"`
	Badges int    `json:"badges"`
}

// Leaderboard ranks users by total credits (all time) or by points earned
// within the last week or month.
func (s *Service) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}

	var scope []string
	if q.Type == LeaderboardCommunity {
		members, err := s.communities.MemberIDs(ctx, q.CommunityID)
		if err != nil {
			if errors.Is(err, community.ErrNotFound) {
				return nil, ErrCommunityNotFound
			}
			return nil, fmt.Errorf("community members: %w", err)
		}
		if len(members) == 0 {
			return []LeaderboardEntry{}, nil
		}
		scope = members
	}

	var scores []Score
	levels := make(map[string]int)
	if q.TimeRange == RangeAll {
		reps, err := s.store.Top(ctx, scope, q.Limit)
		if err != nil {
			return nil, err
		}
		for _, r := range reps {
			scores = append(scores, Score{UserID: r.UserID, Points: r.TotalCredits})
			levels[r.UserID] = r.Level
		}
	} else {
		var err error
		scores, err = s.store.SumPointsSince(ctx, s.windowStart(q.TimeRange), scope, q.Limit)
		if err != nil {
			return nil, err
		}
		reps, err := s.store.ListByUsers(ctx, scoreUsers(scores))
		if err != nil {
			return nil, err
		}
		for _, r := range reps {
			levels[r.UserID] = r.Level
		}
	}

	counts, err := s.store.BadgeCounts(ctx, scoreUsers(scores))
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(scores))
	for i, sc := range scores {
		level := levels[sc.UserID]
		if level == 0 {
			level = 1
		}
		out = append(out, LeaderboardEntry{
			UserID: sc.UserID,
			Score:  sc.Points,
			Rank:   i + 1,
			Level:  level,
			Badges: counts[sc.UserID],
		})
	}
	return out, nil
}

func (s *Service) windowStart(r TimeRange) time.Time {
	days := 30
	if r == RangeWeek {
		days = 7
	}
	return s.now().AddDate(0, 0, -days)
}

func scoreUsers(scores []Score) []string {
	ids := make([]string, len(scores))
	for i, sc := range scores {
		ids[i] = sc.UserID
	}
	return ids
}

// CommunityStats aggregates member reputations for one community.
type CommunityStats struct {
	CommunityID    string        `json:"communityId"`
	MemberCount    int           `json:"memberCount"`
	TotalCredits   int64         `json:"totalCredits"`
	AverageCredits float64       `json:"averageCredits"`
	TopHelpers     []*Reputation `json:"topHelpers"`
}

// CommunityReputation sums member credits and lists the strongest helpers.
func (s *Service) CommunityReputation(ctx context.Context, communityID string) (*CommunityStats, error) {
	if _, err := s.communities.Get(ctx, communityID); err != nil {
		if errors.Is(err, community.ErrNotFound) {
			return nil, ErrCommunityNotFound
		}
		return nil, err
	}
	members, err := s.communities.MemberIDs(ctx, communityID)
	if err != nil {
		if errors.Is(err, community.ErrNotFound) {
			return nil, ErrCommunityNotFound
		}
		return nil, err
	}
	reps, err := s.store.ListByUsers(ctx, members)
	if err != nil {
		return nil, err
	}

	stats := &CommunityStats{CommunityID: communityID, MemberCount: len(members), TopHelpers: []*Reputation{}}
	for _, r := range reps {
		stats.TotalCredits += r.TotalCredits
	}
	if stats.MemberCount > 0 {
		stats.AverageCredits = float64(stats.TotalCredits) / float64(stats.MemberCount)
	}

	sortByHelperCredits(reps)
	for _, r := range reps {
		if len(stats.TopHelpers) == topHelpersLimit {
			break
		}
		stats.TopHelpers = append(stats.TopHelpers, r)
	}
	return stats, nil
}

func (s *Service) publish(ctx context.Context, e *events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		logging.L(ctx).Warn("failed to publish event", "type", e.Type, "key", e.Key, "error", err)
	}
}
