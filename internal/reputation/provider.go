package reputation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kindkart/kindkart/internal/community"
	"github.com/kindkart/kindkart/internal/requests"
)

// PaymentCounter counts a payer's settled payments.
type PaymentCounter interface {
	CountSettledPayments(ctx context.Context, payerID string) (int, error)
}

// HistoryStats computes badge statistics from request, community and
// payment history.
type HistoryStats struct {
	requests    requests.Store
	communities community.Store
	payments    PaymentCounter
	store       Store
}

// NewHistoryStats wires a StatsProvider over the given stores. store is used
// to rank users within their communities and to read their credit history.
func NewHistoryStats(r requests.Store, c community.Store, p PaymentCounter, store Store) *HistoryStats {
	return &HistoryStats{requests: r, communities: c, payments: p, store: store}
}

var _ StatsProvider = (*HistoryStats)(nil)

func (h *HistoryStats) Stats(ctx context.Context, userID string) (Stats, error) {
	helper, err := h.requests.HelperStats(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("helper stats: %w", err)
	}
	asRequester, err := h.requests.CountCompletedAsRequester(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("requester stats: %w", err)
	}
	created, err := h.communities.CountCreatedBy(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("communities created: %w", err)
	}
	settled, err := h.payments.CountSettledPayments(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("settled payments: %w", err)
	}
	rank, err := h.bestCommunityRank(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	activity, err := h.activity(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		CompletedHelps:     helper.Completed,
		AssignedHelps:      helper.Assigned,
		CompletedRequests:  asRequester,
		CommunitiesCreated: created,
		BestCommunityRank:  rank,
		FastResponses:      helper.FastResponses,
		OnTimePayments:     settled,
		LoginStreak:        activity.LoginStreak,
		FiveStarShare:      activity.FiveStarShare,
		InvitesAccepted:    activity.InvitesAccepted,
	}, nil
}

var activityActions = []string{
	DailyLogin.Key, CommunityInviteAccepted.Key,
	HelperRated5.Key, HelperRated4.Key, HelperRated3.Key, HelperRated2.Key, HelperRated1.Key,
}

// activity derives the streak, rating and invite figures from the user's
// credit history. Events come back oldest first.
func (h *HistoryStats) activity(ctx context.Context, userID string) (Stats, error) {
	evs, err := h.store.CreditEvents(ctx, userID, activityActions)
	if err != nil {
		return Stats{}, fmt.Errorf("credit history: %w", err)
	}

	var st Stats
	var logins []time.Time
	fives, ratings := 0, 0
	for _, ev := range evs {
		switch ev.Action {
		case DailyLogin.Key:
			logins = append(logins, ev.CreatedAt)
		case CommunityInviteAccepted.Key:
			st.InvitesAccepted++
		case HelperRated5.Key:
			fives++
			ratings++
		default:
			ratings++
		}
	}
	st.LoginStreak = longestDailyStreak(logins)
	st.FiveStarShare = fiveStarShare(fives, ratings)
	return st, nil
}

// bestCommunityRank returns the user's best position by total credits across
// their communities. Users without credits are unranked.
func (h *HistoryStats) bestCommunityRank(ctx context.Context, userID string) (int, error) {
	ids, err := h.communities.CommunitiesOf(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list communities: %w", err)
	}

	best := 0
	for _, id := range ids {
		members, err := h.communities.MemberIDs(ctx, id)
		if err != nil {
			if errors.Is(err, community.ErrNotFound) {
				continue
			}
			return 0, fmt.Errorf("community members: %w", err)
		}
		reps, err := h.store.ListByUsers(ctx, members)
		if err != nil {
			return 0, fmt.Errorf("member reputations: %w", err)
		}
		if r := rankOf(reps, userID); r > 0 && (best == 0 || r < best) {
			best = r
		}
	}
	return best, nil
}

func rankOf(reps []*Reputation, userID string) int {
	sort.Slice(reps, func(i, j int) bool {
		if reps[i].TotalCredits != reps[j].TotalCredits {
			return reps[i].TotalCredits > reps[j].TotalCredits
		}
		return reps[i].UserID < reps[j].UserID
	})
	for i, r := range reps {
		if r.UserID == userID {
			if r.TotalCredits == 0 {
				return 0
			}
			return i + 1
		}
	}
	return 0
}

func sortByHelperCredits(reps []*Reputation) {
	sort.Slice(reps, func(i, j int) bool {
		if reps[i].HelperCredits != reps[j].HelperCredits {
			return reps[i].HelperCredits > reps[j].HelperCredits
		}
		return reps[i].UserID < reps[j].UserID
	})
}
