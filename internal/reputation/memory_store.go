package reputation

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kindkart/kindkart/internal/idgen"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	reps         map[string]*Reputation
	events       []*CreditEvent
	refs         map[string]bool               // user|action|ref of referenced events
	badges       map[string][]*BadgeAssignment // by user, in award order
	achievements map[string]map[string]*Achievement
}

// NewMemoryStore creates an empty in-memory reputation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reps:         make(map[string]*Reputation),
		refs:         make(map[string]bool),
		badges:       make(map[string][]*BadgeAssignment),
		achievements: make(map[string]map[string]*Achievement),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) GetOrCreate(_ context.Context, userID string, at time.Time) (*Reputation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *m.getOrCreateLocked(userID, at)
	return &cp, nil
}

func (m *MemoryStore) getOrCreateLocked(userID string, at time.Time) *Reputation {
	r, ok := m.reps[userID]
	if !ok {
		r = newReputation(userID, at)
		m.reps[userID] = r
	}
	return r
}

func (m *MemoryStore) ApplyCredit(_ context.Context, userID, action, ref string, cat Category, points int64, at time.Time) (*Reputation, *CreditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	refKey := userID + "|" + action + "|" + ref
	if ref != "" && m.refs[refKey] {
		return nil, nil, ErrDuplicateCredit
	}

	r := m.getOrCreateLocked(userID, at)
	delta := r.apply(cat, points, at)
	ev := &CreditEvent{
		ID:        idgen.WithPrefix("crd_"),
		UserID:    userID,
		Action:    action,
		Reference: ref,
		Category:  cat,
		Points:    delta,
		CreatedAt: at,
	}
	m.events = append(m.events, ev)
	if ref != "" {
		m.refs[refKey] = true
	}

	rc, ec := *r, *ev
	return &rc, &ec, nil
}

func (m *MemoryStore) ListByUsers(_ context.Context, userIDs []string) ([]*Reputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Reputation
	for _, id := range userIDs {
		if r, ok := m.reps[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Top(_ context.Context, userIDs []string, limit int) ([]*Reputation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Reputation
	for id, r := range m.reps {
		if userIDs != nil && !slices.Contains(userIDs, id) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCredits != out[j].TotalCredits {
			return out[i].TotalCredits > out[j].TotalCredits
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SumPointsSince(_ context.Context, since time.Time, userIDs []string, limit int) ([]Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := make(map[string]int64)
	for _, ev := range m.events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		if userIDs != nil && !slices.Contains(userIDs, ev.UserID) {
			continue
		}
		sums[ev.UserID] += ev.Points
	}

	out := make([]Score, 0, len(sums))
	for id, pts := range sums {
		out = append(out, Score{UserID: id, Points: pts})
	}
	sortScores(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortScores(s []Score) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Points != s[j].Points {
			return s[i].Points > s[j].Points
		}
		return s[i].UserID < s[j].UserID
	})
}

func (m *MemoryStore) CreditEvents(_ context.Context, userID string, actions []string) ([]*CreditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*CreditEvent
	for _, ev := range m.events {
		if ev.UserID == userID && slices.Contains(actions, ev.Action) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AwardBadge(_ context.Context, a *BadgeAssignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, held := range m.badges[a.UserID] {
		if held.BadgeID == a.BadgeID {
			return false, nil
		}
	}
	cp := *a
	m.badges[a.UserID] = append(m.badges[a.UserID], &cp)
	return true, nil
}

func (m *MemoryStore) Badges(_ context.Context, userID string) ([]*BadgeAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*BadgeAssignment, 0, len(m.badges[userID]))
	for _, b := range m.badges[userID] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) BadgeCounts(_ context.Context, userIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int, len(userIDs))
	for _, id := range userIDs {
		out[id] = len(m.badges[id])
	}
	return out, nil
}

func (m *MemoryStore) UpsertAchievement(_ context.Context, a *Achievement) (*Achievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.achievements[a.UserID]
	if !ok {
		byID = make(map[string]*Achievement)
		m.achievements[a.UserID] = byID
	}
	cur, ok := byID[a.AchievementID]
	if !ok {
		cp := *a
		cp.Completed = cp.Progress >= cp.MaxProgress
		byID[a.AchievementID] = &cp
		out := cp
		return &out, nil
	}
	if a.Progress > cur.Progress {
		cur.Progress = a.Progress
		cur.UpdatedAt = a.UpdatedAt
	}
	cur.Completed = cur.Completed || cur.Progress >= cur.MaxProgress
	out := *cur
	return &out, nil
}

func (m *MemoryStore) Achievements(_ context.Context, userID string) ([]*Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Achievement, 0, len(m.achievements[userID]))
	for _, a := range m.achievements[userID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}
