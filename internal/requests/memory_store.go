package requests

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory request store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*HelpRequest
}

// NewMemoryStore creates an empty in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*HelpRequest)}
}

// Put inserts or replaces a request.
func (m *MemoryStore) Put(r *HelpRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = clone(r)
}

func (m *MemoryStore) Get(_ context.Context, id string) (*HelpRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) GetMany(_ context.Context, ids []string) (map[string]*HelpRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*HelpRequest, len(ids))
	for _, id := range ids {
		if r, ok := m.requests[id]; ok {
			out[id] = clone(r)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = at
	if status == StatusCompleted && r.CompletedAt == nil {
		r.CompletedAt = &at
	}
	return nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id, proof string, at time.Time) (*HelpRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Status = StatusCompleted
	r.UpdatedAt = at
	if r.CompletedAt == nil {
		r.CompletedAt = &at
	}
	if proof = strings.TrimSpace(proof); proof != "" {
		r.Attachments = append(r.Attachments, proof)
	}
	return clone(r), nil
}

func (m *MemoryStore) HelperStats(_ context.Context, userID string) (HelperStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats HelperStats
	for _, r := range m.requests {
		if r.HelperID != userID || r.Status == StatusOpen {
			continue
		}
		stats.Assigned++
		if r.Status == StatusCompleted {
			stats.Completed++
		}
		if isFast(r) {
			stats.FastResponses++
		}
	}
	return stats, nil
}

func (m *MemoryStore) CountCompletedAsRequester(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.requests {
		if r.RequesterID == userID && r.Status == StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CompletedHelpsByUser(_ context.Context, userIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int, len(userIDs))
	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
		out[id] = 0
	}
	for _, r := range m.requests {
		if r.Status == StatusCompleted && wanted[r.HelperID] {
			out[r.HelperID]++
		}
	}
	return out, nil
}

func clone(r *HelpRequest) *HelpRequest {
	cp := *r
	if r.Attachments != nil {
		cp.Attachments = append([]string(nil), r.Attachments...)
	}
	return &cp
}
