package community

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory community store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	communities map[string]*Community
	members     map[string]map[string]bool // community -> user set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		communities: make(map[string]*Community),
		members:     make(map[string]map[string]bool),
	}
}

// Put inserts or replaces a community. The creator is added as a member.
func (m *MemoryStore) Put(c *Community) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.communities[c.ID] = &cp
	m.addMemberLocked(c.ID, c.CreatorID)
}

// AddMember records an approved membership.
func (m *MemoryStore) AddMember(communityID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addMemberLocked(communityID, userID)
}

func (m *MemoryStore) addMemberLocked(communityID, userID string) {
	if userID == "" {
		return
	}
	set, ok := m.members[communityID]
	if !ok {
		set = make(map[string]bool)
		m.members[communityID] = set
	}
	set[userID] = true
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.communities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CountCreatedBy(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.communities {
		if c.CreatorID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MemberIDs(_ context.Context, communityID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.communities[communityID]; !ok {
		return nil, ErrNotFound
	}
	ids := make([]string, 0, len(m.members[communityID]))
	for id := range m.members[communityID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CommunitiesOf(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for cid, set := range m.members {
		if set[userID] {
			ids = append(ids, cid)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
