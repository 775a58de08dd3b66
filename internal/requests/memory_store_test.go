package requests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&HelpRequest{ID: "req_1", RequesterID: "alice", Status: StatusAssigned, Attachments: []string{"a.jpg"}})

	r, err := store.Get(context.Background(), "req_1")
	require.NoError(t, err)
	r.Attachments[0] = "mutated"
	r.Status = StatusCancelled

	again, err := store.Get(context.Background(), "req_1")
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", again.Attachments[0])
	assert.Equal(t, StatusAssigned, again.Status)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SetStatus(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&HelpRequest{ID: "req_1", Status: StatusAssigned})
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetStatus(context.Background(), "req_1", StatusCompleted, at))
	r, _ := store.Get(context.Background(), "req_1")
	assert.Equal(t, StatusCompleted, r.Status)
	require.NotNil(t, r.CompletedAt)
	assert.True(t, r.CompletedAt.Equal(at))

	assert.ErrorIs(t, store.SetStatus(context.Background(), "nope", StatusCompleted, at), ErrNotFound)
}

func TestMemoryStore_MarkCompletedAppendsProof(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&HelpRequest{ID: "req_1", Status: StatusInProgress})

	r, err := store.MarkCompleted(context.Background(), "req_1", "photo.jpg", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, []string{"photo.jpg"}, r.Attachments)

	r, err = store.MarkCompleted(context.Background(), "req_1", "  ", time.Now())
	require.NoError(t, err)
	assert.Len(t, r.Attachments, 1)
}

func TestMemoryStore_HelperStats(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fast := base.Add(30 * time.Minute)
	slow := base.Add(3 * time.Hour)

	store.Put(&HelpRequest{ID: "1", HelperID: "bob", Status: StatusCompleted, CreatedAt: base, AcceptedAt: &fast})
	store.Put(&HelpRequest{ID: "2", HelperID: "bob", Status: StatusCompleted, CreatedAt: base, AcceptedAt: &slow})
	store.Put(&HelpRequest{ID: "3", HelperID: "bob", Status: StatusCancelled, CreatedAt: base, AcceptedAt: &fast})
	store.Put(&HelpRequest{ID: "4", HelperID: "bob", Status: StatusOpen, CreatedAt: base})
	store.Put(&HelpRequest{ID: "5", HelperID: "carol", Status: StatusCompleted, CreatedAt: base})

	stats, err := store.HelperStats(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, HelperStats{Completed: 2, Assigned: 3, FastResponses: 2}, stats)

	counts, err := store.CompletedHelpsByUser(context.Background(), []string{"bob", "carol", "dave"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bob": 2, "carol": 1, "dave": 0}, counts)
}

func TestMemoryStore_CountCompletedAsRequester(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&HelpRequest{ID: "1", RequesterID: "alice", Status: StatusCompleted})
	store.Put(&HelpRequest{ID: "2", RequesterID: "alice", Status: StatusInProgress})

	n, err := store.CountCompletedAsRequester(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHelpRequest_IsParty(t *testing.T) {
	r := &HelpRequest{RequesterID: "alice", HelperID: "bob"}
	assert.True(t, r.IsParty("alice"))
	assert.True(t, r.IsParty("bob"))
	assert.False(t, r.IsParty("carol"))
	assert.False(t, (&HelpRequest{RequesterID: "alice"}).IsParty(""))
}
