package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockContext_MutualExclusion(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(ctx, "txn_1")
			if !assert.NoError(t, err) {
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestLockContext_GivesUpWhenContextEnds(t *testing.T) {
	m := NewContextShardedMutex()
	unlock, err := m.LockContext(context.Background(), "txn_1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.LockContext(ctx, "txn_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockContext_ReleaseHandsOver(t *testing.T) {
	m := NewContextShardedMutex()
	unlock, err := m.LockContext(context.Background(), "req_1|usr_1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(context.Background(), "req_1|usr_1")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second caller never acquired the released lock")
	}
}

func TestLockContext_SingleShardStillWorks(t *testing.T) {
	m := NewContextShardedMutexSize(0)
	unlock, err := m.LockContext(context.Background(), "a")
	require.NoError(t, err)
	unlock()
	unlock, err = m.LockContext(context.Background(), "b")
	require.NoError(t, err)
	unlock()
}
