// Package syncutil provides keyed locks that give up when the caller's
// context ends.
package syncutil

import (
	"context"
	"hash/maphash"
)

const defaultShards = 128

// ContextShardedMutex serializes work per string key using a fixed pool of
// locks. Unrelated keys may share a lock; memory stays bounded no matter
// how many keys are seen.
type ContextShardedMutex struct {
	seed   maphash.Seed
	shards []chan struct{}
}

// NewContextShardedMutex creates a keyed mutex with the default pool size.
func NewContextShardedMutex() *ContextShardedMutex {
	return NewContextShardedMutexSize(defaultShards)
}

// NewContextShardedMutexSize creates a keyed mutex with n locks.
func NewContextShardedMutexSize(n int) *ContextShardedMutex {
	if n < 1 {
		n = 1
	}
	m := &ContextShardedMutex{seed: maphash.MakeSeed(), shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// LockContext blocks until the lock for key is held or ctx is done. The
// returned func releases the lock and must be called exactly once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	slot := m.shards[maphash.String(m.seed, key)%uint64(len(m.shards))]
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
