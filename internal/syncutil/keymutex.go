// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyMutex is a fixed pool of channel-based mutexes keyed by string, with
// context-aware acquisition. The reconciliation engine uses one to
// guarantee at most one in-flight transition per deal id: memory stays
// bounded no matter how many deal ids are seen, at the cost of occasional
// false sharing between ids that hash to the same shard.
type KeyMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewKeyMutex creates a keyed mutex with all shards unlocked.
func NewKeyMutex() *KeyMutex {
	m := &KeyMutex{}
	m.init()
	return m
}

func (m *KeyMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock acquires the mutex for key, giving up if ctx is cancelled while
// waiting. On success it returns the unlock function, which the caller
// must invoke exactly once.
func (m *KeyMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
