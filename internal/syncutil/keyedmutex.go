// Package syncutil holds locking helpers shared across the service.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per key using a fixed pool of shards, so memory
// stays bounded however many keys are seen. Keys that share a shard also
// share the lock. Waiting honours context cancellation.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex returns an unlocked KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock blocks until the key's shard is free or ctx is done. On success the
// caller must call the returned unlock exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	ch := m.shards[shardFor(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
