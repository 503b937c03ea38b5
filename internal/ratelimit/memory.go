// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

// MemoryStore keeps windows in process memory, split across mutex shards so
// unrelated keys do not contend. Suitable for single-instance deployments
// and as the test backend.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &memoryShard{windows: make(map[string]*memoryWindow)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key)) //nolint:errcheck // hash writes never fail
	return m.shards[h.Sum32()%memoryShards]
}

// Increment implements Store.
func (m *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Cleanup implements Store.
func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s.mu.Lock()
		now := m.now()
		for key, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked windows.
func (m *MemoryStore) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Name implements Store.
func (m *MemoryStore) Name() string { return "memory" }
