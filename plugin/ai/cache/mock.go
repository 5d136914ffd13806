package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MockResourceCache is a map-backed ResourceCache for testing.
// Entries never expire and there is no capacity bound.
type MockResourceCache struct {
	mu    sync.RWMutex
	store map[Key][]byte
	stats Stats
}

// NewMockResourceCache creates a new MockResourceCache.
func NewMockResourceCache() *MockResourceCache {
	return &MockResourceCache{
		store: make(map[Key][]byte),
	}
}

// Get retrieves a value from cache.
func (m *MockResourceCache) Get(_ context.Context, key Key) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.store[key]
	if ok {
		m.stats.Hits++
	} else {
		m.stats.Misses++
	}
	return slices.Clone(v), ok
}

// Set stores a value in cache.
func (m *MockResourceCache) Set(_ context.Context, key Key, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = slices.Clone(value)
	return nil
}

// Invalidate removes matching entries.
func (m *MockResourceCache) Invalidate(_ context.Context, match func(Key) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for k := range m.store {
		if match(k) {
			delete(m.store, k)
			count++
		}
	}
	return count
}

// Stats returns the counters.
func (m *MockResourceCache) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.Size = len(m.store)
	return s
}

var _ ResourceCache = (*MockResourceCache)(nil)
