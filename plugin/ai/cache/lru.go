package cache

import (
	"container/list"
	"slices"
	"sync"
	"time"
)

// entryOverhead approximates the per-entry bookkeeping cost in bytes.
const entryOverhead = 96

// LRUCache implements an LRU cache with TTL support.
// Expiry is fixed at insertion; reads never extend it.
type LRUCache struct {
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time
	mu         sync.Mutex

	cache map[Key]*entry
	order *list.List // front is most recently accessed

	hits, misses, evictions, expirations, corruptions int64
	memory                                            int64
}

type entry struct {
	key            Key
	value          []byte
	createdAt      time.Time
	lastAccessedAt time.Time
	expiresAt      time.Time
	element        *list.Element
}

func (e *entry) size() int64 {
	return int64(len(e.value)+len(e.key.Operation)+len(e.key.Kind)+len(e.key.Name)) + entryOverhead
}

// NewLRUCache creates a new LRU cache.
func NewLRUCache(capacity int, defaultTTL time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 500
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}

	return &LRUCache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        time.Now,
		cache:      make(map[Key]*entry),
		order:      list.New(),
	}
}

// SetClock replaces the time source. Used by tests.
func (c *LRUCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get retrieves a copy of a cached value.
func (c *LRUCache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		c.misses++
		return nil, false
	}

	now := c.now()
	if now.After(e.expiresAt) {
		c.removeEntry(e)
		c.expirations++
		c.misses++
		return nil, false
	}

	e.lastAccessedAt = now
	c.order.MoveToFront(e.element)
	c.hits++
	return slices.Clone(e.value), true
}

// Set stores a copy of value. An existing entry for the key is replaced.
func (c *LRUCache) Set(key Key, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.insert(&entry{
		key:            key,
		value:          slices.Clone(value),
		createdAt:      now,
		lastAccessedAt: now,
		expiresAt:      now.Add(ttl),
	})
}

// insert must be called with lock held.
func (c *LRUCache) insert(e *entry) {
	if old, ok := c.cache[e.key]; ok {
		c.removeEntry(old)
	}

	for len(c.cache) >= c.capacity {
		c.evictOldest()
	}

	e.element = c.order.PushFront(e)
	c.cache[e.key] = e
	c.memory += e.size()
}

// Invalidate removes entries whose key matches and returns the count.
func (c *LRUCache) Invalidate(match func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []*entry
	for key, e := range c.cache {
		if match(key) {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		c.removeEntry(e)
	}
	return len(toDelete)
}

// Size returns the number of entries in the cache.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Clear removes all entries from the cache. Counters are kept.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[Key]*entry)
	c.order.Init()
	c.memory = 0
}

// Stats returns a copy of the counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Corruptions: c.corruptions,
		Size:        len(c.cache),
		Capacity:    c.capacity,
		MemoryBytes: c.memory,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *LRUCache) recordCorruption() {
	c.mu.Lock()
	c.corruptions++
	c.mu.Unlock()
}

// evictOldest removes the least recently accessed entry.
// Must be called with lock held.
func (c *LRUCache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeEntry(oldest.Value.(*entry))
	c.evictions++
}

// removeEntry must be called with lock held.
func (c *LRUCache) removeEntry(e *entry) {
	c.order.Remove(e.element)
	delete(c.cache, e.key)
	c.memory -= e.size()
}

// CleanupExpired removes all expired entries.
// Returns the number of entries removed.
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []*entry
	now := c.now()
	for _, e := range c.cache {
		if now.After(e.expiresAt) {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		c.removeEntry(e)
	}
	c.expirations += int64(len(toDelete))
	return len(toDelete)
}

// snapshot returns live entries ordered from least to most recently accessed.
func (c *LRUCache) snapshot() []SnapshotEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]SnapshotEntry, 0, len(c.cache))
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if now.After(e.expiresAt) {
			continue
		}
		out = append(out, SnapshotEntry{
			Key:       e.key,
			Value:     slices.Clone(e.value),
			CreatedAt: e.createdAt,
			ExpiresAt: e.expiresAt,
		})
	}
	return out
}

// restore inserts a previously exported entry unless it has already expired.
func (c *LRUCache) restore(se SnapshotEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.After(se.ExpiresAt) {
		return false
	}
	c.insert(&entry{
		key:            se.Key,
		value:          slices.Clone(se.Value),
		createdAt:      se.CreatedAt,
		lastAccessedAt: now,
		expiresAt:      se.ExpiresAt,
	})
	return true
}
