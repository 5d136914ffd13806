// Package cache provides the resource cache used by the context engine.
// Entries are keyed by (operation, kind, name) and bounded by LRU eviction
// and a fixed TTL.
package cache

import (
	"context"
	"strings"
	"time"
)

// Key identifies a cached resource.
type Key struct {
	Operation string
	Kind      string
	Name      string
}

// String returns the "operation:kind:name" form of the key.
func (k Key) String() string {
	return strings.Join([]string{k.Operation, k.Kind, k.Name}, ":")
}

// ResourceCache defines the resource cache interface.
// Consumers: resource loader, context assembler.
type ResourceCache interface {
	// Get retrieves a value from cache.
	// Returns: value, whether it exists and has not expired
	Get(ctx context.Context, key Key) ([]byte, bool)

	// Set stores a value in cache.
	// ttl: lifetime counted from insertion, zero means the default TTL
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error

	// Invalidate removes every entry whose key matches and returns the count.
	Invalidate(ctx context.Context, match func(Key) bool) int

	// Stats returns a copy of the cache counters.
	Stats() Stats
}

// Stats reports cache usage.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Corruptions int64   `json:"corruptions"`
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	MemoryBytes int64   `json:"memory_bytes"`
	HitRate     float64 `json:"hit_rate"`
}

// MatchKind matches keys of the given resource kind.
func MatchKind(kind string) func(Key) bool {
	return func(k Key) bool { return k.Kind == kind }
}

// MatchOperation matches keys of the given operation.
func MatchOperation(op string) func(Key) bool {
	return func(k Key) bool { return k.Operation == op }
}

// MatchAll matches every key.
func MatchAll(Key) bool { return true }
