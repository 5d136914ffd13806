package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ServiceConfig configures the cache service.
type ServiceConfig struct {
	Capacity      int           // Maximum number of entries (default: 500)
	DefaultTTL    time.Duration // Lifetime of entries (default: 30 minutes)
	SweepInterval time.Duration // Interval for expired entry cleanup (default: 5 minutes)
	Logger        *slog.Logger
}

// DefaultServiceConfig returns default cache service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Capacity:      500,
		DefaultTTL:    30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// CacheCorruptionError reports a cached value that could not be decoded.
// It is logged and treated as a miss, never returned to callers of Get.
type CacheCorruptionError struct {
	Key Key
	Err error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Key, e.Err)
}

func (e *CacheCorruptionError) Unwrap() error {
	return e.Err
}

// SnapshotEntry is the exported form of a cache entry.
type SnapshotEntry struct {
	Key       Key       `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service implements ResourceCache with LRU eviction and a background sweep.
type Service struct {
	lru    *LRUCache
	group  singleflight.Group
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sweepInterval time.Duration
}

// NewService creates a new cache service and starts its sweep loop.
// Close must be called to stop it.
func NewService(cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		lru:           NewLRUCache(cfg.Capacity, cfg.DefaultTTL),
		logger:        cfg.Logger,
		ctx:           ctx,
		cancel:        cancel,
		sweepInterval: cfg.SweepInterval,
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s
}

// Close stops the sweep loop.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// LRU exposes the underlying cache.
func (s *Service) LRU() *LRUCache {
	return s.lru
}

// Get retrieves a value from cache.
func (s *Service) Get(_ context.Context, key Key) ([]byte, bool) {
	return s.lru.Get(key)
}

// Set stores a value in cache.
func (s *Service) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	s.lru.Set(key, value, ttl)
	return nil
}

// Invalidate removes entries matching the predicate.
func (s *Service) Invalidate(_ context.Context, match func(Key) bool) int {
	return s.lru.Invalidate(match)
}

// Stats returns the cache counters.
func (s *Service) Stats() Stats {
	return s.lru.Stats()
}

// Size returns the number of entries in the cache.
func (s *Service) Size() int {
	return s.lru.Size()
}

// Clear removes all entries from the cache.
func (s *Service) Clear() {
	s.lru.Clear()
}

// GetOrLoad returns the cached value or calls load once for all concurrent
// callers of the same key and caches its result.
func (s *Service) GetOrLoad(ctx context.Context, key Key, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := s.lru.Get(key); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		data, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.lru.Set(key, data, ttl)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetJSON decodes a cached value into v. A value that cannot be decoded is
// dropped and reported as a miss.
func (s *Service) GetJSON(ctx context.Context, key Key, v any) bool {
	data, ok := s.lru.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.corrupt(ctx, &CacheCorruptionError{Key: key, Err: err})
		s.lru.Invalidate(func(k Key) bool { return k == key })
		return false
	}
	return true
}

// SetJSON encodes v and stores it.
func (s *Service) SetJSON(_ context.Context, key Key, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	s.lru.Set(key, data, ttl)
	return nil
}

// Snapshot exports live entries as JSON.
func (s *Service) Snapshot() ([]byte, error) {
	return json.Marshal(s.lru.snapshot())
}

// Restore imports a snapshot produced by Snapshot. Expired entries are
// skipped; malformed entries are counted as corruption and skipped.
// Returns the number of entries restored.
func (s *Service) Restore(ctx context.Context, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.corrupt(ctx, &CacheCorruptionError{Err: err})
		return 0, nil
	}

	restored := 0
	for _, r := range raw {
		var se SnapshotEntry
		if err := json.Unmarshal(r, &se); err != nil {
			s.corrupt(ctx, &CacheCorruptionError{Err: err})
			continue
		}
		if se.Key == (Key{}) || se.ExpiresAt.IsZero() {
			s.corrupt(ctx, &CacheCorruptionError{Key: se.Key, Err: fmt.Errorf("incomplete entry")})
			continue
		}
		if s.lru.restore(se) {
			restored++
		}
	}
	return restored, nil
}

func (s *Service) corrupt(ctx context.Context, err *CacheCorruptionError) {
	s.lru.recordCorruption()
	s.logger.WarnContext(ctx, "cache entry discarded", "key", err.Key.String(), "error", err.Err)
}

// sweepLoop periodically removes expired entries.
func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.lru.CleanupExpired(); n > 0 {
				s.logger.Debug("cache sweep", "expired", n)
			}
		}
	}
}

var _ ResourceCache = (*Service)(nil)
