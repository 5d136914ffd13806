package resource

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/contextkit/plugin/ai/cache"
)

// OpRead is the cache operation under which resource reads are stored.
const OpRead = "read"

// Loader serves resources through the resource cache.
type Loader struct {
	storage Storage
	cache   *cache.Service
	ttl     time.Duration
	logger  *slog.Logger
}

// NewLoader creates a loader. A zero ttl uses the cache default.
func NewLoader(storage Storage, c *cache.Service, ttl time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{storage: storage, cache: c, ttl: ttl, logger: logger}
}

// Load returns the resource, reading storage only on a cache miss.
// Missing resources are not cached.
func (l *Loader) Load(ctx context.Context, kind, name string) (string, error) {
	key := cache.Key{Operation: OpRead, Kind: kind, Name: name}
	data, err := l.cache.GetOrLoad(ctx, key, l.ttl, func(ctx context.Context) ([]byte, error) {
		l.logger.DebugContext(ctx, "resource cache miss", "key", key.String())
		return l.storage.ReadResource(ctx, kind, name)
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LoadOptional is Load with a missing resource reported as ok=false.
func (l *Loader) LoadOptional(ctx context.Context, kind, name string) (string, bool, error) {
	s, err := l.Load(ctx, kind, name)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// Invalidate drops cached resources of kind, or all resources when kind is empty.
func (l *Loader) Invalidate(ctx context.Context, kind string) int {
	return l.cache.Invalidate(ctx, func(k cache.Key) bool {
		return k.Operation == OpRead && (kind == "" || k.Kind == kind)
	})
}
