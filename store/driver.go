package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// PersonaSession model related methods.
	UpsertPersonaSession(ctx context.Context, upsert *PersonaSession) (*PersonaSession, error)
	GetPersonaSession(ctx context.Context, find *FindPersonaSession) (*PersonaSession, error)
	DeletePersonaSession(ctx context.Context, delete *DeletePersonaSession) error

	// UsageRecord model related methods.
	CreateUsageRecord(ctx context.Context, create *UsageRecord) (*UsageRecord, error)
	ListUsageRecords(ctx context.Context, find *FindUsageRecord) ([]*UsageRecord, error)
	DeleteUsageRecords(ctx context.Context, delete *DeleteUsageRecord) error

	// PersonaMetric model related methods.
	CreatePersonaMetric(ctx context.Context, create *PersonaMetric) (*PersonaMetric, error)
	ListPersonaMetrics(ctx context.Context, find *FindPersonaMetric) ([]*PersonaMetric, error)
	DeletePersonaMetrics(ctx context.Context, delete *DeletePersonaMetric) (int64, error)

	// CacheSnapshot model related methods.
	UpsertCacheSnapshot(ctx context.Context, upsert *CacheSnapshot) (*CacheSnapshot, error)
	GetCacheSnapshot(ctx context.Context, find *FindCacheSnapshot) (*CacheSnapshot, error)
}
