package store

import (
	"context"

	"github.com/hrygo/contextkit/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) UpsertPersonaSession(ctx context.Context, upsert *PersonaSession) (*PersonaSession, error) {
	return s.driver.UpsertPersonaSession(ctx, upsert)
}

// GetPersonaSession returns nil without error when no session matches.
func (s *Store) GetPersonaSession(ctx context.Context, find *FindPersonaSession) (*PersonaSession, error) {
	return s.driver.GetPersonaSession(ctx, find)
}

func (s *Store) DeletePersonaSession(ctx context.Context, delete *DeletePersonaSession) error {
	return s.driver.DeletePersonaSession(ctx, delete)
}

func (s *Store) CreateUsageRecord(ctx context.Context, create *UsageRecord) (*UsageRecord, error) {
	return s.driver.CreateUsageRecord(ctx, create)
}

func (s *Store) ListUsageRecords(ctx context.Context, find *FindUsageRecord) ([]*UsageRecord, error) {
	return s.driver.ListUsageRecords(ctx, find)
}

func (s *Store) DeleteUsageRecords(ctx context.Context, delete *DeleteUsageRecord) error {
	return s.driver.DeleteUsageRecords(ctx, delete)
}

func (s *Store) CreatePersonaMetric(ctx context.Context, create *PersonaMetric) (*PersonaMetric, error) {
	return s.driver.CreatePersonaMetric(ctx, create)
}

func (s *Store) ListPersonaMetrics(ctx context.Context, find *FindPersonaMetric) ([]*PersonaMetric, error) {
	return s.driver.ListPersonaMetrics(ctx, find)
}

func (s *Store) DeletePersonaMetrics(ctx context.Context, delete *DeletePersonaMetric) (int64, error) {
	return s.driver.DeletePersonaMetrics(ctx, delete)
}

func (s *Store) UpsertCacheSnapshot(ctx context.Context, upsert *CacheSnapshot) (*CacheSnapshot, error) {
	return s.driver.UpsertCacheSnapshot(ctx, upsert)
}

// GetCacheSnapshot returns nil without error when the project has no snapshot.
func (s *Store) GetCacheSnapshot(ctx context.Context, find *FindCacheSnapshot) (*CacheSnapshot, error) {
	return s.driver.GetCacheSnapshot(ctx, find)
}
