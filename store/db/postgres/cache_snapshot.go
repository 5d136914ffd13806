package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/contextkit/store"
)

func (d *DB) UpsertCacheSnapshot(ctx context.Context, upsert *store.CacheSnapshot) (*store.CacheSnapshot, error) {
	stmt := `
		INSERT INTO cache_snapshot (project_key, payload, entry_count, updated_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			entry_count = EXCLUDED.entry_count,
			updated_ts = EXCLUDED.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.ProjectKey, upsert.Payload, upsert.EntryCount, upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert cache snapshot")
	}
	return upsert, nil
}

func (d *DB) GetCacheSnapshot(ctx context.Context, find *store.FindCacheSnapshot) (*store.CacheSnapshot, error) {
	var s store.CacheSnapshot
	err := d.db.QueryRowContext(ctx,
		"SELECT project_key, payload, entry_count, updated_ts FROM cache_snapshot WHERE project_key = $1",
		find.ProjectKey,
	).Scan(&s.ProjectKey, &s.Payload, &s.EntryCount, &s.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get cache snapshot")
	}
	return &s, nil
}
