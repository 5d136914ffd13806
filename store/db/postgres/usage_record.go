package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/contextkit/store"
)

func (d *DB) CreateUsageRecord(ctx context.Context, create *store.UsageRecord) (*store.UsageRecord, error) {
	fields := []string{"uid", "project_key", "persona_id", "original_tokens", "context_tokens", "total_tokens", "alert_level", "created_ts"}
	args := []any{create.UID, create.ProjectKey, create.PersonaID, create.OriginalTokens, create.ContextTokens, create.TotalTokens, create.AlertLevel, create.CreatedTs}
	stmt := "INSERT INTO usage_record (" + strings.Join(fields, ", ") + ") VALUES (" + placeholders(len(args)) + ") RETURNING id"
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create usage record")
	}
	return create, nil
}

func (d *DB) ListUsageRecords(ctx context.Context, find *store.FindUsageRecord) ([]*store.UsageRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ProjectKey; v != nil {
		where, args = append(where, "project_key = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.PersonaID; v != nil {
		where, args = append(where, "persona_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SinceTs; v != nil {
		where, args = append(where, "created_ts >= "+placeholder(len(args)+1)), append(args, *v)
	}

	query := fmt.Sprintf(`
		SELECT id, uid, project_key, persona_id, original_tokens, context_tokens, total_tokens, alert_level, created_ts
		FROM usage_record
		WHERE %s
		ORDER BY created_ts DESC, id DESC
	`, strings.Join(where, " AND "))
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list usage records")
	}
	defer rows.Close()

	list := []*store.UsageRecord{}
	for rows.Next() {
		var r store.UsageRecord
		if err := rows.Scan(
			&r.ID, &r.UID, &r.ProjectKey, &r.PersonaID,
			&r.OriginalTokens, &r.ContextTokens, &r.TotalTokens,
			&r.AlertLevel, &r.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan usage record")
		}
		list = append(list, &r)
	}
	return list, rows.Err()
}

func (d *DB) DeleteUsageRecords(ctx context.Context, delete *store.DeleteUsageRecord) error {
	if delete.KeepLatest <= 0 {
		return errors.New("keep latest must be positive")
	}
	stmt := `
		DELETE FROM usage_record
		WHERE project_key = $1 AND id NOT IN (
			SELECT id FROM usage_record
			WHERE project_key = $1
			ORDER BY created_ts DESC, id DESC
			LIMIT $2
		)
	`
	if _, err := d.db.ExecContext(ctx, stmt, delete.ProjectKey, delete.KeepLatest); err != nil {
		return errors.Wrap(err, "failed to prune usage records")
	}
	return nil
}
