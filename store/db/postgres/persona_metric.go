package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/contextkit/store"
)

func (d *DB) CreatePersonaMetric(ctx context.Context, create *store.PersonaMetric) (*store.PersonaMetric, error) {
	stmt := `
		INSERT INTO persona_metric (project_key, persona_id, quality, duration_ms, token_efficiency, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.ProjectKey, create.PersonaID, create.Quality, create.DurationMs, create.TokenEfficiency, create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create persona metric")
	}
	return create, nil
}

func (d *DB) ListPersonaMetrics(ctx context.Context, find *store.FindPersonaMetric) ([]*store.PersonaMetric, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ProjectKey; v != nil {
		where, args = append(where, "project_key = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.PersonaID; v != nil {
		where, args = append(where, "persona_id = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := fmt.Sprintf(`
		SELECT id, project_key, persona_id, quality, duration_ms, token_efficiency, created_ts
		FROM persona_metric
		WHERE %s
		ORDER BY created_ts ASC, id ASC
	`, strings.Join(where, " AND "))
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list persona metrics")
	}
	defer rows.Close()

	list := []*store.PersonaMetric{}
	for rows.Next() {
		var m store.PersonaMetric
		if err := rows.Scan(&m.ID, &m.ProjectKey, &m.PersonaID, &m.Quality, &m.DurationMs, &m.TokenEfficiency, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan persona metric")
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

func (d *DB) DeletePersonaMetrics(ctx context.Context, delete *store.DeletePersonaMetric) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM persona_metric WHERE project_key = $1 AND created_ts < $2", delete.ProjectKey, delete.BeforeTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete persona metrics")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted persona metrics")
	}
	return n, nil
}
