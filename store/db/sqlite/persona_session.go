package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/contextkit/store"
)

func (d *DB) UpsertPersonaSession(ctx context.Context, upsert *store.PersonaSession) (*store.PersonaSession, error) {
	if upsert == nil || upsert.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	history := upsert.History
	if history == "" {
		history = "[]"
	}
	now := time.Now().Unix()

	stmt := `
		INSERT INTO persona_session (session_id, project_key, current_persona_id, history, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			current_persona_id = excluded.current_persona_id,
			history = excluded.history,
			updated_ts = excluded.updated_ts
		RETURNING id, session_id, project_key, current_persona_id, history, created_ts, updated_ts
	`
	var s store.PersonaSession
	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.SessionID, upsert.ProjectKey, upsert.CurrentPersonaID, history, now, now,
	).Scan(&s.ID, &s.SessionID, &s.ProjectKey, &s.CurrentPersonaID, &s.History, &s.CreatedTs, &s.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert persona session")
	}
	return &s, nil
}

func (d *DB) GetPersonaSession(ctx context.Context, find *store.FindPersonaSession) (*store.PersonaSession, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}
	where, args := []string{"1 = 1"}, []any{}
	if v := find.SessionID; v != nil {
		where, args = append(where, "session_id = ?"), append(args, *v)
	}
	if v := find.ProjectKey; v != nil {
		where, args = append(where, "project_key = ?"), append(args, *v)
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, project_key, current_persona_id, history, created_ts, updated_ts
		FROM persona_session
		WHERE %s
		ORDER BY updated_ts DESC, id DESC
		LIMIT 1
	`, strings.Join(where, " AND "))

	var s store.PersonaSession
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.SessionID, &s.ProjectKey, &s.CurrentPersonaID, &s.History, &s.CreatedTs, &s.UpdatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get persona session")
	}
	return &s, nil
}

func (d *DB) DeletePersonaSession(ctx context.Context, delete *store.DeletePersonaSession) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM persona_session WHERE session_id = ?", delete.SessionID); err != nil {
		return errors.Wrap(err, "failed to delete persona session")
	}
	return nil
}
