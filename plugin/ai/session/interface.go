// Package session owns the active persona of a project and serializes
// persona switches.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/store"
)

// ErrClosed is returned by operations on a closed machine.
var ErrClosed = errors.New("persona state machine closed")

// HistoryEntry is one past activation of a persona.
type HistoryEntry struct {
	PersonaID     string    `json:"persona_id"`
	ActivatedAt   time.Time `json:"activated_at"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// State is the persona session state. An empty CurrentPersonaID is idle.
// History is append-only and ordered by activation time.
type State struct {
	SessionID        uuid.UUID      `json:"session_id"`
	ProjectKey       string         `json:"project_key"`
	CurrentPersonaID string         `json:"current_persona_id,omitempty"`
	ActivatedAt      time.Time      `json:"activated_at,omitempty"`
	History          []HistoryEntry `json:"history"`
}

// Idle reports whether no persona is active.
func (s State) Idle() bool {
	return s.CurrentPersonaID == ""
}

func (s State) clone() State {
	s.History = slices.Clone(s.History)
	if s.History == nil {
		s.History = []HistoryEntry{}
	}
	return s
}

// SwitchOptions describe why a switch was requested.
type SwitchOptions struct {
	Manual bool   `json:"manual"`
	Reason string `json:"reason,omitempty"`
}

// SwitchEvent is emitted after a switch has been committed.
type SwitchEvent struct {
	ID            string    `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	FromPersonaID string    `json:"from_persona_id,omitempty"`
	ToPersonaID   string    `json:"to_persona_id"`
	Manual        bool      `json:"manual"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// Applier prepares context for a persona. A failing Apply aborts the switch.
type Applier interface {
	Apply(ctx context.Context, p *persona.Persona) error
}

// StateStore persists the session state.
type StateStore interface {
	UpsertPersonaSession(ctx context.Context, upsert *store.PersonaSession) (*store.PersonaSession, error)
	GetPersonaSession(ctx context.Context, find *store.FindPersonaSession) (*store.PersonaSession, error)
}

// InvalidPersonaError is returned when switching to an unknown persona.
type InvalidPersonaError struct {
	PersonaID string
}

func (e *InvalidPersonaError) Error() string {
	return fmt.Sprintf("invalid persona %q", e.PersonaID)
}

// Is matches persona.ErrNotFound.
func (e *InvalidPersonaError) Is(target error) bool {
	return target == persona.ErrNotFound
}

// PersonaSwitchFailedError is returned when a switch was rolled back.
type PersonaSwitchFailedError struct {
	FromPersonaID string
	ToPersonaID   string
	Err           error
}

func (e *PersonaSwitchFailedError) Error() string {
	from := e.FromPersonaID
	if from == "" {
		from = "idle"
	}
	return fmt.Sprintf("switch from %s to %s failed: %v", from, e.ToPersonaID, e.Err)
}

func (e *PersonaSwitchFailedError) Unwrap() error {
	return e.Err
}
