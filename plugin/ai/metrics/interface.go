// Package metrics keeps per-persona session performance and derives the
// historical effectiveness used to re-weight persona scores.
package metrics

import (
	"context"
	"time"

	"github.com/hrygo/contextkit/store"
)

// SessionRecord is the outcome of one session with a persona.
type SessionRecord struct {
	PersonaID       string        `json:"persona_id"`
	Quality         float64       `json:"quality"` // [0,1]
	Duration        time.Duration `json:"duration"`
	TokenEfficiency float64       `json:"token_efficiency"`
	RecordedAt      time.Time     `json:"recorded_at"`
}

// PersonaSummary aggregates the records of one persona.
type PersonaSummary struct {
	PersonaID          string        `json:"persona_id"`
	Sessions           int           `json:"sessions"`
	AvgQuality         float64       `json:"avg_quality"`
	AvgTokenEfficiency float64       `json:"avg_token_efficiency"`
	DurationP50        time.Duration `json:"duration_p50"`
	DurationP95        time.Duration `json:"duration_p95"`
	Effectiveness      float64       `json:"effectiveness"`
	LastRecordedAt     time.Time     `json:"last_recorded_at"`
}

// Reweighter adjusts analyzer scores using historical effectiveness.
// Consumers: persona state machine.
type Reweighter interface {
	Reweight(scores map[string]float64) map[string]float64
}

// Store persists session records.
type Store interface {
	CreatePersonaMetric(ctx context.Context, create *store.PersonaMetric) (*store.PersonaMetric, error)
	ListPersonaMetrics(ctx context.Context, find *store.FindPersonaMetric) ([]*store.PersonaMetric, error)
	DeletePersonaMetrics(ctx context.Context, delete *store.DeletePersonaMetric) (int64, error)
}
