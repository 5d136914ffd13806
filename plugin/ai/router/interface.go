// Package router scores task descriptions against personas.
package router

import (
	"context"
)

// TaskAnalyzer scores a task description against every known persona.
// Consumers: persona state machine, engine facade.
type TaskAnalyzer interface {
	// Analyze extracts keywords from text and scores each persona.
	Analyze(ctx context.Context, text string, signals Signals) (*Analysis, error)
}

// Signals carries project state that contextual boosts can inspect.
type Signals struct {
	ErrorState  bool     `json:"error_state"`
	RecentFiles []string `json:"recent_files,omitempty"`
}

// TaskScore is the score of one persona for a task.
type TaskScore struct {
	PersonaID string  `json:"persona_id"`
	Score     float64 `json:"score"`
}

// Analysis is the result of scoring a task.
type Analysis struct {
	Keywords []string           `json:"keywords"`
	Scores   map[string]float64 `json:"scores"`
	// Ranked holds every persona from best to worst, ties broken by
	// persona.DefaultPriority then id.
	Ranked []TaskScore `json:"ranked"`
	// PrimaryPersonaID is empty when no persona scored above zero.
	PrimaryPersonaID string `json:"primary_persona_id"`
}

// Score returns the score of personaID, zero if unknown.
func (a *Analysis) Score(personaID string) float64 {
	if a == nil {
		return 0
	}
	return a.Scores[personaID]
}
