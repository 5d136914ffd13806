package router

import (
	"context"
	"maps"
	"sync"
)

// MockTaskAnalyzer returns preset scores for testing.
type MockTaskAnalyzer struct {
	mu sync.Mutex
	// Scores are returned for every text unless an override matches.
	Scores map[string]float64
	// Overrides map a task text to its scores.
	Overrides map[string]map[string]float64
	// Err, when set, is returned from Analyze.
	Err   error
	Calls int
}

// NewMockTaskAnalyzer creates a mock returning scores.
func NewMockTaskAnalyzer(scores map[string]float64) *MockTaskAnalyzer {
	return &MockTaskAnalyzer{
		Scores:    scores,
		Overrides: make(map[string]map[string]float64),
	}
}

// Analyze returns the configured scores.
func (m *MockTaskAnalyzer) Analyze(_ context.Context, text string, _ Signals) (*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	scores := m.Scores
	if o, ok := m.Overrides[text]; ok {
		scores = o
	}
	scores = maps.Clone(scores)
	if scores == nil {
		scores = map[string]float64{}
	}

	ranked := Rank(scores)
	a := &Analysis{Keywords: Tokenize(text), Scores: scores, Ranked: ranked}
	if len(ranked) > 0 && ranked[0].Score > 0 {
		a.PrimaryPersonaID = ranked[0].PersonaID
	}
	return a, nil
}

var _ TaskAnalyzer = (*MockTaskAnalyzer)(nil)
