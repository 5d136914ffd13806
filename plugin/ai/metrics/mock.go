package metrics

import (
	"context"
	"sync"

	"github.com/hrygo/contextkit/store"
)

// MockStore is an in-memory Store for testing.
type MockStore struct {
	mu     sync.Mutex
	rows   []*store.PersonaMetric
	nextID int64
	// Err, when set, is returned by every method.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// CreatePersonaMetric stores a row.
func (m *MockStore) CreatePersonaMetric(_ context.Context, create *store.PersonaMetric) (*store.PersonaMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.nextID++
	row := *create
	row.ID = m.nextID
	m.rows = append(m.rows, &row)
	return &row, nil
}

// ListPersonaMetrics returns matching rows.
func (m *MockStore) ListPersonaMetrics(_ context.Context, find *store.FindPersonaMetric) ([]*store.PersonaMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*store.PersonaMetric
	for _, r := range m.rows {
		if find.ProjectKey != nil && r.ProjectKey != *find.ProjectKey {
			continue
		}
		if find.PersonaID != nil && r.PersonaID != *find.PersonaID {
			continue
		}
		row := *r
		out = append(out, &row)
	}
	return out, nil
}

// DeletePersonaMetrics removes rows created before the cutoff.
func (m *MockStore) DeletePersonaMetrics(_ context.Context, del *store.DeletePersonaMetric) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if r.ProjectKey == del.ProjectKey && r.CreatedTs < del.BeforeTs {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

var _ Store = (*MockStore)(nil)
