package session

import (
	"context"
	"sync"

	"github.com/hrygo/contextkit/plugin/ai/persona"
	"github.com/hrygo/contextkit/store"
)

// MockApplier records applied personas.
type MockApplier struct {
	mu      sync.Mutex
	applied []string
	// Fail maps persona ids to the error Apply returns for them.
	Fail map[string]error
}

// NewMockApplier creates a new MockApplier.
func NewMockApplier() *MockApplier {
	return &MockApplier{Fail: make(map[string]error)}
}

// Apply records p unless a failure is configured for it.
func (m *MockApplier) Apply(_ context.Context, p *persona.Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail[p.ID]; err != nil {
		return err
	}
	m.applied = append(m.applied, p.ID)
	return nil
}

// Applied returns the applied persona ids in order.
func (m *MockApplier) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

// MockStateStore is an in-memory StateStore for testing.
type MockStateStore struct {
	mu       sync.Mutex
	sessions map[string]*store.PersonaSession
	nextID   int64
	ts       int64
	// Err, when set, is returned by every method.
	Err     error
	Upserts int
}

// NewMockStateStore creates a new MockStateStore.
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{sessions: make(map[string]*store.PersonaSession)}
}

// UpsertPersonaSession stores a copy of upsert.
func (m *MockStateStore) UpsertPersonaSession(_ context.Context, upsert *store.PersonaSession) (*store.PersonaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Upserts++
	m.ts++
	row := *upsert
	if prev, ok := m.sessions[row.SessionID]; ok {
		row.ID, row.CreatedTs = prev.ID, prev.CreatedTs
	} else {
		m.nextID++
		row.ID, row.CreatedTs = m.nextID, m.ts
	}
	row.UpdatedTs = m.ts
	m.sessions[row.SessionID] = &row
	out := row
	return &out, nil
}

// GetPersonaSession returns the most recently updated matching session.
func (m *MockStateStore) GetPersonaSession(_ context.Context, find *store.FindPersonaSession) (*store.PersonaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var latest *store.PersonaSession
	for _, s := range m.sessions {
		if find.SessionID != nil && s.SessionID != *find.SessionID {
			continue
		}
		if find.ProjectKey != nil && s.ProjectKey != *find.ProjectKey {
			continue
		}
		if latest == nil || s.UpdatedTs > latest.UpdatedTs {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

var (
	_ Applier    = (*MockApplier)(nil)
	_ StateStore = (*MockStateStore)(nil)
)
