package usage

import (
	"context"
	"sort"
	"sync"

	"github.com/hrygo/contextkit/store"
)

// MockStore is an in-memory Store for testing.
type MockStore struct {
	mu     sync.Mutex
	rows   []*store.UsageRecord
	nextID int64
	// Err, when set, is returned by every method.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// CreateUsageRecord stores a row.
func (m *MockStore) CreateUsageRecord(_ context.Context, create *store.UsageRecord) (*store.UsageRecord, error) {
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

// ListUsageRecords returns matching rows, newest first.
func (m *MockStore) ListUsageRecords(_ context.Context, find *store.FindUsageRecord) ([]*store.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*store.UsageRecord
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := m.rows[i]
		if find.ProjectKey != nil && r.ProjectKey != *find.ProjectKey {
			continue
		}
		if find.PersonaID != nil && r.PersonaID != *find.PersonaID {
			continue
		}
		row := *r
		out = append(out, &row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedTs > out[j].CreatedTs })
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

// DeleteUsageRecords keeps only the newest rows of the project.
func (m *MockStore) DeleteUsageRecords(_ context.Context, del *store.DeleteUsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	seen := 0
	kept := make([]*store.UsageRecord, 0, len(m.rows))
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := m.rows[i]
		if r.ProjectKey == del.ProjectKey {
			seen++
			if del.KeepLatest > 0 && seen > del.KeepLatest {
				continue
			}
		}
		kept = append(kept, r)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	m.rows = kept
	return nil
}

// Len returns the number of stored rows.
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

var _ Store = (*MockStore)(nil)
