package resource

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MockStorage is an in-memory Storage for testing.
type MockStorage struct {
	mu    sync.Mutex
	data  map[string]string
	reads int
	// Err, when set, is returned by every read.
	Err error
}

// NewMockStorage creates a new MockStorage.
func NewMockStorage() *MockStorage {
	return &MockStorage{data: make(map[string]string)}
}

// Put stores a resource.
func (m *MockStorage) Put(kind, name, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[kind+"/"+name] = content
}

// ReadResource returns the stored resource or ErrNotFound.
func (m *MockStorage) ReadResource(_ context.Context, kind, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.data[kind+"/"+name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", kind, name)
	}
	return []byte(s), nil
}

// Reads returns the number of ReadResource calls.
func (m *MockStorage) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

var _ Storage = (*MockStorage)(nil)
