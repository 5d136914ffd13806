package persona

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemoryCatalog is an in-memory Catalog. It is safe for concurrent use and
// can be replaced atomically, which FileCatalog relies on for reloads.
type MemoryCatalog struct {
	mu       sync.RWMutex
	personas map[string]*Persona
}

// NewMemoryCatalog creates a catalog from the given personas.
// When an id repeats, the highest version wins; equal versions keep the later one.
func NewMemoryCatalog(personas ...*Persona) (*MemoryCatalog, error) {
	c := &MemoryCatalog{}
	if err := c.Replace(personas); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace validates personas and swaps them in. The catalog is untouched on
// error.
func (c *MemoryCatalog) Replace(personas []*Persona) error {
	next := make(map[string]*Persona, len(personas))
	for _, p := range personas {
		if err := p.Validate(); err != nil {
			return err
		}
		if cur, ok := next[p.ID]; ok && Newer(cur.Version, p.Version) {
			continue
		}
		next[p.ID] = p.Clone()
	}

	c.mu.Lock()
	c.personas = next
	c.mu.Unlock()
	return nil
}

// GetAll returns copies of every persona ordered by id.
func (c *MemoryCatalog) GetAll(_ context.Context) ([]*Persona, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Persona, 0, len(c.personas))
	for _, p := range c.personas {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b *Persona) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Get returns a copy of the persona with id.
func (c *MemoryCatalog) Get(_ context.Context, id string) (*Persona, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.personas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.Clone(), nil
}

// Len returns the number of personas.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.personas)
}

var _ Catalog = (*MemoryCatalog)(nil)
