package cursor

import (
	"context"
	"sort"
	"sync"

	"github.com/stacklok/tmdb-sync/internal/catalog"
)

// MemoryStore keeps cursors in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[catalog.EntityType]Cursor
	commits int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory cursor store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[catalog.EntityType]Cursor)}
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, entity catalog.EntityType) (*Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cursors[entity]
	if !ok {
		return Initial(entity), nil
	}
	return &c, nil
}

// Commit implements Store
func (m *MemoryStore) Commit(_ context.Context, c *Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursors[c.EntityType] = *c
	m.commits++
	return nil
}

// List implements Store
func (m *MemoryStore) List(_ context.Context) ([]*Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Cursor, 0, len(m.cursors))
	for _, c := range m.cursors {
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out, nil
}

// Commits returns the number of commits since creation
func (m *MemoryStore) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}
