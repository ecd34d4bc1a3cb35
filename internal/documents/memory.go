package documents

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*Document
	writes int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

// Version implements Store
func (m *MemoryStore) Version(_ context.Context, id string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return "", false, nil
	}
	return doc.SourceVersion, true, nil
}

// Upsert implements Store
func (m *MemoryStore) Upsert(_ context.Context, doc *Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := doc.Clone()
	existing, ok := m.docs[doc.ID]
	if ok {
		next.CreatedAt = existing.CreatedAt
		next.Local = maps.Clone(existing.Local)
	}
	if next.Local == nil {
		next.Local = map[string]any{}
	}
	m.docs[doc.ID] = next
	m.writes++
	return !ok, nil
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// Ping implements Store
func (*MemoryStore) Ping(context.Context) error {
	return nil
}

// Annotate sets a local-only field on a stored document
func (m *MemoryStore) Annotate(id, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Local == nil {
		doc.Local = map[string]any{}
	}
	doc.Local[key] = value
	return nil
}

// Len returns the number of stored documents
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Writes returns the number of successful upserts since creation
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
