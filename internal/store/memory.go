package store

import (
	"context"
	"sync"

	"kmc-indicators/internal/models"
)

// MemoryStore keeps documents in process. It backs fixtures and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*models.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]*models.Document)}
}

// Put stores a copy of d, replacing any previous version.
func (m *MemoryStore) Put(docs ...*models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		coll, ok := m.docs[d.Collection]
		if !ok {
			coll = make(map[string]*models.Document)
			m.docs[d.Collection] = coll
		}
		coll[d.ID] = d.Clone()
	}
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, coll := range m.docs {
		n += len(coll)
	}
	return n
}

func (m *MemoryStore) Fetch(ctx context.Context, collection string, scope []string, tr TimeRange) ([]*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Document
	for _, d := range m.docs[collection] {
		if Matches(d, scope, tr) {
			out = append(out, d)
		}
	}
	SortDocuments(out)
	return out, nil
}

func (m *MemoryStore) FetchByBaby(ctx context.Context, collection string, babyIDs []string) ([]*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*models.Document, 0, len(m.docs[collection]))
	for _, d := range m.docs[collection] {
		all = append(all, d)
	}
	out := OfBabies(all, babyIDs)
	SortDocuments(out)
	return out, nil
}

func (m *MemoryStore) Lookup(ctx context.Context, ref models.Ref) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.docs[ref.Collection][ref.ID]; ok {
		return d, nil
	}
	return nil, ErrNotFound
}
