package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkordes/tripsync/backend/internal/domain"
)

// Memory is an in-process Store. It backs unit tests and single-process dev
// runs; every write kicks the subscriptions of the touched collection.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]Document
	hub  *hub
	now  func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		docs: make(map[string]map[string]Document),
		hub:  newHub(logger),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the stored document.
func (m *Memory) Get(_ context.Context, ref Ref) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[ref.Collection][ref.ID]
	if !ok {
		return Document{}, fmt.Errorf("docstore.Memory.Get %s: %w", ref, domain.ErrNotFound)
	}
	return d.clone(), nil
}

// Put upserts the whole document.
func (m *Memory) Put(_ context.Context, ref Ref, doc Document) (Document, error) {
	m.mu.Lock()
	stored, err := m.putLocked(ref, doc)
	m.mu.Unlock()
	if err != nil {
		return Document{}, fmt.Errorf("docstore.Memory.Put %s: %w", ref, err)
	}
	m.hub.notify(ref.Collection)
	return stored, nil
}

func (m *Memory) putLocked(ref Ref, doc Document) (Document, error) {
	coll := m.docs[ref.Collection]
	current, exists := coll[ref.ID]
	if doc.Version != 0 {
		if !exists {
			return Document{}, domain.ErrNotFound
		}
		if current.Version != doc.Version {
			return Document{}, domain.ErrConflict
		}
	}

	stored := doc.clone()
	stored.ID = ref.ID
	stored.Version = current.Version + 1
	stored.UpdatedAt = m.now()
	if coll == nil {
		coll = make(map[string]Document)
		m.docs[ref.Collection] = coll
	}
	coll[ref.ID] = stored
	return stored.clone(), nil
}

// Delete removes the document.
func (m *Memory) Delete(_ context.Context, ref Ref) error {
	m.mu.Lock()
	_, ok := m.docs[ref.Collection][ref.ID]
	if ok {
		delete(m.docs[ref.Collection], ref.ID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("docstore.Memory.Delete %s: %w", ref, domain.ErrNotFound)
	}
	m.hub.notify(ref.Collection)
	return nil
}

// Find returns matching documents ordered by id.
func (m *Memory) Find(_ context.Context, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, d := range m.docs[q.Collection] {
		if q.Matches(d) {
			out = append(out, d.clone())
		}
	}
	sortDocs(out)
	return out, nil
}

// Watch subscribes to q.
func (m *Memory) Watch(ctx context.Context, q Query) (*Subscription, error) {
	return m.hub.watch(ctx, q.Collection, func(ctx context.Context) ([]Document, error) {
		return m.Find(ctx, q)
	}), nil
}

// WatchDoc subscribes to one document.
func (m *Memory) WatchDoc(ctx context.Context, ref Ref) (*Subscription, error) {
	return m.hub.watch(ctx, ref.Collection, func(ctx context.Context) ([]Document, error) {
		return m.getOptional(ctx, ref)
	}), nil
}

func (m *Memory) getOptional(ctx context.Context, ref Ref) ([]Document, error) {
	d, err := m.Get(ctx, ref)
	if err != nil {
		return nil, nil
	}
	return []Document{d}, nil
}

// BatchWrite applies all mutations under one lock. Preconditions are checked
// before anything is written.
func (m *Memory) BatchWrite(_ context.Context, ms []Mutation) error {
	m.mu.Lock()
	for _, mu := range ms {
		if mu.Doc.Version == 0 {
			continue
		}
		current, ok := m.docs[mu.Ref.Collection][mu.Ref.ID]
		switch {
		case !ok:
			m.mu.Unlock()
			return fmt.Errorf("docstore.Memory.BatchWrite %s: %w", mu.Ref, domain.ErrNotFound)
		case current.Version != mu.Doc.Version:
			m.mu.Unlock()
			return fmt.Errorf("docstore.Memory.BatchWrite %s: %w", mu.Ref, domain.ErrConflict)
		}
	}
	for _, mu := range ms {
		switch mu.Kind {
		case MutationPut:
			// Preconditions were verified above; write unconditionally.
			doc := mu.Doc
			doc.Version = 0
			if _, err := m.putLocked(mu.Ref, doc); err != nil {
				m.mu.Unlock()
				return fmt.Errorf("docstore.Memory.BatchWrite %s: %w", mu.Ref, err)
			}
		case MutationDelete:
			delete(m.docs[mu.Ref.Collection], mu.Ref.ID)
		}
	}
	m.mu.Unlock()
	m.hub.notify(collections(ms)...)
	return nil
}

// Close cancels every live subscription.
func (m *Memory) Close() error {
	m.hub.close()
	return nil
}

var _ Store = (*Memory)(nil)
