package persona

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Store persists personas.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns every persona ordered by ID.
	List(ctx context.Context) ([]Persona, error)

	// Get returns the persona with the given ID or an error wrapping
	// [ErrNotFound].
	Get(ctx context.Context, id string) (Persona, error)

	// Upsert inserts or replaces personas by ID.
	Upsert(ctx context.Context, personas ...Persona) error

	// Delete removes the persona with the given ID. Deleting a missing
	// persona is not an error.
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-memory [Store].
type MemStore struct {
	mu    sync.RWMutex
	items map[string]Persona
	now   func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]Persona), now: time.Now}
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Persona) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return Persona{}, ErrNotFound
	}
	return p, nil
}

// Upsert implements [Store]. A zero UpdatedAt is set to the current time.
func (s *MemStore) Upsert(_ context.Context, personas ...Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range personas {
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = s.now().UTC()
		}
		s.items[p.ID] = p
	}
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// replace swaps the whole content for personas.
func (s *MemStore) replace(personas []Persona) {
	items := make(map[string]Persona, len(personas))
	for _, p := range personas {
		items[p.ID] = p
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}
