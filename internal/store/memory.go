package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore provides an in-memory UnitStore and OutlineStore, used in
// tests and as scaffolding before a draft directory exists.
type MemoryStore struct {
	mu       sync.RWMutex
	units    map[int]Unit
	outlines map[int]Outline
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		units:    make(map[int]Unit),
		outlines: make(map[int]Outline),
	}
}

// PutUnit inserts or replaces a unit.
func (s *MemoryStore) PutUnit(unit Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[unit.ID] = unit
}

// DeleteUnit removes a unit if present.
func (s *MemoryStore) DeleteUnit(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, id)
}

// PutOutline inserts or replaces an outline entry.
func (s *MemoryStore) PutOutline(id int, outline Outline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outlines[id] = outline
}

func (s *MemoryStore) IDs(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int) (Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.units[id]
	if !ok {
		return Unit{}, fmt.Errorf("unit %d: %w", id, ErrNotFound)
	}
	return unit, nil
}

func (s *MemoryStore) PutStateCard(ctx context.Context, id int, card string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[id]
	if !ok {
		return fmt.Errorf("unit %d: %w", id, ErrNotFound)
	}
	unit.StateCard = card
	s.units[id] = unit
	return nil
}

func (s *MemoryStore) GetOutline(ctx context.Context, id int) (Outline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outline, ok := s.outlines[id]
	if !ok {
		return Outline{}, fmt.Errorf("outline for unit %d: %w", id, ErrNotFound)
	}
	return outline, nil
}

// Outlines adapts the store's outline side to the OutlineStore interface.
func (s *MemoryStore) Outlines() OutlineStore {
	return outlineView{s}
}

type outlineView struct {
	store *MemoryStore
}

func (v outlineView) Get(ctx context.Context, id int) (Outline, error) {
	return v.store.GetOutline(ctx, id)
}
