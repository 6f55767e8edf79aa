package storage

import (
	"sync"

	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

// MemStore keeps the collection in process memory, newest first. It is the
// reference store: tests run against it, and serve --memory uses it when no
// durability is wanted. A single mutex serializes mutations so each
// create/update/status-apply is atomic with respect to concurrent readers.
type MemStore struct {
	mu        sync.Mutex
	positions []position.Position
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// List returns a snapshot of all positions in insertion order, most recent
// first. The returned records do not alias stored state.
func (s *MemStore) List() ([]position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]position.Position, len(s.positions))
	for i, p := range s.positions {
		out[i] = p.Clone()
	}
	return out, nil
}

// Get returns the position with the given id.
func (s *MemStore) Get(id string) (position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.positions {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return position.Position{}, ErrNotFound
}

// Create normalizes fields into a canonical record and inserts it at the
// head of the collection.
func (s *MemStore) Create(fields normalize.Row) (position.Position, error) {
	p := buildPosition(fields)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.positions {
		if existing.ID == p.ID {
			return position.Position{}, ErrDuplicateID
		}
	}
	s.positions = append([]position.Position{p}, s.positions...)
	return p.Clone(), nil
}

// Update shallow-merges the present fields into the identified record and
// returns the merged result.
func (s *MemStore) Update(id string, fields map[string]any) (position.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.positions {
		if s.positions[i].ID == id {
			s.positions[i].Apply(fields)
			return s.positions[i].Clone(), nil
		}
	}
	return position.Position{}, ErrNotFound
}

// ApplyExternalStatus overwrites the status of every record whose req equals
// requisitionID and reports how many matched. No match is not an error.
func (s *MemStore) ApplyExternalStatus(requisitionID, status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := 0
	for i := range s.positions {
		if s.positions[i].Req != nil && *s.positions[i].Req == requisitionID {
			s.positions[i].Status = status
			matched++
		}
	}
	return matched, nil
}

// Close satisfies PositionStore; there is nothing to release.
func (s *MemStore) Close() error { return nil }
