package client

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

// RecordState names where a mirrored record stands relative to the server.
type RecordState string

const (
	// StateConfirmed: the record matches what the server last returned.
	StateConfirmed RecordState = "confirmed"
	// StateOptimistic: the record carries a speculative local change the
	// server has not confirmed yet.
	StateOptimistic RecordState = "optimistic"
)

const tempIDPrefix = "temp-"

// ErrNotMirrored is returned when a mutation targets an id the mirror does
// not hold; the caller should Load first.
var ErrNotMirrored = errors.New("position not present in local mirror")

// Mirror maintains a client-local copy of the server's position collection
// and applies mutations optimistically: the local list changes first, then
// the server call settles it. Each mutation resolves to one of two recovery
// strategies on failure — creates roll back the speculative record exactly,
// updates resync the whole mirror from the server. The mirror therefore can
// disagree with the server only transiently, never permanently.
type Mirror struct {
	api API

	mu        sync.Mutex
	positions []position.Position
	states    map[string]RecordState
}

// NewMirror returns an empty mirror backed by the given API.
func NewMirror(api API) *Mirror {
	return &Mirror{
		api:    api,
		states: make(map[string]RecordState),
	}
}

// Load replaces the mirror with the authoritative server list. On failure
// the existing local state is kept — stale-but-present beats a blank
// display — and the error is surfaced to the caller.
func (m *Mirror) Load(ctx context.Context) error {
	fresh, err := m.api.List(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceAll(fresh)
	return nil
}

// Positions returns a snapshot of the mirrored list, newest first.
func (m *Mirror) Positions() []position.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]position.Position, len(m.positions))
	for i, p := range m.positions {
		out[i] = p.Clone()
	}
	return out
}

// State reports the reconciliation state of one record. Unknown ids report
// confirmed: absence of speculation is the default.
func (m *Mirror) State(id string) RecordState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.states[id]; ok {
		return s
	}
	return StateConfirmed
}

// Create prepends a speculative record under a temporary id, then issues the
// server create. On success the temporary record is replaced by the
// authoritative one (server-assigned id). On failure the temporary record is
// removed so the list returns exactly to its pre-mutation state.
func (m *Mirror) Create(ctx context.Context, fields normalize.Row) (position.Position, error) {
	tempID := tempIDPrefix + uuid.NewString()
	speculative := normalize.Normalize(fields)
	speculative.ID = tempID

	m.mu.Lock()
	m.positions = append([]position.Position{speculative}, m.positions...)
	m.states[tempID] = StateOptimistic
	m.mu.Unlock()

	created, err := m.api.Create(ctx, fields)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.remove(tempID)
		delete(m.states, tempID)
		return position.Position{}, err
	}

	delete(m.states, tempID)
	if !m.replace(tempID, created) && !m.contains(created.ID) {
		// A concurrent reload dropped the speculative record; the
		// authoritative one still belongs at the head.
		m.positions = append([]position.Position{created}, m.positions...)
	}
	m.states[created.ID] = StateConfirmed
	return created.Clone(), nil
}

// SetStatus applies the new status to the matching local record immediately,
// then issues the server update. On success the record is replaced with the
// server's version, capturing any other server-side changes. On failure the
// single field is NOT hand-rolled back: the whole mirror is resynced from
// the server, which guards against divergence on any partial-failure path at
// the cost of one extra read. If the resync itself fails the local state is
// left as-is and the original error is returned.
func (m *Mirror) SetStatus(ctx context.Context, id, status string) (position.Position, error) {
	m.mu.Lock()
	found := false
	for i := range m.positions {
		if m.positions[i].ID == id {
			m.positions[i].Status = status
			m.states[id] = StateOptimistic
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return position.Position{}, ErrNotMirrored
	}

	updated, err := m.api.Update(ctx, id, map[string]any{"status": status})
	if err != nil {
		if fresh, listErr := m.api.List(ctx); listErr == nil {
			m.mu.Lock()
			m.replaceAll(fresh)
			m.mu.Unlock()
		}
		return position.Position{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replace(id, updated) {
		m.states[updated.ID] = StateConfirmed
	}
	return updated.Clone(), nil
}

// replaceAll swaps in an authoritative list wholesale. Caller holds mu.
func (m *Mirror) replaceAll(fresh []position.Position) {
	m.positions = fresh
	m.states = make(map[string]RecordState, len(fresh))
	for _, p := range fresh {
		m.states[p.ID] = StateConfirmed
	}
}

// replace substitutes the record with the given id and reports whether it was
// found. A concurrent Load can remove the record mid-mutation, so callers must
// not assume a match. Caller holds mu.
func (m *Mirror) replace(id string, p position.Position) bool {
	for i := range m.positions {
		if m.positions[i].ID == id {
			m.positions[i] = p
			return true
		}
	}
	return false
}

// contains reports whether a record with the given id is mirrored. Caller
// holds mu.
func (m *Mirror) contains(id string) bool {
	for i := range m.positions {
		if m.positions[i].ID == id {
			return true
		}
	}
	return false
}

// remove deletes the record with the given id. Caller holds mu.
func (m *Mirror) remove(id string) {
	for i := range m.positions {
		if m.positions[i].ID == id {
			m.positions = append(m.positions[:i], m.positions[i+1:]...)
			return
		}
	}
}
