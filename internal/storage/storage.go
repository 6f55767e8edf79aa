// Package storage owns the canonical position collection. Two
// implementations carry the same contract: MemStore (transient, the
// reference behavior) and the SQLite-backed Store (durable). All mutation
// entry points funnel through position.Apply so no path can produce an
// inconsistent partial write.
package storage

import (
	"errors"

	"github.com/google/uuid"

	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

// ErrNotFound is returned when an operation targets an unknown position id.
var ErrNotFound = errors.New("position not found")

// ErrDuplicateID is returned by Create when the supplied id already exists.
var ErrDuplicateID = errors.New("position id already exists")

// PositionStore is the mutation surface shared by both implementations.
//
// List never fails and reflects every mutation that completed before the
// call. Update merges only the keys present in fields; absent keys are
// preserved. ApplyExternalStatus overwrites the status of every record whose
// req matches — zero matches is a successful no-op, and multiple matches are
// all updated (req is not unique).
type PositionStore interface {
	List() ([]position.Position, error)
	Get(id string) (position.Position, error)
	Create(fields normalize.Row) (position.Position, error)
	Update(id string, fields map[string]any) (position.Position, error)
	ApplyExternalStatus(requisitionID, status string) (int, error)
	Close() error
}

// buildPosition turns create-request fields into a canonical record. Rows
// that resolve an identifier keep it; rows without one get a fresh uuid
// rather than the normalizer's code-derived fallback, so client-created
// records always carry a server-assigned opaque id.
func buildPosition(fields normalize.Row) position.Position {
	p := normalize.Normalize(fields)
	if normalize.Resolve(fields, normalize.FieldID) == "" {
		p.ID = uuid.NewString()
		if normalize.Resolve(fields, normalize.FieldCode) == "" {
			p.Code = p.ID
		}
	}
	return p
}
