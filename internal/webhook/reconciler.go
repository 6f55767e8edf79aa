// Package webhook adapts inbound ATS lifecycle events into status overwrites
// on the position store. The reconciler is a stateless transformer: it holds
// no record state of its own and performs no retries — redelivery is the
// sender's responsibility.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingRequisition is returned for event bodies that carry no
// requisition identifier. The store is never touched in that case.
var ErrMissingRequisition = errors.New("webhook event missing requisition id")

// Event is one external lifecycle notification: a requisition identifier and
// the new status. The status value is stored verbatim — external vocabularies
// are not validated or canonicalized here.
type Event struct {
	RequisitionID string
	Status        string
}

// eventBody tolerates both key spellings seen from external senders.
type eventBody struct {
	RequisitionID      string `json:"requisition_id"`
	RequisitionIDCamel string `json:"requisitionId"`
	Status             string `json:"status"`
}

// ParseEvent decodes an event body. Snake_case takes precedence when both
// spellings are present.
func ParseEvent(data []byte) (Event, error) {
	var body eventBody
	if err := json.Unmarshal(data, &body); err != nil {
		return Event{}, fmt.Errorf("parsing event body: %w", err)
	}

	req := strings.TrimSpace(body.RequisitionID)
	if req == "" {
		req = strings.TrimSpace(body.RequisitionIDCamel)
	}
	if req == "" {
		return Event{}, ErrMissingRequisition
	}
	return Event{RequisitionID: req, Status: body.Status}, nil
}

// StatusApplier is the slice of the store the reconciler needs.
type StatusApplier interface {
	ApplyExternalStatus(requisitionID, status string) (int, error)
}

// Reconciler applies external lifecycle events to the store by requisition
// identifier.
type Reconciler struct {
	store StatusApplier
}

// NewReconciler returns a Reconciler writing through the given store.
func NewReconciler(store StatusApplier) *Reconciler {
	return &Reconciler{store: store}
}

// Apply overwrites the status of every position matching the event's
// requisition id and reports how many were updated. Zero matches is a
// successful no-op: the event may refer to a requisition this system never
// ingested.
func (r *Reconciler) Apply(ev Event) (int, error) {
	if strings.TrimSpace(ev.RequisitionID) == "" {
		return 0, ErrMissingRequisition
	}
	return r.store.ApplyExternalStatus(ev.RequisitionID, ev.Status)
}
