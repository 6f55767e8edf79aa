// Package position defines the canonical record every other component
// operates on, and the single field-merge routine all mutation paths share.
package position

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Lifecycle statuses observed across the ingestion sources. The set is open:
// external systems may deliver values outside this list and they are stored
// verbatim.
const (
	StatusProposed  = "Proposed"
	StatusApproved  = "Approved"
	StatusActive    = "Active"
	StatusVacant    = "Vacant"
	StatusOffered   = "Offered"
	StatusFilled    = "Filled"
	StatusYetToJoin = "Yet to join"
	StatusBackup    = "Backup"
	StatusRetired   = "Retired"
)

// Position is the canonical requisition record. Budget and Req are pointers
// because "absent/unparseable" is distinct from zero: a nil budget means the
// source had no usable number, and a nil req means the record is not linked
// to any external requisition.
type Position struct {
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	Title      string         `json:"title"`
	Department string         `json:"department"`
	Location   string         `json:"location"`
	Status     string         `json:"status"`
	Budget     *float64       `json:"budget"`
	Req        *string        `json:"req"`
	Raw        map[string]any `json:"_raw,omitempty"`
}

// Clone returns a deep enough copy that callers can hand out snapshots
// without aliasing the stored record.
func (p Position) Clone() Position {
	c := p
	if p.Budget != nil {
		b := *p.Budget
		c.Budget = &b
	}
	if p.Req != nil {
		r := *p.Req
		c.Req = &r
	}
	if p.Raw != nil {
		raw := make(map[string]any, len(p.Raw))
		for k, v := range p.Raw {
			raw[k] = v
		}
		c.Raw = raw
	}
	return c
}

// Apply shallow-merges the given fields into p: every recognized key present
// in fields overwrites the corresponding field, keys that are absent leave
// the field untouched. The id is immutable and silently skipped. Every
// mutation entry point (create, update, webhook) funnels through this so no
// path can produce a divergent partial write.
func (p *Position) Apply(fields map[string]any) {
	for key, val := range fields {
		switch key {
		case "code":
			p.Code = toString(val)
		case "title":
			p.Title = toString(val)
		case "department":
			p.Department = toString(val)
		case "location":
			p.Location = toString(val)
		case "status":
			p.Status = toString(val)
		case "budget":
			p.Budget = toBudget(val)
		case "req":
			if val == nil {
				p.Req = nil
			} else {
				r := toString(val)
				p.Req = &r
			}
		}
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// toBudget accepts the shapes a JSON body can carry for budget.
func toBudget(v any) *float64 {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case string:
		return ParseBudget(n)
	default:
		return nil
	}
}

// ParseBudget extracts a finite number from a free-form money string such as
// "₹1,80,000.50 INR". Every character that is not a digit, decimal point, or
// minus sign is stripped before parsing. Anything that does not survive as a
// finite number yields nil; NaN never reaches a stored record.
func ParseBudget(s string) *float64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
