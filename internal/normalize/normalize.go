// Package normalize converts arbitrarily-shaped external rows (spreadsheet
// exports, bulk API payloads) into canonical positions. It is a stateless
// transformer: no side effects, never an error. Untrustworthy input degrades
// to defaults instead of failing, because the primary ingestion source is
// hand-maintained spreadsheets with inconsistent headers.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reqtrack/reqtrack/internal/position"
)

// Row is one externally-sourced record: arbitrary string keys mapped to
// scalar values of unknown shape.
type Row map[string]any

// Field identifies a canonical position field for synonym resolution.
type Field string

const (
	FieldID         Field = "id"
	FieldCode       Field = "code"
	FieldTitle      Field = "title"
	FieldDepartment Field = "department"
	FieldLocation   Field = "location"
	FieldStatus     Field = "status"
	FieldBudget     Field = "budget"
	FieldReq        Field = "req"
)

// synonyms lists, per canonical field, the acceptable source column names in
// precedence order. More specific or authoritative columns come first; the
// first candidate holding a non-empty value wins and later candidates are
// never consulted. The ordering is load-bearing: downstream consumers depend
// on deterministic field provenance, so do not reorder entries.
//
// Lookup happens on folded keys (lowercase, non-alphanumerics stripped), so
// "PID_Tagging_A", "pid-tagging-a" and "Pid Tagging A" are the same column.
var synonyms = map[Field][]string{
	FieldID:         {"positionid", "position_id", "id", "pid", "pid_tag", "pidtagginga", "pidtaggingb"},
	FieldCode:       {"pidtagginga", "pidtaggingb", "pid_tagging_a", "pid_tagging_b", "pid_tagging", "code", "rolecode"},
	FieldTitle:      {"designation", "title", "role", "positiontitle", "jobtitle"},
	FieldDepartment: {"function", "subfunction", "sub_function", "businessunit_old", "function_old", "business_unit_old", "businessunit", "dept", "department"},
	FieldLocation:   {"pid_location", "location", "locationtagging", "pid_state", "state", "city", "location_tagging"},
	FieldStatus:     {"status", "current_status", "status_old"},
	FieldBudget:     {"pid_budget", "pidbudget", "budget", "budget_inr", "pid_budget_inr"},
	FieldReq:        {"req", "requisition", "requisitionid", "requisition_id", "leader", "owner", "leadername"},
}

// FoldKey normalizes a source column name for lookup: lowercase with every
// non-alphanumeric character removed.
func FoldKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fold indexes a row by folded key. When two source columns fold to the same
// key the later one wins, matching map iteration being irrelevant here: the
// row is rebuilt in one pass and duplicate folded headers are a source-data
// defect either way.
func fold(row Row) map[string]any {
	folded := make(map[string]any, len(row))
	for k, v := range row {
		folded[FoldKey(k)] = v
	}
	return folded
}

// pick returns the first candidate whose value is present and, once
// stringified and trimmed, non-empty.
func pick(folded map[string]any, candidates []string) (any, bool) {
	for _, c := range candidates {
		v, ok := folded[FoldKey(c)]
		if !ok || v == nil {
			continue
		}
		if strings.TrimSpace(stringify(v)) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// Resolve returns the trimmed string value the given canonical field would
// take from row, or "" when no synonym matches. Store.Create uses this to
// distinguish "row supplied an id" from "normalizer invented one".
func Resolve(row Row, f Field) string {
	v, ok := pick(fold(row), synonyms[f])
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

// Normalize maps one external row to exactly one canonical position. Every
// output field is populated: missing or malformed data degrades to the
// documented defaults. The only nondeterminism is the random suffix used
// when no identifier or code can be resolved.
func Normalize(row Row) position.Position {
	folded := fold(row)

	id := pickString(folded, FieldID)
	code := pickString(folded, FieldCode)
	title := pickString(folded, FieldTitle)
	department := pickString(folded, FieldDepartment)
	location := pickString(folded, FieldLocation)

	status := position.StatusProposed
	if v, ok := pick(folded, synonyms[FieldStatus]); ok {
		if s, isStr := v.(string); isStr {
			status = strings.TrimSpace(s)
		}
	}

	var budget *float64
	if v, ok := pick(folded, synonyms[FieldBudget]); ok {
		budget = coerceBudget(v)
	}

	var req *string
	if r := pickString(folded, FieldReq); r != "" {
		req = &r
	}

	if title == "" {
		// The resolved code is a better label than nothing; only rows with
		// neither title nor code get the generic placeholder.
		if code != "" {
			title = code
		} else {
			title = "Untitled"
		}
	}
	if id == "" {
		id = fallbackID(code)
	}
	if code == "" {
		code = id
	}
	if department == "" {
		department = "Unknown"
	}

	raw := make(map[string]any, len(row))
	for k, v := range row {
		raw[k] = v
	}

	return position.Position{
		ID:         id,
		Code:       code,
		Title:      title,
		Department: department,
		Location:   location,
		Status:     status,
		Budget:     budget,
		Req:        req,
		Raw:        raw,
	}
}

func pickString(folded map[string]any, f Field) string {
	v, ok := pick(folded, synonyms[f])
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

// coerceBudget accepts whatever scalar the source delivered and extracts a
// finite number, or nil.
func coerceBudget(v any) *float64 {
	switch n := v.(type) {
	case float64:
		f := n
		return &f
	case int:
		f := float64(n)
		return &f
	default:
		return position.ParseBudget(stringify(v))
	}
}

// fallbackID derives a best-effort unique identifier when the row carries
// none: the resolved code plus a short random suffix, or a timestamp plus
// suffix when there is no code either. Collisions are improbable, not
// impossible; uniqueness is enforced by the store, not here.
func fallbackID(code string) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	if code != "" {
		return code + "-" + suffix
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + suffix
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
