package client

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

// fakeAPI scripts server behavior per call.
type fakeAPI struct {
	listResult []position.Position
	listErr    error
	listCalls  int

	createResult position.Position
	createErr    error

	updateResult position.Position
	updateErr    error
	updateFields map[string]any
}

func (f *fakeAPI) List(ctx context.Context) ([]position.Position, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]position.Position, len(f.listResult))
	copy(out, f.listResult)
	return out, nil
}

func (f *fakeAPI) Create(ctx context.Context, fields normalize.Row) (position.Position, error) {
	if f.createErr != nil {
		return position.Position{}, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeAPI) Update(ctx context.Context, id string, fields map[string]any) (position.Position, error) {
	f.updateFields = fields
	if f.updateErr != nil {
		return position.Position{}, f.updateErr
	}
	return f.updateResult, nil
}

func pos(id, title, status string) position.Position {
	return position.Position{ID: id, Title: title, Status: status}
}

func ids(positions []position.Position) []string {
	out := make([]string, len(positions))
	for i, p := range positions {
		out[i] = p.ID
	}
	return out
}

func TestMirror_Load(t *testing.T) {
	api := &fakeAPI{listResult: []position.Position{pos("P-2", "B", "Active"), pos("P-1", "A", "Filled")}}
	m := NewMirror(api)

	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := m.Positions()
	if len(got) != 2 || got[0].ID != "P-2" || got[1].ID != "P-1" {
		t.Errorf("Positions = %v, want server order preserved", ids(got))
	}
	if m.State("P-1") != StateConfirmed {
		t.Errorf("State(P-1) = %q, want confirmed after load", m.State("P-1"))
	}
}

func TestMirror_LoadFailureKeepsStaleData(t *testing.T) {
	api := &fakeAPI{listResult: []position.Position{pos("P-1", "A", "Active")}}
	m := NewMirror(api)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("initial Load failed: %v", err)
	}

	api.listErr = errors.New("connection refused")
	if err := m.Load(context.Background()); err == nil {
		t.Fatal("expected Load to surface the transport error")
	}

	got := m.Positions()
	if len(got) != 1 || got[0].ID != "P-1" {
		t.Errorf("Positions = %v, stale data must survive a failed refresh", ids(got))
	}
}

func TestMirror_CreateConfirmed(t *testing.T) {
	api := &fakeAPI{createResult: pos("P-9", "New Role", "Proposed")}
	m := NewMirror(api)

	created, err := m.Create(context.Background(), normalize.Row{"title": "New Role"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID != "P-9" {
		t.Errorf("created.ID = %q, want server-assigned P-9", created.ID)
	}

	got := m.Positions()
	if len(got) != 1 || got[0].ID != "P-9" {
		t.Fatalf("Positions = %v, want the authoritative record only", ids(got))
	}
	if m.State("P-9") != StateConfirmed {
		t.Errorf("State = %q, want confirmed", m.State("P-9"))
	}
	for _, p := range got {
		if strings.HasPrefix(p.ID, tempIDPrefix) {
			t.Errorf("temporary record %q leaked past confirmation", p.ID)
		}
	}
}

func TestMirror_CreateRollsBackOnFailure(t *testing.T) {
	api := &fakeAPI{listResult: []position.Position{pos("P-1", "A", "Active")}}
	m := NewMirror(api)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	api.createErr = errors.New("server down")
	_, err := m.Create(context.Background(), normalize.Row{"title": "New Role"})
	if err == nil {
		t.Fatal("expected Create to fail")
	}

	got := m.Positions()
	if len(got) != 1 || got[0].ID != "P-1" {
		t.Errorf("Positions = %v, want exact pre-mutation list after rollback", ids(got))
	}
}

func TestMirror_SetStatusConfirmed(t *testing.T) {
	api := &fakeAPI{
		listResult:   []position.Position{pos("P-1", "A", "Active")},
		updateResult: pos("P-1", "A (renamed upstream)", "Filled"),
	}
	m := NewMirror(api)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	updated, err := m.SetStatus(context.Background(), "P-1", "Filled")
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if updated.Status != "Filled" {
		t.Errorf("Status = %q, want Filled", updated.Status)
	}

	got := m.Positions()
	if got[0].Title != "A (renamed upstream)" {
		t.Errorf("Title = %q, server-side changes must land on confirmation", got[0].Title)
	}
	if fields := api.updateFields; len(fields) != 1 || fields["status"] != "Filled" {
		t.Errorf("update payload = %v, want only the status key", fields)
	}
}

func TestMirror_SetStatusResyncsOnFailure(t *testing.T) {
	api := &fakeAPI{listResult: []position.Position{pos("P-1", "A", "Active")}}
	m := NewMirror(api)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Server rejects the update; the authoritative list says the status
	// meanwhile changed to Offered.
	api.updateErr = errors.New("conflict")
	api.listResult = []position.Position{pos("P-1", "A", "Offered")}
	listCallsBefore := api.listCalls

	_, err := m.SetStatus(context.Background(), "P-1", "Filled")
	if err == nil {
		t.Fatal("expected SetStatus to fail")
	}
	if api.listCalls != listCallsBefore+1 {
		t.Errorf("listCalls = %d, want exactly one resync fetch", api.listCalls-listCallsBefore)
	}

	got := m.Positions()
	if got[0].Status != "Offered" {
		t.Errorf("Status = %q, want the resynced server value, not the speculative Filled", got[0].Status)
	}
	if m.State("P-1") != StateConfirmed {
		t.Errorf("State = %q, want confirmed after resync", m.State("P-1"))
	}
}

func TestMirror_SetStatusResyncFailureKeepsLocal(t *testing.T) {
	api := &fakeAPI{listResult: []position.Position{pos("P-1", "A", "Active")}}
	m := NewMirror(api)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	updateErr := errors.New("conflict")
	api.updateErr = updateErr
	api.listErr = errors.New("also down")

	_, err := m.SetStatus(context.Background(), "P-1", "Filled")
	if !errors.Is(err, updateErr) {
		t.Fatalf("err = %v, want the original update error, not the resync one", err)
	}

	// The speculative value stays; nothing better is available.
	if got := m.Positions(); got[0].Status != "Filled" {
		t.Errorf("Status = %q, want the local speculative value kept", got[0].Status)
	}
}

func TestMirror_SetStatusUnknownID(t *testing.T) {
	m := NewMirror(&fakeAPI{})

	if _, err := m.SetStatus(context.Background(), "missing", "Filled"); !errors.Is(err, ErrNotMirrored) {
		t.Fatalf("err = %v, want ErrNotMirrored", err)
	}
}

func TestMirror_CreateIsOptimisticBeforeSettle(t *testing.T) {
	// A blocking fake lets us observe the mirror mid-flight.
	block := make(chan struct{})
	api := &blockingAPI{unblock: block, started: make(chan struct{}), result: pos("P-9", "New Role", "Proposed")}
	m := NewMirror(api)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Create(context.Background(), normalize.Row{"title": "New Role"})
	}()

	<-api.started
	got := m.Positions()
	if len(got) != 1 {
		t.Fatalf("len(Positions) = %d mid-flight, want speculative record visible", len(got))
	}
	if !strings.HasPrefix(got[0].ID, tempIDPrefix) {
		t.Errorf("mid-flight id = %q, want temporary prefix", got[0].ID)
	}
	if m.State(got[0].ID) != StateOptimistic {
		t.Errorf("mid-flight state = %q, want optimistic", m.State(got[0].ID))
	}

	close(block)
	<-done

	got = m.Positions()
	if len(got) != 1 || got[0].ID != "P-9" {
		t.Errorf("settled Positions = %v, want authoritative record", ids(got))
	}
}

func TestMirror_CreateSurvivesConcurrentReload(t *testing.T) {
	// A Load that lands while the create request is in flight wipes the
	// speculative record; the confirmed record must still end up mirrored.
	block := make(chan struct{})
	api := &blockingAPI{unblock: block, started: make(chan struct{}), result: pos("P-9", "New Role", "Proposed")}
	m := NewMirror(api)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Create(context.Background(), normalize.Row{"title": "New Role"})
	}()

	<-api.started
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := m.Positions(); len(got) != 0 {
		t.Fatalf("Positions = %v after reload, want the speculative record gone", ids(got))
	}

	close(block)
	<-done

	got := m.Positions()
	if len(got) != 1 || got[0].ID != "P-9" {
		t.Fatalf("Positions = %v, want exactly the confirmed record", ids(got))
	}
	if m.State("P-9") != StateConfirmed {
		t.Errorf("State = %q, want confirmed", m.State("P-9"))
	}
}

type blockingAPI struct {
	unblock chan struct{}
	started chan struct{}
	result  position.Position
}

func (b *blockingAPI) List(ctx context.Context) ([]position.Position, error) { return nil, nil }

func (b *blockingAPI) Create(ctx context.Context, fields normalize.Row) (position.Position, error) {
	close(b.started)
	<-b.unblock
	return b.result, nil
}

func (b *blockingAPI) Update(ctx context.Context, id string, fields map[string]any) (position.Position, error) {
	return position.Position{}, nil
}
