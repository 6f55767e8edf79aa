package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reqtrack/reqtrack/internal/position"
	"github.com/reqtrack/reqtrack/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.PositionStore) {
	t.Helper()
	store := storage.NewMemStore()
	srv := httptest.NewServer(NewHandler(AppDeps{Store: store}))
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status ok", body)
	}
}

func TestListPositions_EmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/positions")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("empty list body = %q, want []", got)
	}
}

func TestCreatePosition(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/positions", `{"Designation":"Data Engineer","PID Tagging A":"ENG-042","PID_Budget":"₹12,00,000"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	p := decodeBody[position.Position](t, resp)
	if p.Title != "Data Engineer" {
		t.Errorf("Title = %q, want Data Engineer", p.Title)
	}
	if p.Code != "ENG-042" {
		t.Errorf("Code = %q, want ENG-042", p.Code)
	}
	if p.Budget == nil || *p.Budget != 1200000 {
		t.Errorf("Budget = %v, want 1200000", p.Budget)
	}
	if p.ID == "" {
		t.Error("ID must be assigned")
	}
}

func TestCreatePosition_DuplicateID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/positions", `{"id":"P-1","title":"First"}`)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/positions", `{"id":"P-1","title":"Second"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCreatePosition_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/positions", `{"title":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody[map[string]map[string]string](t, resp)
	if body["error"]["type"] != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", body["error"]["type"])
	}
}

func TestImportPositions(t *testing.T) {
	srv, store := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/positions/import", `[
		{"id":"P-1","title":"A"},
		{"id":"P-2","title":"B"},
		{"id":"P-1","title":"Duplicate"}
	]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[map[string]int](t, resp)
	if body["imported"] != 2 {
		t.Errorf("imported = %d, want 2 (duplicate skipped)", body["imported"])
	}

	positions, _ := store.List()
	if len(positions) != 2 {
		t.Errorf("len(store) = %d, want 2", len(positions))
	}
}

func TestUpdatePosition(t *testing.T) {
	srv, store := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/positions", `{"id":"P-1","title":"A","department":"Eng","status":"Active"}`)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/positions/P-1", strings.NewReader(`{"status":"Filled"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	p := decodeBody[position.Position](t, resp)
	if p.Status != "Filled" {
		t.Errorf("Status = %q, want Filled", p.Status)
	}
	if p.Department != "Eng" {
		t.Errorf("Department = %q, untouched fields must survive", p.Department)
	}

	stored, _ := store.Get("P-1")
	if stored.Status != "Filled" {
		t.Errorf("persisted Status = %q, want Filled", stored.Status)
	}
}

func TestUpdatePosition_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/positions/missing", strings.NewReader(`{"status":"Filled"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebhook(t *testing.T) {
	srv, store := newTestServer(t)

	for _, body := range []string{
		`{"id":"P-1","title":"A","req":"REQ-1"}`,
		`{"id":"P-2","title":"B","req":"REQ-1"}`,
		`{"id":"P-3","title":"C","req":"REQ-2"}`,
	} {
		resp := postJSON(t, srv.URL+"/api/positions", body)
		resp.Body.Close()
	}

	resp := postJSON(t, srv.URL+"/api/webhook/greenhouse", `{"requisition_id":"REQ-1","status":"Filled"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status ok", body)
	}

	positions, _ := store.List()
	filled := 0
	for _, p := range positions {
		if p.Status == "Filled" {
			filled++
		}
	}
	if filled != 2 {
		t.Errorf("filled = %d, want every REQ-1 position updated", filled)
	}
}

func TestWebhook_NoMatchStillOK(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/webhook/lever", `{"requisitionId":"REQ-999","status":"Filled"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an event matching nothing", resp.StatusCode)
	}
}

func TestWebhook_MissingRequisition(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/webhook/lever", `{"status":"Filled"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebhook_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/webhook/lever", `not json`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
