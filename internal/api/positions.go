// Package api exposes the position store over HTTP. The transport layer owns
// nothing: every mutation goes through the store's merge logic, and the
// webhook route goes through the reconciler.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
	"github.com/reqtrack/reqtrack/internal/storage"
)

// AppDeps carries the handler dependencies. Logger may be nil, in which case
// slog.Default() is used.
type AppDeps struct {
	Store  storage.PositionStore
	Logger *slog.Logger
}

// NewHandler builds the HTTP surface: position CRUD, bulk import, webhook
// intake, and a health probe.
func NewHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/api/positions", handleListPositions(deps))
	r.Post("/api/positions", handleCreatePosition(deps))
	r.Post("/api/positions/import", handleImportPositions(deps))
	r.Put("/api/positions/{id}", handleUpdatePosition(deps))
	r.Post("/api/webhook/{provider}", handleWebhook(deps))
	return r
}

func handleListPositions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positions, err := deps.Store.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list positions: %v", err)
			return
		}
		if positions == nil {
			positions = []position.Position{}
		}
		writeJSON(w, positions)
	}
}

func handleCreatePosition(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var fields normalize.Row
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p, err := deps.Store.Create(fields)
		if errors.Is(err, storage.ErrDuplicateID) {
			httpError(w, http.StatusConflict, "invalid_request_error", "position id already exists")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create position: %v", err)
			return
		}

		deps.Logger.Info("position created", "id", p.ID, "title", p.Title)
		writeJSON(w, p)
	}
}

func handleImportPositions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var rows []normalize.Row
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		imported := 0
		for _, row := range rows {
			if _, err := deps.Store.Create(row); err != nil {
				// Spreadsheet exports routinely repeat rows; skipped
				// duplicates are reported, not fatal.
				if errors.Is(err, storage.ErrDuplicateID) {
					deps.Logger.Warn("skipping duplicate row", "id", normalize.Resolve(row, normalize.FieldID))
					continue
				}
				httpError(w, http.StatusInternalServerError, "api_error", "failed to import row: %v", err)
				return
			}
			imported++
		}

		deps.Logger.Info("bulk import complete", "imported", imported, "received", len(rows))
		writeJSON(w, map[string]int{"imported": imported})
	}
}

func handleUpdatePosition(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id := chi.URLParam(r, "id")

		// Decode into a map so "key absent" and "key null" stay
		// distinguishable: only keys present in the body are merged.
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p, err := deps.Store.Update(id, fields)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "position not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update position: %v", err)
			return
		}
		writeJSON(w, p)
	}
}
