package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reqtrack/reqtrack/internal/webhook"
)

// handleWebhook accepts lifecycle events from an external ATS. A malformed
// body is the sender's fault (400, store untouched); anything else that goes
// wrong is ours (500). An event matching no positions still answers ok — the
// requisition may belong to records this system never ingested.
func handleWebhook(deps AppDeps) http.HandlerFunc {
	reconciler := webhook.NewReconciler(deps.Store)

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		provider := chi.URLParam(r, "provider")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading event body: %v", err)
			return
		}

		ev, err := webhook.ParseEvent(body)
		if errors.Is(err, webhook.ErrMissingRequisition) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "event missing requisition id")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		matched, err := reconciler.Apply(ev)
		if err != nil {
			deps.Logger.Error("webhook apply failed", "provider", provider, "req", ev.RequisitionID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply event")
			return
		}

		deps.Logger.Info("webhook event applied",
			"provider", provider, "req", ev.RequisitionID, "status", ev.Status, "matched", matched)
		writeJSON(w, map[string]string{"status": "ok"})
	}
}
