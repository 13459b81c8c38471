package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// Handler exposes the ledger as the status-reporting endpoint hooks call
// back into.
//
//	POST /lifecycle-events/status                 report a verdict
//	GET  /lifecycle-events/{deploymentId}/{hookExecutionId}  read it back
type Handler struct {
	ledger *Ledger
	router chi.Router
}

// NewHandler creates the HTTP surface for ledger.
func NewHandler(ledger *Ledger) *Handler {
	h := &Handler{ledger: ledger, router: chi.NewRouter()}
	h.router.Post("/lifecycle-events/status", h.handleReport)
	h.router.Get("/lifecycle-events/{deploymentId}/{hookExecutionId}", h.handleGet)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	var report domain.VerdictReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := report.Event().Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.ledger.ReportVerdict(r.Context(), report)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrUnknownEvent):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVerdictAlreadyReported):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ev := domain.LifecycleEvent{
		DeploymentID:    chi.URLParam(r, "deploymentId"),
		HookExecutionID: chi.URLParam(r, "hookExecutionId"),
	}

	rv, resolved, err := h.ledger.Resolution(ev)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !resolved {
		writeJSON(w, http.StatusOK, map[string]any{"event": ev, "resolved": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": ev, "resolved": true, "verdict": rv})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
