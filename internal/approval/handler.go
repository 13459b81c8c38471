package approval

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the gate to reviewers.
//
//	GET  /approvals[?pending=true]
//	GET  /approvals/{id}
//	POST /approvals/{id}/approve   {"reviewer": "...", "comment": "..."}
//	POST /approvals/{id}/reject
type Handler struct {
	gate *Gate
}

// NewHandler creates the reviewer API for gate.
func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

// Routes returns the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/approvals", h.list)
	r.Get("/approvals/{id}", h.get)
	r.Post("/approvals/{id}/approve", h.decide(true))
	r.Post("/approvals/{id}/reject", h.decide(false))
	return r
}

type decisionBody struct {
	Reviewer string `json:"reviewer"`
	Comment  string `json:"comment"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.List(r.URL.Query().Get("pending") == "true"))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	req, err := h.gate.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) decide(approved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body decisionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		id := chi.URLParam(r, "id")
		err := h.gate.Decide(id, approved, body.Reviewer, body.Comment)
		switch {
		case err == nil:
			req, _ := h.gate.Get(id)
			writeJSON(w, http.StatusOK, req)
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrAlreadyDecided):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
