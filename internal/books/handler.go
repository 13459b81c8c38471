// Package books is the CRUD service the pipeline releases: create and list
// book records in the shared backing store.
package books

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/server"
)

const maxBodyBytes = 1 << 20

// Handler serves the books API.
type Handler struct {
	store  ports.BookStore
	logger *slog.Logger
}

// NewHandler creates a books handler over store.
func NewHandler(store ports.BookStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Routes mounts GET /books (public) and POST /books (bearer token). The
// public create refuses identifiers in the synthetic space; only direct
// invocations (Create) may write them.
func (h *Handler) Routes(verifier ports.TokenVerifier) http.Handler {
	r := chi.NewRouter()
	r.Get("/books", h.List)
	r.With(server.AuthMiddleware(verifier)).Post("/books", h.createReal)
	return r
}

// Create stores the posted book. 201 on success, 400 for an invalid payload,
// 500 when the store fails. Sentinel records are accepted.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, true)
}

func (h *Handler) createReal(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, false)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, allowSentinel bool) {
	book, err := decodeBook(r)
	if err == nil && !allowSentinel && domain.IsSentinelISBN(book.ISBN) {
		err = fmt.Errorf("%w: isbn prefix %q is reserved", domain.ErrInvalidArgument, domain.SentinelPrefix)
	}
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	server.AddLogField(r.Context(), "isbn", book.ISBN)

	if err := h.store.PutBook(r.Context(), book); err != nil {
		h.logger.Error("failed to store book",
			slog.String("isbn", book.ISBN),
			slog.String("error", err.Error()),
		)
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to store book")
		return
	}

	writeJSON(w, http.StatusCreated, book)
}

// List returns every real book. Synthetic validation records are never
// exposed.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListBooks(r.Context())
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to list books")
		return
	}

	out := make([]domain.Book, 0, len(all))
	for _, b := range all {
		if !domain.IsSentinelISBN(b.ISBN) {
			out = append(out, b)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeBook(r *http.Request) (domain.Book, error) {
	var book domain.Book
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&book); err != nil {
		return domain.Book{}, fmt.Errorf("%w: malformed book: %v", domain.ErrInvalidArgument, err)
	}
	if err := book.Validate(); err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
