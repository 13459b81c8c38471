package books

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/storage/memory"
)

type tokenVerifier map[string]string

func (v tokenVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	if s, ok := v[token]; ok {
		return s, nil
	}
	return "", errors.New("invalid token")
}

// failingStore fails every write.
type failingStore struct {
	*memory.Store
}

func (failingStore) PutBook(ctx context.Context, b domain.Book) error {
	return errors.New("ProvisionedThroughputExceededException")
}

const validBook = `{"isbn":"978-0","title":"t","year":2001,"author":"a","publisher":"p","rating":3,"pages":100}`

func do(h http.Handler, method, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/books", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreate(t *testing.T) {
	verifier := tokenVerifier{"tok": "user-1"}

	tests := []struct {
		name       string
		body       string
		token      string
		failStore  bool
		wantStatus int
	}{
		{name: "created", body: validBook, token: "tok", wantStatus: http.StatusCreated},
		{name: "no token", body: validBook, wantStatus: http.StatusUnauthorized},
		{name: "bad token", body: validBook, token: "nope", wantStatus: http.StatusUnauthorized},
		{name: "missing publisher", body: `{"isbn":"978-0","title":"t","author":"a"}`, token: "tok", wantStatus: http.StatusBadRequest},
		{name: "malformed json", body: `{"isbn":`, token: "tok", wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"isbn":"978-0","title":"t","author":"a","publisher":"p","colour":"red"}`, token: "tok", wantStatus: http.StatusBadRequest},
		{name: "store failure", body: validBook, token: "tok", failStore: true, wantStatus: http.StatusInternalServerError},
		{name: "reserved isbn prefix", body: `{"isbn":"smoke:my-real-book","title":"t","author":"a","publisher":"p"}`, token: "tok", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			var h *Handler
			if tt.failStore {
				h = NewHandler(failingStore{store}, nil)
			} else {
				h = NewHandler(store, nil)
			}

			rec := do(h.Routes(verifier), http.MethodPost, tt.body, tt.token)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			books, _ := store.ListBooks(context.Background())
			if tt.wantStatus == http.StatusCreated {
				var want domain.Book
				json.Unmarshal([]byte(validBook), &want)
				if len(books) != 1 || books[0] != want {
					t.Errorf("stored = %+v, want %+v", books, want)
				}
			} else if len(books) != 0 {
				t.Errorf("rejected create stored %+v", books)
			}
		})
	}
}

func TestList(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	stored := domain.Book{ISBN: "978-0", Title: "t", Author: "a", Publisher: "p"}
	store.PutBook(ctx, stored)
	store.PutBook(ctx, domain.NewSentinelBook())

	// No token required.
	rec := do(NewHandler(store, nil).Routes(tokenVerifier{}), http.MethodGet, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []domain.Book
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != stored {
		t.Errorf("List() = %+v, want only the real book", got)
	}
}

func TestList_Empty(t *testing.T) {
	rec := do(NewHandler(memory.New(), nil).Routes(tokenVerifier{}), http.MethodGet, "", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestCreate_DirectInvocationAcceptsSentinel(t *testing.T) {
	store := memory.New()
	h := NewHandler(store, nil)
	body, _ := json.Marshal(domain.NewSentinelBook())

	rec := do(http.HandlerFunc(h.Create), http.MethodPost, string(body), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	books, _ := store.ListBooks(context.Background())
	if len(books) != 1 || !domain.IsSentinelISBN(books[0].ISBN) {
		t.Errorf("stored = %+v", books)
	}
}
