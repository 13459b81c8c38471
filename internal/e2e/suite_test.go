package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/booksapi/release-pipeline/internal/books"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/identity"
	"github.com/booksapi/release-pipeline/internal/storage/memory"
)

// environment is a books service under test.
type environment struct {
	store *memory.Store
	ids   *identity.Memory
	srv   *httptest.Server
}

func newEnvironment(t *testing.T, wrap func(http.Handler) http.Handler) *environment {
	t.Helper()
	e := &environment{store: memory.New(), ids: identity.NewMemory()}
	var h http.Handler = books.NewHandler(e.store, nil).Routes(e.ids)
	if wrap != nil {
		h = wrap(h)
	}
	e.srv = httptest.NewServer(h)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *environment) suite() *Suite {
	return NewSuite(e.ids, func(ctx context.Context, table string) (ports.BookStore, error) {
		return e.store, nil
	}, e.srv.Client(), nil)
}

func (e *environment) target() Target {
	return Target{Endpoint: e.srv.URL + "/", UserPoolID: "pool", ClientID: "client", Table: "books"}
}

func TestSuite_AllScenariosPass(t *testing.T) {
	e := newEnvironment(t, nil)

	report, err := e.suite().Run(context.Background(), e.target())
	if err != nil {
		t.Fatalf("Run() error = %v\n%+v", err, report)
	}
	if !report.Passed() || len(report.Scenarios) != 5 {
		t.Errorf("report = %+v", report)
	}
	if e.ids.Users() != 0 {
		t.Errorf("test identity not deleted")
	}
	if left, _ := e.store.ListBooks(context.Background()); len(left) != 0 {
		t.Errorf("test books left behind: %+v", left)
	}
}

func TestSuite_KeepsExistingBooks(t *testing.T) {
	e := newEnvironment(t, nil)
	existing := domain.Book{ISBN: "978-0", Title: "t", Author: "a", Publisher: "p"}
	e.store.PutBook(context.Background(), existing)

	if _, err := e.suite().Run(context.Background(), e.target()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got, err := e.store.GetBook(context.Background(), "978-0"); err != nil || *got != existing {
		t.Errorf("existing book disturbed: %+v, %v", got, err)
	}
}

func TestSuite_FailingServiceStillCleansUp(t *testing.T) {
	tests := []struct {
		name     string
		wrap     func(http.Handler) http.Handler
		failures int
	}{
		{
			name: "create always fails",
			wrap: func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodPost && r.Header.Get("Authorization") != "" {
						http.Error(w, "boom", http.StatusInternalServerError)
						return
					}
					next.ServeHTTP(w, r)
				})
			},
			failures: 2,
		},
		{
			name: "no authorizer in front of create",
			wrap: func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if r.Method == http.MethodPost && r.Header.Get("Authorization") == "" {
						w.WriteHeader(http.StatusCreated)
						return
					}
					next.ServeHTTP(w, r)
				})
			},
			failures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnvironment(t, tt.wrap)

			report, err := e.suite().Run(context.Background(), e.target())
			if err == nil {
				t.Fatal("Run() expected error")
			}
			failed := 0
			for _, s := range report.Scenarios {
				if !s.Passed {
					failed++
				}
			}
			if failed != tt.failures {
				t.Errorf("failed scenarios = %d, want %d: %+v", failed, tt.failures, report.Scenarios)
			}
			if e.ids.Users() != 0 {
				t.Error("test identity not deleted after failure")
			}
			if left, _ := e.store.ListBooks(context.Background()); len(left) != 0 {
				t.Errorf("test books left behind: %+v", left)
			}
		})
	}
}

// failingIdentities fails one step.
type failingIdentities struct {
	*identity.Memory
	failToken  bool
	failDelete bool
}

func (f *failingIdentities) AccessToken(ctx context.Context, clientID string, id *ports.Identity) (string, error) {
	if f.failToken {
		return "", errors.New("NotAuthorizedException")
	}
	return f.Memory.AccessToken(ctx, clientID, id)
}

func (f *failingIdentities) DeleteIdentity(ctx context.Context, pool string, id *ports.Identity) error {
	if f.failDelete {
		return errors.New("throttled")
	}
	return f.Memory.DeleteIdentity(ctx, pool, id)
}

func TestSuite_IdentityFailures(t *testing.T) {
	e := newEnvironment(t, nil)
	open := func(ctx context.Context, table string) (ports.BookStore, error) { return e.store, nil }

	t.Run("token failure deletes identity", func(t *testing.T) {
		ids := &failingIdentities{Memory: identity.NewMemory(), failToken: true}
		_, err := NewSuite(ids, open, nil, nil).Run(context.Background(), e.target())
		if err == nil || !strings.Contains(err.Error(), "authenticate") {
			t.Errorf("Run() error = %v", err)
		}
		if ids.Users() != 0 {
			t.Error("identity not deleted")
		}
	})

	t.Run("delete failure fails the run", func(t *testing.T) {
		ids := &failingIdentities{Memory: e.ids, failDelete: true}
		_, err := NewSuite(ids, open, e.srv.Client(), nil).Run(context.Background(), e.target())
		if err == nil || !strings.Contains(err.Error(), "delete test identity") {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestTargetFromEnv(t *testing.T) {
	got, err := TargetFromEnv(map[string]string{
		"API_ENDPOINT":        "https://api.example/prod",
		"USER_POOL_ID":        "pool",
		"USER_POOL_CLIENT_ID": "client",
		"TABLE":               "books",
	})
	if err != nil {
		t.Fatalf("TargetFromEnv() error = %v", err)
	}
	if got.Endpoint != "https://api.example/prod/" {
		t.Errorf("endpoint = %q", got.Endpoint)
	}

	_, err = TargetFromEnv(map[string]string{"API_ENDPOINT": "x"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("TargetFromEnv(partial) error = %v", err)
	}
	if want := "missing test variables [USER_POOL_ID USER_POOL_CLIENT_ID TABLE]"; !strings.HasSuffix(err.Error(), want) {
		t.Errorf("error = %q, want suffix %q", err, want)
	}
}
