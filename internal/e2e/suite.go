// Package e2e is the test stage: functional scenarios run against a live
// environment with a disposable identity.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Target names the environment under test. The fields are the deploy
// stage's output variables.
type Target struct {
	Endpoint   string // API_ENDPOINT, with trailing slash
	UserPoolID string // USER_POOL_ID
	ClientID   string // USER_POOL_CLIENT_ID
	Table      string // TABLE
}

// TargetFromEnv reads the target from resolved action variables.
func TargetFromEnv(env map[string]string) (Target, error) {
	t := Target{
		Endpoint:   env["API_ENDPOINT"],
		UserPoolID: env["USER_POOL_ID"],
		ClientID:   env["USER_POOL_CLIENT_ID"],
		Table:      env["TABLE"],
	}
	var missing []string
	for _, v := range []struct{ name, value string }{
		{"API_ENDPOINT", t.Endpoint},
		{"USER_POOL_ID", t.UserPoolID},
		{"USER_POOL_CLIENT_ID", t.ClientID},
		{"TABLE", t.Table},
	} {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return Target{}, fmt.Errorf("%w: missing test variables %v", domain.ErrInvalidArgument, missing)
	}
	if !strings.HasSuffix(t.Endpoint, "/") {
		t.Endpoint += "/"
	}
	return t, nil
}

// StoreOpener opens the backing store named by a table.
type StoreOpener func(ctx context.Context, table string) (ports.BookStore, error)

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the outcome of a suite run.
type Report struct {
	Scenarios []ScenarioResult `json:"scenarios"`
}

// Passed reports whether every scenario passed.
func (r *Report) Passed() bool {
	for _, s := range r.Scenarios {
		if !s.Passed {
			return false
		}
	}
	return true
}

// Suite runs the scenarios.
type Suite struct {
	identities ports.IdentityProvider
	openStore  StoreOpener
	client     *http.Client
	logger     *slog.Logger
	// SeedCount is how many books the list scenario seeds.
	SeedCount int
}

// NewSuite creates a suite. A nil client gets a 30s timeout.
func NewSuite(identities ports.IdentityProvider, openStore StoreOpener, client *http.Client, logger *slog.Logger) *Suite {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{
		identities: identities,
		openStore:  openStore,
		client:     client,
		logger:     logger,
		SeedCount:  5,
	}
}

type run struct {
	*Suite
	target Target
	store  ports.BookStore
	token  string
}

// Run executes every scenario. The disposable identity is created first and
// deleted on every exit path. The error is non-nil when any scenario failed
// or the identity could not be set up or removed.
func (s *Suite) Run(ctx context.Context, target Target) (report *Report, err error) {
	report = &Report{}

	store, err := s.openStore(ctx, target.Table)
	if err != nil {
		return report, fmt.Errorf("open table %s: %w", target.Table, err)
	}

	id, err := s.identities.CreateIdentity(ctx, target.UserPoolID)
	if err != nil {
		return report, fmt.Errorf("create test identity: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if delErr := s.identities.DeleteIdentity(cctx, target.UserPoolID, id); delErr != nil {
			s.logger.Error("failed to delete test identity",
				slog.String("username", id.Username),
				slog.String("error", delErr.Error()),
			)
			err = errors.Join(err, fmt.Errorf("delete test identity: %w", delErr))
		}
	}()

	token, err := s.identities.AccessToken(ctx, target.ClientID, id)
	if err != nil {
		return report, fmt.Errorf("authenticate test identity: %w", err)
	}

	r := &run{Suite: s, target: target, store: store, token: "Bearer " + token}
	scenarios := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"list books without authentication", r.listWithoutAuth},
		{"list returns stored books", r.listReturnsBooks},
		{"create without token is rejected", r.createWithoutToken},
		{"create with invalid payload is rejected", r.createInvalid},
		{"create stores the book", r.createValid},
	}

	var failed []string
	for _, sc := range scenarios {
		start := time.Now()
		scErr := sc.fn(ctx)
		res := ScenarioResult{Name: sc.name, Passed: scErr == nil, Duration: time.Since(start)}
		if scErr != nil {
			res.Error = scErr.Error()
			failed = append(failed, sc.name)
			s.logger.Warn("scenario failed", slog.String("scenario", sc.name), slog.String("error", scErr.Error()))
		} else {
			s.logger.Info("scenario passed", slog.String("scenario", sc.name))
		}
		report.Scenarios = append(report.Scenarios, res)
	}

	if len(failed) > 0 {
		return report, fmt.Errorf("%d of %d scenarios failed: %s", len(failed), len(scenarios), strings.Join(failed, "; "))
	}
	return report, nil
}

func (r *run) booksURL() string {
	return r.target.Endpoint + "books"
}

func (r *run) listWithoutAuth(ctx context.Context) error {
	status, _, err := r.do(ctx, http.MethodGet, nil, "")
	if err != nil {
		return err
	}
	return expectStatus(status, http.StatusOK)
}

func (r *run) listReturnsBooks(ctx context.Context) (err error) {
	seeded := buildBooks(r.SeedCount)
	defer func() { err = errors.Join(err, r.remove(ctx, seeded)) }()

	for _, b := range seeded {
		if err := r.store.PutBook(ctx, b); err != nil {
			return fmt.Errorf("seed %s: %w", b.ISBN, err)
		}
	}

	status, body, err := r.do(ctx, http.MethodGet, nil, "")
	if err != nil {
		return err
	}
	if err := expectStatus(status, http.StatusOK); err != nil {
		return err
	}

	var listed []domain.Book
	if err := json.Unmarshal(body, &listed); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	byISBN := make(map[string]domain.Book, len(listed))
	for _, b := range listed {
		byISBN[b.ISBN] = b
	}
	for _, want := range seeded {
		got, ok := byISBN[want.ISBN]
		if !ok {
			return fmt.Errorf("book %s missing from list", want.ISBN)
		}
		if got != want {
			return fmt.Errorf("book %s = %+v, want %+v", want.ISBN, got, want)
		}
	}
	return nil
}

func (r *run) createWithoutToken(ctx context.Context) (err error) {
	book := buildBooks(1)[0]
	defer func() { err = errors.Join(err, r.remove(ctx, []domain.Book{book})) }()

	status, _, err := r.do(ctx, http.MethodPost, book, "")
	if err != nil {
		return err
	}
	return expectStatus(status, http.StatusUnauthorized)
}

func (r *run) createInvalid(ctx context.Context) (err error) {
	book := buildBooks(1)[0]
	defer func() { err = errors.Join(err, r.remove(ctx, []domain.Book{book})) }()

	payload := map[string]any{
		"isbn":   book.ISBN,
		"title":  book.Title,
		"year":   book.Year,
		"author": book.Author,
		"rating": book.Rating,
		"pages":  book.Pages,
	}
	status, _, err := r.do(ctx, http.MethodPost, payload, r.token)
	if err != nil {
		return err
	}
	return expectStatus(status, http.StatusBadRequest)
}

func (r *run) createValid(ctx context.Context) (err error) {
	book := buildBooks(1)[0]
	defer func() { err = errors.Join(err, r.remove(ctx, []domain.Book{book})) }()

	status, _, err := r.do(ctx, http.MethodPost, book, r.token)
	if err != nil {
		return err
	}
	if err := expectStatus(status, http.StatusCreated); err != nil {
		return err
	}

	saved, err := r.store.GetBook(ctx, book.ISBN)
	if err != nil {
		return fmt.Errorf("read back %s: %w", book.ISBN, err)
	}
	if *saved != book {
		return fmt.Errorf("stored %+v, want %+v", *saved, book)
	}
	return nil
}

func (r *run) do(ctx context.Context, method string, payload any, token string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.booksURL(), body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

// remove deletes test books even when ctx has been cancelled.
func (r *run) remove(ctx context.Context, books []domain.Book) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var errs []error
	for _, b := range books {
		if err := r.store.DeleteBook(ctx, b.ISBN); err != nil {
			errs = append(errs, fmt.Errorf("clean up %s: %w", b.ISBN, err))
		}
	}
	return errors.Join(errs...)
}

func expectStatus(got, want int) error {
	if got != want {
		return fmt.Errorf("status %d, want %d", got, want)
	}
	return nil
}

func buildBooks(n int) []domain.Book {
	out := make([]domain.Book, n)
	for i := range out {
		out[i] = domain.Book{
			ISBN:      uuid.NewString(),
			Title:     fmt.Sprintf("title_%d", i),
			Year:      2000 + i,
			Author:    fmt.Sprintf("author_%d", i),
			Publisher: fmt.Sprintf("publisher_%d", i),
			Rating:    i,
			Pages:     100 + i,
		}
	}
	return out
}
