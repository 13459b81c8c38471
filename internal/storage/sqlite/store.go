package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Store is a SQLite implementation of BookStore and RunStore
type Store struct {
	db *sql.DB
}

var (
	_ ports.BookStore = (*Store)(nil)
	_ ports.RunStore  = (*Store)(nil)
)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS books (
			isbn TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			year INTEGER NOT NULL DEFAULT 0,
			author TEXT NOT NULL,
			publisher TEXT NOT NULL,
			rating INTEGER NOT NULL DEFAULT 0,
			pages INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			pipeline TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) PutBook(ctx context.Context, book domain.Book) error {
	query := `INSERT INTO books (isbn, title, year, author, publisher, rating, pages, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(isbn) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			author = excluded.author,
			publisher = excluded.publisher,
			rating = excluded.rating,
			pages = excluded.pages,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		book.ISBN, book.Title, book.Year, book.Author, book.Publisher, book.Rating, book.Pages, time.Now())
	if err != nil {
		return fmt.Errorf("failed to put book: %w", err)
	}
	return nil
}

// GetBook reads through the single connection pool, so it always observes
// committed writes.
func (s *Store) GetBook(ctx context.Context, isbn string) (*domain.Book, error) {
	query := `SELECT isbn, title, year, author, publisher, rating, pages FROM books WHERE isbn = ?`

	var b domain.Book
	err := s.db.QueryRowContext(ctx, query, isbn).Scan(
		&b.ISBN, &b.Title, &b.Year, &b.Author, &b.Publisher, &b.Rating, &b.Pages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", isbn, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	return &b, nil
}

func (s *Store) DeleteBook(ctx context.Context, isbn string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE isbn = ?`, isbn); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

func (s *Store) ListBooks(ctx context.Context) ([]domain.Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT isbn, title, year, author, publisher, rating, pages FROM books ORDER BY isbn`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := []domain.Book{}
	for rows.Next() {
		var b domain.Book
		if err := rows.Scan(&b.ISBN, &b.Title, &b.Year, &b.Author, &b.Publisher, &b.Rating, &b.Pages); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}

	return books, rows.Err()
}

// Observe appends a pipeline status event.
func (s *Store) Observe(ctx context.Context, ev domain.StatusEvent) error {
	var errMsg sql.NullString
	if ev.Error != "" {
		errMsg = sql.NullString{String: ev.Error, Valid: true}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, pipeline, stage, action, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Pipeline, ev.Stage, ev.Action, string(ev.Status), errMsg, ts)
	if err != nil {
		return fmt.Errorf("failed to save run event: %w", err)
	}
	return nil
}

// GetRun replays the run's events in insertion order.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, pipeline, stage, action, status, error, created_at
		FROM run_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer rows.Close()

	rec := &domain.RunRecord{}
	found := false
	for rows.Next() {
		var ev domain.StatusEvent
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&ev.RunID, &ev.Pipeline, &ev.Stage, &ev.Action, &status, &errMsg, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		ev.Status = domain.ActionStatus(status)
		if errMsg.Valid {
			ev.Error = errMsg.String
		}
		rec.Apply(ev)
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}

	return rec, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
