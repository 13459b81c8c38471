package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Store is an in-memory implementation of BookStore and RunStore.
// Reads are always consistent.
type Store struct {
	mu    sync.RWMutex
	books map[string]domain.Book
	runs  map[string]*domain.RunRecord
}

var (
	_ ports.BookStore = (*Store)(nil)
	_ ports.RunStore  = (*Store)(nil)
)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		books: make(map[string]domain.Book),
		runs:  make(map[string]*domain.RunRecord),
	}
}

func (s *Store) PutBook(ctx context.Context, book domain.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.books[book.ISBN] = book
	return nil
}

func (s *Store) GetBook(ctx context.Context, isbn string) (*domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, exists := s.books[isbn]
	if !exists {
		return nil, fmt.Errorf("book %s: %w", isbn, domain.ErrNotFound)
	}

	return &book, nil
}

func (s *Store) DeleteBook(ctx context.Context, isbn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.books, isbn)
	return nil
}

func (s *Store) ListBooks(ctx context.Context) ([]domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Book, 0, len(s.books))
	for _, b := range s.books {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ISBN < result[j].ISBN
	})

	return result, nil
}

// Observe records a pipeline status event.
func (s *Store) Observe(ctx context.Context, ev domain.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[ev.RunID]
	if !ok {
		rec = &domain.RunRecord{RunID: ev.RunID}
		s.runs[ev.RunID] = rec
	}
	rec.Apply(ev)
	return nil
}

// GetRun returns a copy of the run's record.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}

	out := &domain.RunRecord{}
	for _, ev := range rec.Events {
		out.Apply(ev)
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
