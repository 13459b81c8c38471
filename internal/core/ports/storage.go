package ports

import (
	"context"
	"io"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// BookStore is the backing store shared by the CRUD service, the validation
// hook and the end-to-end suite.
type BookStore interface {
	// PutBook creates or replaces a record.
	PutBook(ctx context.Context, book domain.Book) error

	// GetBook is a strongly consistent point read. Returns domain.ErrNotFound
	// if the record does not exist.
	GetBook(ctx context.Context, isbn string) (*domain.Book, error)

	// DeleteBook removes a record. Deleting an absent record is not an error.
	DeleteBook(ctx context.Context, isbn string) error

	// ListBooks returns every record.
	ListBooks(ctx context.Context) ([]domain.Book, error)

	// Close releases the storage connection.
	Close() error
}

// RunStore persists pipeline status events and serves run records.
type RunStore interface {
	StatusObserver

	// GetRun rebuilds the record of a run. Returns domain.ErrNotFound for
	// unknown runs.
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
}

// ArtifactStore holds source snapshots and build bundles.
type ArtifactStore interface {
	// Put uploads the content and returns a reference to it.
	Put(ctx context.Context, name, key string, body io.Reader) (domain.ArtifactRef, error)

	// Open returns the content behind ref.
	Open(ctx context.Context, ref domain.ArtifactRef) (io.ReadCloser, error)
}
