// Package storage opens the configured book and run-history backends.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/booksapi/release-pipeline/internal/awsutil"
	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/storage/dynamo"
	"github.com/booksapi/release-pipeline/internal/storage/memory"
	"github.com/booksapi/release-pipeline/internal/storage/sqlite"
)

// Stores groups the opened backends.
type Stores struct {
	Books ports.BookStore
	Runs  ports.RunStore

	closers []func() error
}

// Close releases every backend.
func (s *Stores) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the stores selected by cfg.Storage.Type. DynamoDB only holds
// books; run history then stays in memory.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		mem := memory.New()
		return &Stores{Books: mem, Runs: mem, closers: []func() error{mem.Close}}, nil

	case "sqlite":
		path := cfg.Storage.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		return &Stores{Books: store, Runs: store, closers: []func() error{store.Close}}, nil

	case "dynamodb":
		awsCfg, err := awsutil.LoadConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		books := dynamo.NewFromConfig(awsCfg, cfg.Storage.Table)
		runs := memory.New()
		return &Stores{Books: books, Runs: runs, closers: []func() error{books.Close, runs.Close}}, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}
