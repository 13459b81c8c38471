// Package direct provides a status publisher that writes run history
// synchronously and logs every transition.
package direct

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Publisher implements ports.StatusObserver by writing directly to the run
// store. This is the default for single-process pipelines.
type Publisher struct {
	store  ports.RunStore
	logger *slog.Logger
}

var _ ports.StatusObserver = (*Publisher)(nil)

// NewPublisher creates a new direct status publisher.
func NewPublisher(store ports.RunStore, logger *slog.Logger) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("run store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger}, nil
}

// Observe logs the transition and appends it to the run's history.
func (p *Publisher) Observe(ctx context.Context, ev domain.StatusEvent) error {
	attrs := []any{
		slog.String("run_id", ev.RunID),
		slog.String("status", string(ev.Status)),
	}
	scope := "pipeline"
	if ev.Stage != "" {
		scope = "stage"
		attrs = append(attrs, slog.String("stage", ev.Stage))
	}
	if ev.Action != "" {
		scope = "action"
		attrs = append(attrs, slog.String("action", ev.Action))
	}

	if ev.Status == domain.ActionFailed {
		attrs = append(attrs, slog.String("error", ev.Error))
		p.logger.Warn(scope+" status", attrs...)
	} else {
		p.logger.Info(scope+" status", attrs...)
	}

	if err := p.store.Observe(ctx, ev); err != nil {
		return fmt.Errorf("record %s status: %w", scope, err)
	}
	return nil
}
