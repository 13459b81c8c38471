package pipeline

import (
	"context"
	"sync"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// Holder serves the most recently installed executor. Swapping takes effect
// for the next run; a run in progress keeps the executor it started with.
type Holder struct {
	mu   sync.RWMutex
	exec *Executor
}

// NewHolder creates a holder serving exec.
func NewHolder(exec *Executor) *Holder {
	return &Holder{exec: exec}
}

// Swap installs exec for subsequent runs.
func (h *Holder) Swap(exec *Executor) {
	h.mu.Lock()
	h.exec = exec
	h.mu.Unlock()
}

// Current returns the installed executor.
func (h *Holder) Current() *Executor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exec
}

// Run runs the installed executor.
func (h *Holder) Run(ctx context.Context, runID string) (*RunResult, error) {
	return h.Current().Run(ctx, runID)
}

// Spec returns the installed pipeline topology.
func (h *Holder) Spec() domain.PipelineSpec {
	return h.Current().Spec()
}
