// Package ports defines the core interfaces for the release pipeline.
// This file contains the pipeline action interfaces.
package ports

import (
	"context"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// ActionInput is handed to an action when its runOrder group starts.
type ActionInput struct {
	// RunID identifies the pipeline run.
	RunID string `json:"run_id"`
	// Stage and Action name the position of the action in the pipeline.
	Stage  string `json:"stage"`
	Action string `json:"action"`
	// Env holds the action's environment with every variable reference
	// already resolved.
	Env map[string]string `json:"env,omitempty"`
	// InputArtifact is the artifact named by the action spec, if any.
	InputArtifact *domain.ArtifactRef `json:"input_artifact,omitempty"`
}

// ActionOutput is returned by an action that succeeded.
type ActionOutput struct {
	// Variables are published under the action's namespace.
	Variables map[string]string `json:"variables,omitempty"`
	// Artifacts are keyed by the output artifact names of the action spec.
	Artifacts map[string]domain.ArtifactRef `json:"artifacts,omitempty"`
}

// Action is a unit of work in a pipeline stage.
type Action interface {
	// Run executes the action. A non-nil error fails the action and halts the
	// pipeline.
	Run(ctx context.Context, in *ActionInput) (*ActionOutput, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, in *ActionInput) (*ActionOutput, error)

// Run calls f.
func (f ActionFunc) Run(ctx context.Context, in *ActionInput) (*ActionOutput, error) {
	return f(ctx, in)
}

// StatusObserver receives stage/action status transitions.
// Implementations: run history stores, logging.
type StatusObserver interface {
	Observe(ctx context.Context, ev domain.StatusEvent) error
}
