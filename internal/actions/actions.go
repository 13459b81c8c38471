// Package actions binds the pipeline's built-in action types to the
// components that perform them: source snapshots, builds, deployments, the
// end-to-end suite and the manual approval gate.
package actions

import (
	"fmt"
	"log/slog"

	"github.com/booksapi/release-pipeline/internal/approval"
	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/deploy"
	"github.com/booksapi/release-pipeline/internal/e2e"
	"github.com/booksapi/release-pipeline/internal/pipeline"
)

// Deps are the components the built-in actions run against. A nil component
// leaves its action type unavailable.
type Deps struct {
	Artifacts ports.ArtifactStore
	Deployer  *deploy.Deployer
	Suite     *e2e.Suite
	Gate      *approval.Gate

	Source config.SourceConfig
	Build  config.BuildConfig
	// Bucket is exported to build commands as S3_BUCKET.
	Bucket string

	Logger *slog.Logger
}

// Builders returns the builders for every action type whose dependencies are
// present.
func Builders(deps Deps) pipeline.Builders {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	b := pipeline.Builders{}

	if deps.Artifacts != nil {
		b["source"] = func(cfg config.PipelineActionConfig) (ports.Action, error) {
			return newSource(deps.Source, deps.Artifacts, firstOutput(cfg, "SourceArtifact"), deps.Logger), nil
		}
		b["build"] = func(cfg config.PipelineActionConfig) (ports.Action, error) {
			return newBuild(deps.Build, deps.Bucket, deps.Artifacts, firstOutput(cfg, "BuildArtifact"), deps.Logger), nil
		}
	}
	if deps.Deployer != nil {
		b["deploy"] = func(cfg config.PipelineActionConfig) (ports.Action, error) {
			if err := requireEnv(cfg, "ENVIRONMENT", "ARTIFACTS_PATH"); err != nil {
				return nil, err
			}
			return newDeploy(deps.Deployer, deps.Logger), nil
		}
	}
	if deps.Suite != nil {
		b["test"] = func(cfg config.PipelineActionConfig) (ports.Action, error) {
			if err := requireEnv(cfg, "API_ENDPOINT", "USER_POOL_ID", "USER_POOL_CLIENT_ID", "TABLE"); err != nil {
				return nil, err
			}
			return newTest(deps.Suite, deps.Logger), nil
		}
	}
	if deps.Gate != nil {
		b["approval"] = func(cfg config.PipelineActionConfig) (ports.Action, error) {
			return newApproval(deps.Gate, cfg.Information), nil
		}
	}
	return b
}

func firstOutput(cfg config.PipelineActionConfig, fallback string) string {
	if len(cfg.OutputArtifacts) > 0 {
		return cfg.OutputArtifacts[0]
	}
	return fallback
}

// requireEnv rejects configurations that can never supply a needed variable.
func requireEnv(cfg config.PipelineActionConfig, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := cfg.Env[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s action requires env %v", cfg.Type, missing)
	}
	return nil
}
