package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/deploy"
)

type deployAction struct {
	deployer *deploy.Deployer
	logger   *slog.Logger
}

func newDeploy(d *deploy.Deployer, logger *slog.Logger) *deployAction {
	return &deployAction{deployer: d, logger: logger}
}

// Run deploys the bundle at ARTIFACTS_PATH to ENVIRONMENT. The environment's
// outputs are published only once the candidate is live.
func (a *deployAction) Run(ctx context.Context, in *ports.ActionInput) (*ports.ActionOutput, error) {
	env := in.Env["ENVIRONMENT"]
	path := in.Env["ARTIFACTS_PATH"]
	if env == "" || path == "" {
		return nil, fmt.Errorf("%w: deploy needs ENVIRONMENT and ARTIFACTS_PATH", domain.ErrInvalidArgument)
	}

	a.logger.Info("deploying",
		slog.String("run_id", in.RunID),
		slog.String("stack", in.Env["STACK_NAME"]),
		slog.String("environment", env),
		slog.String("artifact", path),
	)
	res, err := a.deployer.Deploy(ctx, env, domain.ArtifactRef{Name: "BuildArtifact", Location: path})
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(res.Outputs)+2)
	for k, v := range res.Outputs {
		vars[k] = v
	}
	vars["DEPLOYMENT_ID"] = res.Deployment.ID
	vars["VERSION"] = res.Deployment.CandidateVersion
	return &ports.ActionOutput{Variables: vars}, nil
}
