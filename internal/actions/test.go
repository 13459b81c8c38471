package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/e2e"
)

type testAction struct {
	suite  *e2e.Suite
	logger *slog.Logger
}

func newTest(suite *e2e.Suite, logger *slog.Logger) *testAction {
	return &testAction{suite: suite, logger: logger}
}

// Run executes the end-to-end suite against the environment named by the
// action's variables. Any failing scenario fails the action.
func (a *testAction) Run(ctx context.Context, in *ports.ActionInput) (*ports.ActionOutput, error) {
	target, err := e2e.TargetFromEnv(in.Env)
	if err != nil {
		return nil, err
	}

	report, err := a.suite.Run(ctx, target)
	if err != nil {
		if report != nil {
			if failed := failedScenarios(report); len(failed) > 0 {
				return nil, fmt.Errorf("end-to-end scenarios failed [%s]: %w", strings.Join(failed, ", "), err)
			}
		}
		return nil, err
	}

	a.logger.Info("end-to-end suite passed",
		slog.String("run_id", in.RunID),
		slog.String("endpoint", target.Endpoint),
		slog.Int("scenarios", len(report.Scenarios)),
	)
	return &ports.ActionOutput{
		Variables: map[string]string{"SCENARIOS_PASSED": fmt.Sprint(len(report.Scenarios))},
	}, nil
}

func failedScenarios(r *e2e.Report) []string {
	var names []string
	for _, s := range r.Scenarios {
		if !s.Passed {
			names = append(names, s.Name)
		}
	}
	return names
}
