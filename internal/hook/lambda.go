package hook

import (
	"context"
	"fmt"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// LambdaResult is what the hook function returns to its invoker.
type LambdaResult struct {
	DeploymentID    string         `json:"DeploymentId"`
	HookExecutionID string         `json:"LifecycleEventHookExecutionId"`
	Status          domain.Verdict `json:"Status"`
}

// LambdaHandler adapts h to a function invoked with the lifecycle event
// itself. target is the candidate version to validate; empty uses the
// configured validation target. An error is returned only when the verdict
// could not be reported.
func LambdaHandler(h *Hook, target string) func(context.Context, domain.LifecycleEvent) (LambdaResult, error) {
	return func(ctx context.Context, ev domain.LifecycleEvent) (LambdaResult, error) {
		if ev.DeploymentID == "" || ev.HookExecutionID == "" {
			return LambdaResult{}, fmt.Errorf("%w: lifecycle event needs DeploymentId and LifecycleEventHookExecutionId", domain.ErrInvalidArgument)
		}
		verdict, err := h.HandleLifecycleEvent(ctx, ev, target)
		res := LambdaResult{DeploymentID: ev.DeploymentID, HookExecutionID: ev.HookExecutionID, Status: verdict}
		if err != nil {
			return res, fmt.Errorf("report verdict for %s: %w", ev, err)
		}
		return res, nil
	}
}

// TargetFromEnv returns the candidate version named by FN_NEW_VERSION.
func TargetFromEnv(getenv func(string) string) string {
	return getenv("FN_NEW_VERSION")
}
