// Package codedeploy reports hook verdicts to AWS CodeDeploy.
package codedeploy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"

	"github.com/booksapi/release-pipeline/internal/awsutil"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/orchestrator"
)

// StatusAPI is the subset of the CodeDeploy client the reporter uses.
type StatusAPI interface {
	PutLifecycleEventHookExecutionStatus(
		ctx context.Context,
		params *codedeploy.PutLifecycleEventHookExecutionStatusInput,
		optFns ...func(*codedeploy.Options),
	) (*codedeploy.PutLifecycleEventHookExecutionStatusOutput, error)
}

// Reporter implements VerdictReporter against CodeDeploy.
type Reporter struct {
	api StatusAPI
}

var _ ports.VerdictReporter = (*Reporter)(nil)

// New creates a reporter over api.
func New(api StatusAPI) *Reporter {
	return &Reporter{api: api}
}

// NewFromConfig creates a reporter using the default CodeDeploy client.
func NewFromConfig(cfg aws.Config) *Reporter {
	return New(codedeploy.NewFromConfig(cfg))
}

func (r *Reporter) ReportVerdict(ctx context.Context, report domain.VerdictReport) error {
	status, err := toStatus(report.Status)
	if err != nil {
		return err
	}

	_, err = r.api.PutLifecycleEventHookExecutionStatus(ctx, &codedeploy.PutLifecycleEventHookExecutionStatusInput{
		DeploymentId:                  aws.String(report.DeploymentID),
		LifecycleEventHookExecutionId: aws.String(report.HookExecutionID),
		Status:                        status,
	})
	switch {
	case err == nil:
		return nil
	case awsutil.HasErrorCode(err, "LifecycleEventAlreadyCompletedException"):
		return fmt.Errorf("%w: %s: %v", orchestrator.ErrVerdictAlreadyReported, report.Event(), err)
	case awsutil.HasErrorCode(err,
		"InvalidLifecycleEventHookExecutionIdException",
		"DeploymentDoesNotExistException",
		"InvalidDeploymentIdException"):
		return fmt.Errorf("%w: %s: %v", orchestrator.ErrUnknownEvent, report.Event(), err)
	default:
		return fmt.Errorf("put lifecycle event hook execution status: %w", err)
	}
}

func toStatus(v domain.Verdict) (types.LifecycleEventStatus, error) {
	switch v {
	case domain.VerdictSucceeded:
		return types.LifecycleEventStatusSucceeded, nil
	case domain.VerdictFailed:
		return types.LifecycleEventStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown verdict %q", domain.ErrInvalidArgument, v)
	}
}
