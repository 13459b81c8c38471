package domain

import (
	"fmt"
	"time"
)

// LifecycleEvent is the token a deployment orchestrator issues when it asks a
// validation hook for a verdict. Each event receives exactly one verdict.
// The JSON names match the payload the managed orchestrator sends to hooks.
type LifecycleEvent struct {
	DeploymentID    string `json:"DeploymentId"`
	HookExecutionID string `json:"LifecycleEventHookExecutionId"`
}

func (e LifecycleEvent) String() string {
	return e.DeploymentID + "/" + e.HookExecutionID
}

// Validate checks that both halves of the token are present.
func (e LifecycleEvent) Validate() error {
	if e.DeploymentID == "" || e.HookExecutionID == "" {
		return fmt.Errorf("%w: lifecycle event requires deployment id and hook execution id", ErrInvalidArgument)
	}
	return nil
}

// Verdict is the outcome a validation hook reports for a lifecycle event.
type Verdict string

const (
	VerdictSucceeded Verdict = "Succeeded"
	VerdictFailed    Verdict = "Failed"
)

// ParseVerdict accepts exactly the two wire values.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictSucceeded, VerdictFailed:
		return Verdict(s), nil
	default:
		return "", fmt.Errorf("%w: unknown verdict %q", ErrInvalidArgument, s)
	}
}

// VerdictReport is sent back to the orchestrator's status endpoint.
type VerdictReport struct {
	DeploymentID    string  `json:"deploymentId"`
	HookExecutionID string  `json:"lifecycleEventHookExecutionId"`
	Status          Verdict `json:"status"`
}

// Event returns the lifecycle event this report resolves.
func (r VerdictReport) Event() LifecycleEvent {
	return LifecycleEvent{DeploymentID: r.DeploymentID, HookExecutionID: r.HookExecutionID}
}

// ResolvedVerdict is a verdict as recorded by the orchestrator.
type ResolvedVerdict struct {
	Event      LifecycleEvent `json:"event"`
	Verdict    Verdict        `json:"verdict"`
	ReportedAt time.Time      `json:"reported_at"`
	// Expired is set when the orchestrator resolved the event itself
	// (timeout or abort) instead of receiving a report.
	Expired bool `json:"expired,omitempty"`
}
