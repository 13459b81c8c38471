package domain

import (
	"errors"
	"fmt"
	"time"
)

// DeploymentState is the lifecycle state of a deployment within an
// environment.
type DeploymentState string

const (
	DeploymentProvisioning       DeploymentState = "provisioning"
	DeploymentAwaitingValidation DeploymentState = "awaiting_validation"
	DeploymentTrafficShifting    DeploymentState = "traffic_shifting"
	DeploymentLive               DeploymentState = "live"
	DeploymentRolledBack         DeploymentState = "rolled_back"
)

var deploymentTransitions = map[DeploymentState][]DeploymentState{
	DeploymentProvisioning:       {DeploymentAwaitingValidation, DeploymentRolledBack},
	DeploymentAwaitingValidation: {DeploymentTrafficShifting, DeploymentRolledBack},
	DeploymentTrafficShifting:    {DeploymentLive, DeploymentRolledBack},
}

// ErrInvalidTransition is returned for a state change the deployment state
// machine does not allow.
var ErrInvalidTransition = errors.New("invalid deployment state transition")

// Terminal reports whether the deployment has finished.
func (s DeploymentState) Terminal() bool {
	return s == DeploymentLive || s == DeploymentRolledBack
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to DeploymentState) bool {
	for _, next := range deploymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Deployment pairs the live version of a service with a candidate that starts
// with zero traffic.
type Deployment struct {
	ID               string          `json:"id"`
	Environment      string          `json:"environment"`
	LiveVersion      string          `json:"live_version,omitempty"`
	CandidateVersion string          `json:"candidate_version"`
	State            DeploymentState `json:"state"`
	TrafficPercent   int             `json:"traffic_percent"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Transition moves the deployment to the next state.
func (d *Deployment) Transition(to DeploymentState) error {
	if !CanTransition(d.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.State, to)
	}
	d.State = to
	d.UpdatedAt = time.Now()
	return nil
}

// Candidate is a provisioned but not yet live version of the service.
type Candidate struct {
	Version string `json:"version"`
	// Target is the internal invocation target the validation hook calls
	// (a function ARN/qualifier or an internal URL).
	Target string `json:"target"`
	// Outputs are published as action variables once the deployment is live.
	Outputs map[string]string `json:"outputs,omitempty"`
}
