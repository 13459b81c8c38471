// Package domain holds the release pipeline's core types: pipeline topology,
// run status, deployments, lifecycle events and verdicts.
package domain

import (
	"sort"
	"time"
)

// ActionStatus is the execution status of a single pipeline action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ActionStatus) Terminal() bool {
	return s == ActionSucceeded || s == ActionFailed
}

// DefaultRunOrder is used for actions that do not set one.
const DefaultRunOrder = 1

// PipelineSpec is the declared topology of a pipeline.
type PipelineSpec struct {
	Name   string      `json:"name"`
	Stages []StageSpec `json:"stages"`
}

// StageSpec is one named stage and its actions.
type StageSpec struct {
	Name    string       `json:"name"`
	Actions []ActionSpec `json:"actions"`
}

// ActionSpec declares a unit of work inside a stage.
//
// Env values may reference output variables of earlier actions using the
// #{Namespace.KEY} syntax; see ExtractVariableRefs.
type ActionSpec struct {
	Name            string            `json:"name"`
	Type            string            `json:"type"`
	RunOrder        int               `json:"run_order"`
	InputArtifact   string            `json:"input_artifact,omitempty"`
	OutputArtifacts []string          `json:"output_artifacts,omitempty"`
	Namespace       string            `json:"namespace,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
}

// EffectiveRunOrder returns RunOrder, defaulting to DefaultRunOrder.
func (a ActionSpec) EffectiveRunOrder() int {
	if a.RunOrder <= 0 {
		return DefaultRunOrder
	}
	return a.RunOrder
}

// VariableRefs returns every variable reference found in the action's env,
// sorted for stable error messages.
func (a ActionSpec) VariableRefs() []VariableRef {
	seen := make(map[VariableRef]struct{})
	var refs []VariableRef
	for _, v := range a.Env {
		for _, ref := range ExtractVariableRefs(v) {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].String() < refs[j].String()
	})
	return refs
}

// ArtifactRef points at a blob in the artifact store.
type ArtifactRef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Digest   string `json:"digest,omitempty"`
}

// StatusEvent is emitted on every stage/action status transition.
// Action is empty for stage-level and pipeline-level events; Stage is empty
// for pipeline-level events.
type StatusEvent struct {
	RunID     string       `json:"run_id"`
	Pipeline  string       `json:"pipeline"`
	Stage     string       `json:"stage,omitempty"`
	Action    string       `json:"action,omitempty"`
	Status    ActionStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RunRecord is the reconstructed state of a pipeline run.
type RunRecord struct {
	RunID    string                  `json:"run_id"`
	Pipeline string                  `json:"pipeline"`
	Status   ActionStatus            `json:"status"`
	Stages   map[string]ActionStatus `json:"stages"`
	Actions  map[string]ActionStatus `json:"actions"` // keyed by "stage/action"
	Events   []StatusEvent           `json:"events"`
}

// Apply folds a status event into the record.
func (r *RunRecord) Apply(ev StatusEvent) {
	if r.Stages == nil {
		r.Stages = make(map[string]ActionStatus)
	}
	if r.Actions == nil {
		r.Actions = make(map[string]ActionStatus)
	}
	r.RunID = ev.RunID
	if ev.Pipeline != "" {
		r.Pipeline = ev.Pipeline
	}
	switch {
	case ev.Stage == "":
		r.Status = ev.Status
	case ev.Action == "":
		r.Stages[ev.Stage] = ev.Status
	default:
		r.Actions[ev.Stage+"/"+ev.Action] = ev.Status
	}
	r.Events = append(r.Events, ev)
}
