package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

const tracerName = "github.com/booksapi/release-pipeline/internal/pipeline"

// Executor runs a validated pipeline. Stages run strictly in order; inside a
// stage, actions are grouped by ascending runOrder and each group runs
// concurrently.
type Executor struct {
	name      string
	stages    []stagePlan
	observers []ports.StatusObserver
	logger    *slog.Logger
	tracer    trace.Tracer
}

// ExecutorConfig configures an executor.
type ExecutorConfig struct {
	Name      string
	Stages    []StageConfig
	Observers []ports.StatusObserver
	Logger    *slog.Logger
}

// StageConfig is the configuration for a single stage.
type StageConfig struct {
	Name    string
	Actions []ActionConfig
}

// ActionConfig binds an action spec to its implementation.
type ActionConfig struct {
	Spec   domain.ActionSpec
	Action ports.Action
}

type stagePlan struct {
	name   string
	groups []actionGroup
}

type actionGroup struct {
	runOrder int
	actions  []ActionConfig
}

// RunResult describes a finished (or halted) run. Variables and Artifacts
// contain everything produced before the run ended, including on failure.
type RunResult struct {
	RunID        string                        `json:"run_id"`
	Pipeline     string                        `json:"pipeline"`
	Status       domain.ActionStatus           `json:"status"`
	FailedStage  string                        `json:"failed_stage,omitempty"`
	FailedAction string                        `json:"failed_action,omitempty"`
	Variables    map[string]map[string]string  `json:"variables"`
	Artifacts    map[string]domain.ArtifactRef `json:"artifacts"`
	Duration     time.Duration                 `json:"duration_ns"`
}

// NewExecutor validates the pipeline topology and returns an executor.
// Every configuration problem is reported here as a *domain.ConfigError,
// before anything runs.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	stages, err := plan(cfg.Stages)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "pipeline"
	}

	return &Executor{
		name:      name,
		stages:    stages,
		observers: cfg.Observers,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

type position struct {
	stageIdx int
	stage    string
	action   string
	runOrder int
}

func (p position) before(other position) bool {
	if p.stageIdx != other.stageIdx {
		return p.stageIdx < other.stageIdx
	}
	return p.runOrder < other.runOrder
}

func plan(stages []StageConfig) ([]stagePlan, error) {
	if len(stages) == 0 {
		return nil, &domain.ConfigError{Reason: "pipeline has no stages"}
	}

	namespaces := make(map[string]position)
	artifacts := make(map[string]position)
	stageNames := make(map[string]struct{})

	// First pass: names and declarations.
	for si, st := range stages {
		if st.Name == "" {
			return nil, &domain.ConfigError{Reason: fmt.Sprintf("stage %d has no name", si+1)}
		}
		if _, dup := stageNames[st.Name]; dup {
			return nil, &domain.ConfigError{Stage: st.Name, Reason: "duplicate stage name"}
		}
		stageNames[st.Name] = struct{}{}
		if len(st.Actions) == 0 {
			return nil, &domain.ConfigError{Stage: st.Name, Reason: "stage has no actions"}
		}

		actionNames := make(map[string]struct{})
		for _, ac := range st.Actions {
			spec := ac.Spec
			if spec.Name == "" {
				return nil, &domain.ConfigError{Stage: st.Name, Reason: "action has no name"}
			}
			if _, dup := actionNames[spec.Name]; dup {
				return nil, &domain.ConfigError{Stage: st.Name, Action: spec.Name, Reason: "duplicate action name"}
			}
			actionNames[spec.Name] = struct{}{}
			if ac.Action == nil {
				return nil, &domain.ConfigError{Stage: st.Name, Action: spec.Name, Reason: "no implementation bound"}
			}

			pos := position{stageIdx: si, stage: st.Name, action: spec.Name, runOrder: spec.EffectiveRunOrder()}
			if spec.Namespace != "" {
				if prev, dup := namespaces[spec.Namespace]; dup {
					return nil, &domain.ConfigError{Stage: st.Name, Action: spec.Name,
						Reason: fmt.Sprintf("namespace %s already declared by %s/%s", spec.Namespace, prev.stage, prev.action)}
				}
				namespaces[spec.Namespace] = pos
			}
			for _, out := range spec.OutputArtifacts {
				if prev, dup := artifacts[out]; dup {
					return nil, &domain.ConfigError{Stage: st.Name, Action: spec.Name,
						Reason: fmt.Sprintf("output artifact %s already declared by %s/%s", out, prev.stage, prev.action)}
				}
				artifacts[out] = pos
			}
		}
	}

	// Second pass: every consumed namespace and artifact must come from an
	// action that completes strictly before the consumer starts.
	for si, st := range stages {
		for _, ac := range st.Actions {
			spec := ac.Spec
			pos := position{stageIdx: si, stage: st.Name, action: spec.Name, runOrder: spec.EffectiveRunOrder()}

			for _, ref := range spec.VariableRefs() {
				producer, ok := namespaces[ref.Namespace]
				if err := checkDependency(st.Name, spec.Name, "variable "+ref.String(), "namespace "+ref.Namespace, producer, ok, pos); err != nil {
					return nil, err
				}
			}
			if spec.InputArtifact != "" {
				producer, ok := artifacts[spec.InputArtifact]
				if err := checkDependency(st.Name, spec.Name, "input artifact", "artifact "+spec.InputArtifact, producer, ok, pos); err != nil {
					return nil, err
				}
			}
		}
	}

	plans := make([]stagePlan, 0, len(stages))
	for _, st := range stages {
		plans = append(plans, stagePlan{name: st.Name, groups: groupByRunOrder(st.Actions)})
	}
	return plans, nil
}

func checkDependency(stage, action, what, subject string, producer position, ok bool, consumer position) error {
	switch {
	case !ok:
		return &domain.ConfigError{Stage: stage, Action: action,
			Reason: fmt.Sprintf("%s references unknown %s", what, subject)}
	case producer.stageIdx == consumer.stageIdx && producer.action == consumer.action:
		return &domain.ConfigError{Stage: stage, Action: action,
			Reason: fmt.Sprintf("%s references its own %s", what, subject)}
	case !producer.before(consumer):
		return &domain.ConfigError{Stage: stage, Action: action,
			Reason: fmt.Sprintf("%s references %s produced by %s/%s, which does not complete before this action starts",
				what, subject, producer.stage, producer.action)}
	}
	return nil
}

func groupByRunOrder(actions []ActionConfig) []actionGroup {
	sorted := make([]ActionConfig, len(actions))
	copy(sorted, actions)

	// Sort by run order, keeping declaration order within a group
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Spec.EffectiveRunOrder() < sorted[j].Spec.EffectiveRunOrder()
	})

	var groups []actionGroup
	for _, ac := range sorted {
		order := ac.Spec.EffectiveRunOrder()
		if len(groups) == 0 || groups[len(groups)-1].runOrder != order {
			groups = append(groups, actionGroup{runOrder: order})
		}
		g := &groups[len(groups)-1]
		g.actions = append(g.actions, ac)
	}
	return groups
}

// Name returns the pipeline name.
func (e *Executor) Name() string {
	return e.name
}

// Spec returns the validated topology.
func (e *Executor) Spec() domain.PipelineSpec {
	spec := domain.PipelineSpec{Name: e.name}
	for _, st := range e.stages {
		ss := domain.StageSpec{Name: st.name}
		for _, g := range st.groups {
			for _, ac := range g.actions {
				ss.Actions = append(ss.Actions, ac.Spec)
			}
		}
		spec.Stages = append(spec.Stages, ss)
	}
	return spec
}

type runState struct {
	id        string
	vars      *Variables
	mu        sync.Mutex
	artifacts map[string]domain.ArtifactRef
}

func (r *runState) artifact(name string) (domain.ArtifactRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.artifacts[name]
	return ref, ok
}

func (r *runState) putArtifact(name string, ref domain.ArtifactRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[name] = ref
}

func (r *runState) artifactSnapshot() map[string]domain.ArtifactRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.ArtifactRef, len(r.artifacts))
	for k, v := range r.artifacts {
		out[k] = v
	}
	return out
}

// Run executes the pipeline once. If runID is empty a new one is generated.
//
// The first failing action halts its stage and the pipeline. Cancelling ctx
// stops the run at the next stage boundary; actions already running see the
// cancellation through their own context.
func (e *Executor) Run(ctx context.Context, runID string) (*RunResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	run := &runState{
		id:        runID,
		vars:      NewVariables(),
		artifacts: make(map[string]domain.ArtifactRef),
	}
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "pipeline "+e.name,
		trace.WithAttributes(attribute.String("pipeline.run_id", runID)))
	defer span.End()

	e.logger.Info("pipeline run started",
		slog.String("pipeline", e.name),
		slog.String("run_id", runID),
	)
	e.emit(ctx, run, "", "", domain.ActionRunning, nil)

	var runErr error
	for _, st := range e.stages {
		if err := ctx.Err(); err != nil {
			runErr = &AbortedError{Stage: st.name, Err: err}
			break
		}
		if err := e.runStage(ctx, run, st); err != nil {
			runErr = err
			break
		}
	}

	result := &RunResult{
		RunID:     runID,
		Pipeline:  e.name,
		Status:    domain.ActionSucceeded,
		Variables: run.vars.Snapshot(),
		Artifacts: run.artifactSnapshot(),
		Duration:  time.Since(start),
	}

	if runErr != nil {
		result.Status = domain.ActionFailed
		if af, ok := runErr.(*ActionFailedError); ok {
			result.FailedStage = af.Stage
			result.FailedAction = af.Action
		} else if ab, ok := runErr.(*AbortedError); ok {
			result.FailedStage = ab.Stage
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		e.emit(ctx, run, "", "", domain.ActionFailed, runErr)
		e.logger.Error("pipeline run failed",
			slog.String("pipeline", e.name),
			slog.String("run_id", runID),
			slog.String("error", runErr.Error()),
			slog.Duration("duration", result.Duration),
		)
		return result, runErr
	}

	e.emit(ctx, run, "", "", domain.ActionSucceeded, nil)
	e.logger.Info("pipeline run succeeded",
		slog.String("pipeline", e.name),
		slog.String("run_id", runID),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Executor) runStage(ctx context.Context, run *runState, st stagePlan) error {
	ctx, span := e.tracer.Start(ctx, "stage "+st.name,
		trace.WithAttributes(attribute.String("pipeline.stage", st.name)))
	defer span.End()

	e.emit(ctx, run, st.name, "", domain.ActionRunning, nil)

	for _, g := range st.groups {
		if err := e.runGroup(ctx, run, st.name, g); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.emit(ctx, run, st.name, "", domain.ActionFailed, err)
			return err
		}
	}

	e.emit(ctx, run, st.name, "", domain.ActionSucceeded, nil)
	return nil
}

// runGroup starts every action of the group and waits for all of them. The
// first failure cancels the others' context; Wait returns that failure.
func (e *Executor) runGroup(ctx context.Context, run *runState, stage string, g actionGroup) error {
	if len(g.actions) == 1 {
		return e.runAction(ctx, run, stage, g.actions[0])
	}

	eg, gctx := errgroup.WithContext(ctx)
	for _, ac := range g.actions {
		ac := ac // per-iteration copy; go.mod targets go1.21 loop semantics
		eg.Go(func() error {
			return e.runAction(gctx, run, stage, ac)
		})
	}
	return eg.Wait()
}

func (e *Executor) runAction(ctx context.Context, run *runState, stage string, ac ActionConfig) (err error) {
	name := ac.Spec.Name
	ctx, span := e.tracer.Start(ctx, "action "+stage+"/"+name,
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage),
			attribute.String("pipeline.action", name),
			attribute.String("pipeline.action_type", ac.Spec.Type),
			attribute.Int("pipeline.run_order", ac.Spec.EffectiveRunOrder()),
		))
	defer span.End()

	start := time.Now()
	e.emit(ctx, run, stage, name, domain.ActionRunning, nil)

	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.emit(ctx, run, stage, name, domain.ActionFailed, err)
		e.logger.Error("action failed",
			slog.String("run_id", run.id),
			slog.String("stage", stage),
			slog.String("action", name),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		err = &ActionFailedError{Stage: stage, Action: name, Err: err}
	}()

	env, err := run.vars.Resolve(ac.Spec.Env)
	if err != nil {
		return err
	}

	in := &ports.ActionInput{
		RunID:  run.id,
		Stage:  stage,
		Action: name,
		Env:    env,
	}
	if ac.Spec.InputArtifact != "" {
		ref, ok := run.artifact(ac.Spec.InputArtifact)
		if !ok {
			return fmt.Errorf("input artifact %s is not available", ac.Spec.InputArtifact)
		}
		in.InputArtifact = &ref
	}

	out, err := invoke(ctx, ac.Action, in)
	if err != nil {
		return err
	}
	if out == nil {
		out = &ports.ActionOutput{}
	}

	for _, artifactName := range ac.Spec.OutputArtifacts {
		ref, ok := out.Artifacts[artifactName]
		if !ok {
			return fmt.Errorf("declared output artifact %s was not produced", artifactName)
		}
		if ref.Name == "" {
			ref.Name = artifactName
		}
		run.putArtifact(artifactName, ref)
	}
	run.vars.Publish(ac.Spec.Namespace, out.Variables)

	e.emit(ctx, run, stage, name, domain.ActionSucceeded, nil)
	e.logger.Info("action succeeded",
		slog.String("run_id", run.id),
		slog.String("stage", stage),
		slog.String("action", name),
		slog.Int("variables", len(out.Variables)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// invoke runs the action and turns a panic into an action failure.
func invoke(ctx context.Context, action ports.Action, in *ports.ActionInput) (out *ports.ActionOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action.Run(ctx, in)
}

func (e *Executor) emit(ctx context.Context, run *runState, stage, action string, status domain.ActionStatus, cause error) {
	if len(e.observers) == 0 {
		return
	}
	ev := domain.StatusEvent{
		RunID:     run.id,
		Pipeline:  e.name,
		Stage:     stage,
		Action:    action,
		Status:    status,
		Timestamp: time.Now(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}

	// Status must still be recorded after the run's context is cancelled.
	ctx = context.WithoutCancel(ctx)
	for _, obs := range e.observers {
		if err := obs.Observe(ctx, ev); err != nil {
			e.logger.Warn("status observer failed",
				slog.String("run_id", run.id),
				slog.String("stage", stage),
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
		}
	}
}
