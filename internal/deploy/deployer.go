// Package deploy runs the per-environment deploy stage: provision a candidate
// with zero traffic, wait for the validation verdict, then shift traffic or
// roll back.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/orchestrator"
)

const tracerName = "github.com/booksapi/release-pipeline/internal/deploy"

var (
	// ErrCandidateInFlight is returned when an environment already has a
	// candidate that has not reached a terminal state.
	ErrCandidateInFlight = errors.New("a candidate is already deploying to this environment")

	// ErrRolledBack is returned when the candidate never went live.
	ErrRolledBack = errors.New("deployment rolled back")
)

// Result is the outcome of a deployment that went live.
type Result struct {
	Deployment domain.Deployment
	// Outputs are the candidate's outputs. They are only ever returned for a
	// live deployment.
	Outputs map[string]string
}

// Deployer runs deployments. Environments are independent; within one
// environment at most one candidate is in flight.
type Deployer struct {
	provisioner ports.Provisioner
	validation  *orchestrator.Validation
	shifter     orchestrator.Shifter
	logger      *slog.Logger
	tracer      trace.Tracer

	mu          sync.Mutex
	inFlight    map[string]string // environment -> deployment id
	deployments map[string]*domain.Deployment
}

// New creates a deployer. A nil shifter shifts all traffic at once.
func New(provisioner ports.Provisioner, validation *orchestrator.Validation, shifter orchestrator.Shifter, logger *slog.Logger) *Deployer {
	if shifter == nil {
		shifter = orchestrator.AllAtOnce{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		provisioner: provisioner,
		validation:  validation,
		shifter:     shifter,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		inFlight:    make(map[string]string),
		deployments: make(map[string]*domain.Deployment),
	}
}

// Deploy releases artifact to environment. It returns once the deployment is
// terminal: a Result when live, an error wrapping ErrRolledBack otherwise.
func (d *Deployer) Deploy(ctx context.Context, environment string, artifact domain.ArtifactRef) (*Result, error) {
	dep, err := d.begin(environment)
	if err != nil {
		return nil, err
	}
	defer d.finish(environment)

	ctx, span := d.tracer.Start(ctx, "deploy "+environment, trace.WithAttributes(
		attribute.String("deployment.id", dep.ID),
		attribute.String("deployment.environment", environment),
	))
	defer span.End()

	logger := d.logger.With(
		slog.String("deployment_id", dep.ID),
		slog.String("environment", environment),
	)

	live, err := d.provisioner.LiveVersion(ctx, environment)
	if err != nil {
		d.transition(dep, domain.DeploymentRolledBack, nil)
		return nil, fmt.Errorf("%w: read live version: %v", ErrRolledBack, err)
	}
	d.update(dep, func(dep *domain.Deployment) { dep.LiveVersion = live })

	candidate, err := d.provisioner.Provision(ctx, environment, artifact)
	if err != nil {
		d.transition(dep, domain.DeploymentRolledBack, nil)
		logger.Error("provisioning failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: provision: %v", ErrRolledBack, err)
	}
	d.transition(dep, domain.DeploymentAwaitingValidation, func(dep *domain.Deployment) {
		dep.CandidateVersion = candidate.Version
	})
	logger.Info("candidate awaiting validation",
		slog.String("candidate", candidate.Version),
		slog.String("live", live),
	)

	rv := d.validation.Run(ctx, dep.ID, candidate.Target)
	if rv.Verdict != domain.VerdictSucceeded {
		reason := "validation failed"
		if rv.Expired {
			reason = "validation timed out"
		}
		d.rollback(ctx, logger, dep, environment, live, candidate.Version, false)
		return nil, fmt.Errorf("%w: %s (%s)", ErrRolledBack, reason, rv.Event)
	}

	d.transition(dep, domain.DeploymentTrafficShifting, nil)
	err = d.shifter.Shift(ctx, d.provisioner, environment, candidate.Version, func(pct int) {
		d.update(dep, func(dep *domain.Deployment) { dep.TrafficPercent = pct })
		logger.Info("traffic shifted", slog.Int("percent", pct))
	})
	if err != nil {
		d.rollback(ctx, logger, dep, environment, live, candidate.Version, true)
		return nil, fmt.Errorf("%w: traffic shift: %v", ErrRolledBack, err)
	}

	d.transition(dep, domain.DeploymentLive, nil)
	logger.Info("candidate is live", slog.String("version", candidate.Version))

	outputs := make(map[string]string, len(candidate.Outputs))
	for k, v := range candidate.Outputs {
		outputs[k] = v
	}
	return &Result{Deployment: d.snapshot(dep), Outputs: outputs}, nil
}

// rollback restores the previous version's traffic (when some was moved) and
// discards the candidate. It runs even if ctx is cancelled.
func (d *Deployer) rollback(ctx context.Context, logger *slog.Logger, dep *domain.Deployment, environment, live, candidate string, shifted bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if shifted && live != "" {
		if err := d.provisioner.SetTraffic(ctx, environment, live, 100); err != nil {
			logger.Error("failed to restore traffic", slog.String("live", live), slog.String("error", err.Error()))
		}
	}
	if err := d.provisioner.Discard(ctx, environment, candidate); err != nil {
		logger.Warn("failed to discard candidate", slog.String("candidate", candidate), slog.String("error", err.Error()))
	}
	d.transition(dep, domain.DeploymentRolledBack, func(dep *domain.Deployment) { dep.TrafficPercent = 0 })
	logger.Warn("deployment rolled back", slog.String("candidate", candidate))
}

func (d *Deployer) begin(environment string) (*domain.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.inFlight[environment]; ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrCandidateInFlight, environment, id)
	}

	now := time.Now()
	dep := &domain.Deployment{
		ID:          newDeploymentID(),
		Environment: environment,
		State:       domain.DeploymentProvisioning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	d.inFlight[environment] = dep.ID
	d.deployments[dep.ID] = dep
	return dep, nil
}

func (d *Deployer) finish(environment string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, environment)
}

func (d *Deployer) transition(dep *domain.Deployment, to domain.DeploymentState, mutate func(*domain.Deployment)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mutate != nil {
		mutate(dep)
	}
	if err := dep.Transition(to); err != nil {
		// Transitions are driven by Deploy only; reaching here is a bug.
		panic(err)
	}
}

func (d *Deployer) update(dep *domain.Deployment, mutate func(*domain.Deployment)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mutate(dep)
	dep.UpdatedAt = time.Now()
}

func (d *Deployer) snapshot(dep *domain.Deployment) domain.Deployment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *dep
}

// Get returns a deployment by id.
func (d *Deployer) Get(id string) (domain.Deployment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployments[id]
	if !ok {
		return domain.Deployment{}, false
	}
	return *dep, true
}

// List returns every deployment, newest first.
func (d *Deployer) List() []domain.Deployment {
	d.mu.Lock()
	out := make([]domain.Deployment, 0, len(d.deployments))
	for _, dep := range d.deployments {
		out = append(out, *dep)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// newDeploymentID mimics the managed orchestrator's "d-XXXXXXXXX" ids.
func newDeploymentID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "d-" + id[:9]
}
