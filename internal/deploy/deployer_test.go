package deploy

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/orchestrator"
)

// fakeProvisioner records calls and can block provisioning.
type fakeProvisioner struct {
	mu        sync.Mutex
	live      string
	traffic   []string
	discarded []string
	provErr   error
	trafficAt int // SetTraffic fails for percents >= trafficAt when non-zero
	gate      chan struct{}
}

func (p *fakeProvisioner) Provision(ctx context.Context, env string, a domain.ArtifactRef) (*domain.Candidate, error) {
	if p.gate != nil {
		<-p.gate
	}
	if p.provErr != nil {
		return nil, p.provErr
	}
	return &domain.Candidate{
		Version: "v2",
		Target:  "books-create:v2",
		Outputs: map[string]string{"API_ENDPOINT": "https://api/staging/"},
	}, nil
}

func (p *fakeProvisioner) LiveVersion(ctx context.Context, env string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live, nil
}

func (p *fakeProvisioner) SetTraffic(ctx context.Context, env, version string, percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.trafficAt != 0 && percent >= p.trafficAt && version != p.live {
		return errors.New("alias update failed")
	}
	p.traffic = append(p.traffic, version+"@"+strconv.Itoa(percent))
	if percent == 100 {
		p.live = version
	}
	return nil
}

func (p *fakeProvisioner) Discard(ctx context.Context, env, version string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discarded = append(p.discarded, version)
	return nil
}

type hookFunc func(ctx context.Context, ev domain.LifecycleEvent, target string) (domain.Verdict, error)

func (f hookFunc) HandleLifecycleEvent(ctx context.Context, ev domain.LifecycleEvent, target string) (domain.Verdict, error) {
	return f(ctx, ev, target)
}

// reportingHook reports v through the ledger.
func reportingHook(l *orchestrator.Ledger, v domain.Verdict) hookFunc {
	return func(ctx context.Context, ev domain.LifecycleEvent, target string) (domain.Verdict, error) {
		return v, l.ReportVerdict(ctx, domain.VerdictReport{DeploymentID: ev.DeploymentID, HookExecutionID: ev.HookExecutionID, Status: v})
	}
}

func newDeployer(p *fakeProvisioner, hook func(l *orchestrator.Ledger) hookFunc, timeout time.Duration, shifter orchestrator.Shifter) *Deployer {
	l := orchestrator.NewLedger()
	return New(p, &orchestrator.Validation{Ledger: l, Hook: hook(l), Timeout: timeout}, shifter, nil)
}

func TestDeploy_Live(t *testing.T) {
	p := &fakeProvisioner{live: "v1"}
	var sawState domain.DeploymentState
	var d *Deployer
	d = newDeployer(p, func(l *orchestrator.Ledger) hookFunc {
		inner := reportingHook(l, domain.VerdictSucceeded)
		return func(ctx context.Context, ev domain.LifecycleEvent, target string) (domain.Verdict, error) {
			dep, _ := d.Get(ev.DeploymentID)
			sawState = dep.State
			return inner(ctx, ev, target)
		}
	}, time.Second, nil)

	res, err := d.Deploy(context.Background(), "staging", domain.ArtifactRef{Name: "BuildArtifact"})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	if sawState != domain.DeploymentAwaitingValidation {
		t.Errorf("state during validation = %v", sawState)
	}
	if res.Deployment.State != domain.DeploymentLive || res.Deployment.TrafficPercent != 100 {
		t.Errorf("deployment = %+v", res.Deployment)
	}
	if res.Deployment.LiveVersion != "v1" || res.Deployment.CandidateVersion != "v2" {
		t.Errorf("versions = %q -> %q", res.Deployment.LiveVersion, res.Deployment.CandidateVersion)
	}
	if res.Outputs["API_ENDPOINT"] != "https://api/staging/" {
		t.Errorf("outputs = %v", res.Outputs)
	}
	if len(p.discarded) != 0 {
		t.Errorf("discarded = %v", p.discarded)
	}
}

func TestDeploy_RolledBack(t *testing.T) {
	tests := []struct {
		name        string
		prov        *fakeProvisioner
		hook        func(l *orchestrator.Ledger) hookFunc
		timeout     time.Duration
		shifter     orchestrator.Shifter
		wantDiscard bool
		wantTraffic []string
	}{
		{
			name:        "verdict failed",
			prov:        &fakeProvisioner{live: "v1"},
			hook:        func(l *orchestrator.Ledger) hookFunc { return reportingHook(l, domain.VerdictFailed) },
			timeout:     time.Second,
			wantDiscard: true,
		},
		{
			name: "hook never reports",
			prov: &fakeProvisioner{live: "v1"},
			hook: func(l *orchestrator.Ledger) hookFunc {
				return func(ctx context.Context, ev domain.LifecycleEvent, target string) (domain.Verdict, error) {
					<-ctx.Done()
					return domain.VerdictFailed, ctx.Err()
				}
			},
			timeout:     20 * time.Millisecond,
			wantDiscard: true,
		},
		{
			name:    "provisioning fails",
			prov:    &fakeProvisioner{live: "v1", provErr: errors.New("package too large")},
			hook:    func(l *orchestrator.Ledger) hookFunc { return reportingHook(l, domain.VerdictSucceeded) },
			timeout: time.Second,
		},
		{
			name:        "traffic shift fails midway",
			prov:        &fakeProvisioner{live: "v1", trafficAt: 50},
			hook:        func(l *orchestrator.Ledger) hookFunc { return reportingHook(l, domain.VerdictSucceeded) },
			timeout:     time.Second,
			shifter:     orchestrator.Linear{StepPercent: 25, Interval: time.Millisecond},
			wantDiscard: true,
			wantTraffic: []string{"v2@25", "v1@100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeployer(tt.prov, tt.hook, tt.timeout, tt.shifter)

			res, err := d.Deploy(context.Background(), "staging", domain.ArtifactRef{})
			if !errors.Is(err, ErrRolledBack) {
				t.Fatalf("Deploy() error = %v, want ErrRolledBack", err)
			}
			if res != nil {
				t.Errorf("outputs exposed for a rolled back deployment: %+v", res)
			}

			deps := d.List()
			if len(deps) != 1 || deps[0].State != domain.DeploymentRolledBack {
				t.Fatalf("deployments = %+v", deps)
			}
			if tt.wantDiscard && (len(tt.prov.discarded) != 1 || tt.prov.discarded[0] != "v2") {
				t.Errorf("discarded = %v", tt.prov.discarded)
			}
			if tt.wantTraffic != nil {
				if len(tt.prov.traffic) != len(tt.wantTraffic) {
					t.Fatalf("traffic = %v, want %v", tt.prov.traffic, tt.wantTraffic)
				}
				for i := range tt.wantTraffic {
					if tt.prov.traffic[i] != tt.wantTraffic[i] {
						t.Errorf("traffic = %v, want %v", tt.prov.traffic, tt.wantTraffic)
					}
				}
			}
			if tt.prov.live != "v1" {
				t.Errorf("live = %q, want v1 untouched", tt.prov.live)
			}
		})
	}
}

func TestDeploy_AbortedMidValidation(t *testing.T) {
	p := &fakeProvisioner{live: "v1"}
	l := orchestrator.NewLedger()
	ctx, cancel := context.WithCancel(context.Background())

	var event domain.LifecycleEvent
	hook := hookFunc(func(hctx context.Context, ev domain.LifecycleEvent, target string) (domain.Verdict, error) {
		event = ev
		cancel()
		<-hctx.Done()
		return domain.VerdictFailed, hctx.Err()
	})
	d := New(p, &orchestrator.Validation{Ledger: l, Hook: hook}, nil, nil)

	if _, err := d.Deploy(ctx, "staging", domain.ArtifactRef{}); !errors.Is(err, ErrRolledBack) {
		t.Fatalf("Deploy() error = %v", err)
	}
	rv, resolved, err := l.Resolution(event)
	if err != nil || !resolved || rv.Verdict != domain.VerdictFailed {
		t.Errorf("lifecycle event = %+v resolved=%v err=%v, want Failed", rv, resolved, err)
	}
	if len(p.discarded) != 1 {
		t.Errorf("candidate not discarded after abort")
	}
}

func TestDeploy_OneCandidatePerEnvironment(t *testing.T) {
	p := &fakeProvisioner{live: "v1", gate: make(chan struct{})}
	d := newDeployer(p, func(l *orchestrator.Ledger) hookFunc { return reportingHook(l, domain.VerdictSucceeded) }, time.Second, nil)

	done := make(chan error, 1)
	go func() {
		_, err := d.Deploy(context.Background(), "staging", domain.ArtifactRef{})
		done <- err
	}()

	// Wait for the first deployment to register.
	deadline := time.Now().Add(time.Second)
	for len(d.List()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := d.Deploy(context.Background(), "staging", domain.ArtifactRef{}); !errors.Is(err, ErrCandidateInFlight) {
		t.Errorf("concurrent Deploy() error = %v, want ErrCandidateInFlight", err)
	}

	close(p.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Deploy() error = %v", err)
	}

	// Another environment and a later deploy are both allowed.
	if _, err := d.Deploy(context.Background(), "production", domain.ArtifactRef{}); err != nil {
		t.Errorf("production Deploy() error = %v", err)
	}
	if _, err := d.Deploy(context.Background(), "staging", domain.ArtifactRef{}); err != nil {
		t.Errorf("sequential Deploy() error = %v", err)
	}
}

func TestNewDeploymentID(t *testing.T) {
	id := newDeploymentID()
	if len(id) != 11 || id[:2] != "d-" {
		t.Errorf("newDeploymentID() = %q", id)
	}
	if id == newDeploymentID() {
		t.Error("ids are not unique")
	}
}
