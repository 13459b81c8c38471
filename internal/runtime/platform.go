// Package runtime assembles the local release platform: stores, the
// simulated compute platform, the validation hook and its orchestrator, the
// approval gate, the pipeline and the HTTP surfaces that expose them.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/booksapi/release-pipeline/internal/actions"
	"github.com/booksapi/release-pipeline/internal/adapters/events/direct"
	"github.com/booksapi/release-pipeline/internal/approval"
	"github.com/booksapi/release-pipeline/internal/artifact"
	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/controlplane"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
	"github.com/booksapi/release-pipeline/internal/deploy"
	"github.com/booksapi/release-pipeline/internal/deploy/local"
	"github.com/booksapi/release-pipeline/internal/e2e"
	"github.com/booksapi/release-pipeline/internal/hook"
	"github.com/booksapi/release-pipeline/internal/identity"
	"github.com/booksapi/release-pipeline/internal/invoke"
	"github.com/booksapi/release-pipeline/internal/orchestrator"
	"github.com/booksapi/release-pipeline/internal/pipeline"
	"github.com/booksapi/release-pipeline/internal/server"
	"github.com/booksapi/release-pipeline/internal/storage"
)

// Platform is the running pipeline with everything it deploys to.
type Platform struct {
	// Dependencies (injected via options)
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	notify     func(approval.Request)

	stores      *storage.Stores
	provisioner *local.Provisioner
	deployer    *deploy.Deployer
	gate        *approval.Gate
	builders    pipeline.Builders
	observers   []ports.StatusObserver
	runs        *pipeline.Holder
	control     *controlplane.Server
	server      *server.Server

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles a platform. Configuration must come from WithConfigFile or
// WithConfig.
func New(ctx context.Context, opts ...Option) (*Platform, error) {
	p := &Platform{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if p.cfg == nil {
		return nil, fmt.Errorf("configuration required (use WithConfigFile or WithConfig)")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	if err := p.assemble(ctx); err != nil {
		p.cancel()
		if p.stores != nil {
			p.stores.Close()
		}
		return nil, err
	}
	return p, nil
}

func (p *Platform) assemble(ctx context.Context) error {
	cfg := p.cfg

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	p.stores = stores

	artifacts, err := artifact.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	// The local gateway verifies the tokens it issues itself.
	if cfg.Identity.Type != "" && cfg.Identity.Type != "memory" {
		return fmt.Errorf("identity type %q cannot back the local platform", cfg.Identity.Type)
	}
	ids := identity.NewMemory()

	p.provisioner = local.New(local.Config{
		BaseURL:   cfg.Server.BaseURL,
		Store:     stores.Books,
		Artifacts: artifacts,
		Verifier:  ids,
		TableName: cfg.Storage.Table,
		Logger:    p.logger,
	})

	ledger := orchestrator.NewLedger()
	var reporter ports.VerdictReporter = ledger
	if cfg.Hook.StatusURL != "" {
		reporter = orchestrator.NewClient(cfg.Hook.StatusURL, nil)
	}
	hk := hook.New(hook.ConfigFromSettings(cfg.Hook), stores.Books, invoke.NewHTTP(nil), reporter, hook.WithLogger(p.logger))

	shifter, err := orchestrator.NewShifter(cfg.Deploy.Traffic)
	if err != nil {
		return err
	}
	p.deployer = deploy.New(p.provisioner, &orchestrator.Validation{
		Ledger:  ledger,
		Hook:    hk,
		Timeout: config.Millis(cfg.Deploy.ValidationTimeoutMS),
		Retain:  config.Millis(cfg.Deploy.VerdictRetentionMS),
		Logger:  p.logger,
	}, shifter, p.logger)

	books := stores.Books
	suite := e2e.NewSuite(ids, func(ctx context.Context, table string) (ports.BookStore, error) {
		return books, nil
	}, nil, p.logger)

	p.gate = approval.NewGate(p.logger, p.notify)

	p.builders = actions.Builders(actions.Deps{
		Artifacts: artifacts,
		Deployer:  p.deployer,
		Suite:     suite,
		Gate:      p.gate,
		Source:    cfg.Source,
		Build:     cfg.Build,
		Bucket:    cfg.Artifacts.Bucket,
		Logger:    p.logger,
	})

	publisher, err := direct.NewPublisher(stores.Runs, p.logger)
	if err != nil {
		return err
	}
	p.observers = []ports.StatusObserver{publisher}

	exec, err := pipeline.NewExecutorFromConfig(cfg.Pipeline, p.builders, p.observers, p.logger)
	if err != nil {
		return err
	}
	p.runs = pipeline.NewHolder(exec)

	p.control = controlplane.NewServer(controlplane.Config{
		Runner:      p.runs,
		Runs:        stores.Runs,
		Deployments: p.deployer,
		BaseContext: p.ctx,
		Logger:      p.logger,
	})

	p.server = server.New(cfg.Server.Port, config.Millis(cfg.Server.RequestTimeoutMS), p.logger)
	r := p.server.Router
	r.Handle("/envs/*", p.provisioner.Routes())
	r.Handle("/lifecycle-events/*", orchestrator.NewHandler(ledger))
	approvals := approval.NewHandler(p.gate).Routes()
	r.Handle("/approvals", approvals)
	r.Handle("/approvals/*", approvals)
	r.Handle("/api/*", p.control)
	return nil
}

// Handler returns the platform's HTTP surface.
func (p *Platform) Handler() http.Handler {
	return p.server.Router
}

// Config returns the configuration the platform was assembled from.
func (p *Platform) Config() *config.Config {
	return p.cfg
}

// Spec returns the pipeline definition runs currently use.
func (p *Platform) Spec() domain.PipelineSpec {
	return p.runs.Spec()
}

// Gate returns the approval gate.
func (p *Platform) Gate() *approval.Gate {
	return p.gate
}

// Deployments returns the deploy stage's deployments.
func (p *Platform) Deployments() *deploy.Deployer {
	return p.deployer
}

// Provisioner returns the local compute platform.
func (p *Platform) Provisioner() *local.Provisioner {
	return p.provisioner
}

// StartRun starts a pipeline run in the background.
func (p *Platform) StartRun() (string, error) {
	return p.control.StartRun()
}

// Run executes one pipeline run and waits for it.
func (p *Platform) Run(ctx context.Context) (*pipeline.RunResult, error) {
	return p.runs.Run(ctx, "")
}

// Serve watches the configuration file (when one was given) and serves HTTP
// until ctx is done.
func (p *Platform) Serve(ctx context.Context) error {
	if p.configPath != "" {
		if err := p.watchConfig(ctx); err != nil {
			p.logger.Warn("pipeline definition will not reload", slog.String("error", err.Error()))
		}
	}
	p.logger.Info("release platform started",
		slog.String("pipeline", p.runs.Spec().Name),
		slog.String("base_url", p.cfg.Server.BaseURL),
		slog.String("storage", p.cfg.Storage.Type),
	)
	return p.server.Start(ctx)
}

// watchConfig rebuilds the pipeline whenever the file changes. A definition
// that fails validation leaves the previous one in place. Other settings
// take effect on restart.
func (p *Platform) watchConfig(ctx context.Context) error {
	w, err := config.NewWatcher(p.configPath, p.logger)
	if err != nil {
		return err
	}
	return w.Watch(ctx, func(cfg *config.Config) {
		exec, err := pipeline.NewExecutorFromConfig(cfg.Pipeline, p.builders, p.observers, p.logger)
		if err != nil {
			p.logger.Error("pipeline definition rejected, keeping previous", slog.String("error", err.Error()))
			return
		}
		p.runs.Swap(exec)
		p.logger.Info("pipeline definition reloaded", slog.String("pipeline", cfg.Pipeline.Name))
	})
}

// Shutdown aborts runs in progress, waits for them and closes storage.
func (p *Platform) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down release platform")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.control.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("runs still in progress: %w", ctx.Err())
	}

	if cerr := p.stores.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close storage: %w", cerr))
	}
	return err
}
