package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/booksapi/release-pipeline/internal/approval"
	"github.com/booksapi/release-pipeline/internal/runtime"
	"github.com/booksapi/release-pipeline/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// started is a platform serving HTTP in the background.
type started struct {
	platform *runtime.Platform
	logger   *slog.Logger
	cancel   context.CancelFunc
	served   chan error
	tracer   func(context.Context) error
}

// startPlatform assembles the platform from flags.configPath, installs the
// tracer and serves HTTP until stop is called. When autoApprove is set every
// manual approval is granted as reviewer.
func startPlatform(ctx context.Context, flags *globalFlags, logger *slog.Logger, autoApprove bool, reviewer string) (*started, error) {
	var p *runtime.Platform
	notify := func(r approval.Request) {
		if autoApprove {
			go func() {
				if err := p.Gate().Decide(r.ID, true, reviewer, "approved from the command line"); err != nil {
					logger.Error("auto approval failed", slog.String("approval_id", r.ID), slog.String("error", err.Error()))
				}
			}()
			return
		}
		logger.Info("manual approval pending",
			slog.String("approval_id", r.ID),
			slog.String("stage", r.Stage),
			slog.String("information", r.Information),
			slog.String("approve_url", fmt.Sprintf("%s/approvals/%s/approve", p.Config().Server.BaseURL, r.ID)),
		)
	}

	p, err := runtime.New(ctx,
		runtime.WithConfigFile(flags.configPath),
		runtime.WithLogger(logger),
		runtime.WithApprovalNotifier(notify),
	)
	if err != nil {
		return nil, err
	}

	shutdownTracer, err := telemetry.InitTracer(p.Config().Telemetry, nil, logger)
	if err != nil {
		p.Shutdown(context.Background())
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	s := &started{platform: p, logger: logger, cancel: cancel, served: make(chan error, 1), tracer: shutdownTracer}
	go func() { s.served <- p.Serve(serveCtx) }()
	return s, nil
}

// waitReady polls the health endpoint until the server answers.
func (s *started) waitReady(ctx context.Context) error {
	url := s.platform.Config().Server.BaseURL + "/healthz"
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
		}
		select {
		case err := <-s.served:
			s.served <- err
			if err == nil {
				err = fmt.Errorf("server stopped")
			}
			return fmt.Errorf("server did not start: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("server did not become ready at %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

// stop ends serving, aborts runs in progress and flushes spans.
func (s *started) stop() error {
	s.cancel()
	serveErr := <-s.served

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.platform.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := s.tracer(ctx); err != nil {
		s.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
	}
	return serveErr
}
