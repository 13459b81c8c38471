// Package hook implements the pre-traffic deployment validation hook. For
// each lifecycle event it drives one synthetic create through the candidate,
// confirms the write with a strongly consistent read, removes the synthetic
// record and reports exactly one verdict.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

const tracerName = "github.com/booksapi/release-pipeline/internal/hook"

// Config is the explicit configuration of a hook.
type Config struct {
	// BackingStoreName names the store the candidate writes to. Informational;
	// the store itself is Store.
	BackingStoreName string
	// ValidationTarget is the invocation target used when the orchestrator
	// does not supply one.
	ValidationTarget string
	// SettleInterval is waited between the invocation and the read.
	SettleInterval time.Duration
	// ReadDeadline, when positive, retries a read that finds nothing every
	// ReadBackoff until the deadline passes.
	ReadDeadline time.Duration
	ReadBackoff  time.Duration
	// ReportTimeout bounds the verdict report. The report is sent even when
	// the event context is already cancelled.
	ReportTimeout time.Duration
}

// ConfigFromSettings converts loaded settings to a hook Config.
func ConfigFromSettings(s config.HookConfig) Config {
	return Config{
		BackingStoreName: s.BackingStoreName,
		ValidationTarget: s.ValidationTarget,
		SettleInterval:   config.Millis(s.SettleIntervalMS),
		ReadDeadline:     config.Millis(s.ReadDeadlineMS),
		ReadBackoff:      config.Millis(s.ReadBackoffMS),
		ReportTimeout:    config.Millis(s.ReportTimeoutMS),
	}
}

// Hook validates a candidate version before it receives traffic.
type Hook struct {
	cfg      Config
	store    ports.BookStore
	invoker  ports.Invoker
	reporter ports.VerdictReporter
	logger   *slog.Logger
	tracer   trace.Tracer

	newSentinel func() domain.Book
	sleep       func(ctx context.Context, d time.Duration) error
}

var _ ports.LifecycleHook = (*Hook)(nil)

// Option customizes a Hook.
type Option func(*Hook)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hook) { h.logger = l }
}

// WithSentinel replaces the sentinel record generator.
func WithSentinel(fn func() domain.Book) Option {
	return func(h *Hook) { h.newSentinel = fn }
}

// New creates a hook.
func New(cfg Config, store ports.BookStore, invoker ports.Invoker, reporter ports.VerdictReporter, opts ...Option) *Hook {
	h := &Hook{
		cfg:         cfg,
		store:       store,
		invoker:     invoker,
		reporter:    reporter,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		newSentinel: domain.NewSentinelBook,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.ReportTimeout <= 0 {
		h.cfg.ReportTimeout = 10 * time.Second
	}
	return h
}

// errRecordAbsent means the candidate answered but the record never showed
// up in the store.
var errRecordAbsent = errors.New("sentinel record not found in backing store")

// HandleLifecycleEvent runs the validation and reports the verdict. The
// verdict starts as Failed and only a completed check flips it. The deferred
// report runs on every path, panics included, so the orchestrator always
// gets exactly one report from this call. The returned error is the report
// error; validation failures are expressed only through the verdict.
func (h *Hook) HandleLifecycleEvent(ctx context.Context, ev domain.LifecycleEvent, target string) (verdict domain.Verdict, err error) {
	verdict = domain.VerdictFailed
	if target == "" {
		target = h.cfg.ValidationTarget
	}

	ctx, span := h.tracer.Start(ctx, "hook.validate", trace.WithAttributes(
		attribute.String("deployment.id", ev.DeploymentID),
		attribute.String("hook.execution_id", ev.HookExecutionID),
		attribute.String("hook.target", target),
	))
	defer span.End()

	logger := h.logger.With(
		slog.String("deployment_id", ev.DeploymentID),
		slog.String("hook_execution_id", ev.HookExecutionID),
	)

	defer func() {
		if r := recover(); r != nil {
			verdict = domain.VerdictFailed
			logger.Error("validation panicked", slog.Any("panic", r))
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}
		err = h.report(ctx, logger, ev, verdict)
	}()

	if vErr := ev.Validate(); vErr != nil {
		logger.Error("rejecting lifecycle event", slog.String("error", vErr.Error()))
		return verdict, nil
	}

	logger.Info("validating candidate",
		slog.String("target", target),
		slog.String("backing_store", h.cfg.BackingStoreName),
	)

	if vErr := h.validate(ctx, logger, target); vErr != nil {
		logger.Warn("candidate failed validation", slog.String("error", vErr.Error()))
		span.RecordError(vErr)
		span.SetStatus(codes.Error, vErr.Error())
		return verdict, nil
	}

	verdict = domain.VerdictSucceeded
	return verdict, nil
}

func (h *Hook) validate(ctx context.Context, logger *slog.Logger, target string) error {
	if target == "" {
		return fmt.Errorf("%w: no validation target", domain.ErrInvalidArgument)
	}

	book := h.newSentinel()
	if !domain.IsSentinelISBN(book.ISBN) {
		return fmt.Errorf("%w: sentinel id %q outside the synthetic space", domain.ErrInvalidArgument, book.ISBN)
	}
	body, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("encode sentinel: %w", err)
	}

	res, err := h.invoker.Invoke(ctx, &ports.Invocation{Target: target, Body: body})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", target, err)
	}
	if !res.Success() {
		return fmt.Errorf("invoke %s: status %d: %s", target, res.StatusCode, truncate(res.Body, 256))
	}

	if err := h.sleep(ctx, h.cfg.SettleInterval); err != nil {
		return err
	}

	if err := h.awaitRecord(ctx, book.ISBN); err != nil {
		return err
	}

	// Deleted only after the read observed it. A failed delete leaves a
	// sentinel behind but does not change the verdict.
	if err := h.store.DeleteBook(ctx, book.ISBN); err != nil {
		logger.Warn("failed to remove sentinel record",
			slog.String("isbn", book.ISBN),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// awaitRecord performs the consistent read, retrying until ReadDeadline when
// one is configured.
func (h *Hook) awaitRecord(ctx context.Context, isbn string) error {
	var deadline time.Time
	if h.cfg.ReadDeadline > 0 {
		deadline = time.Now().Add(h.cfg.ReadDeadline)
	}
	backoff := h.cfg.ReadBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	for {
		_, err := h.store.GetBook(ctx, isbn)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("read sentinel: %w", err)
		}
		if deadline.IsZero() || !time.Now().Add(backoff).Before(deadline) {
			return errRecordAbsent
		}
		if err := h.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (h *Hook) report(ctx context.Context, logger *slog.Logger, ev domain.LifecycleEvent, verdict domain.Verdict) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.ReportTimeout)
	defer cancel()

	err := h.reporter.ReportVerdict(rctx, domain.VerdictReport{
		DeploymentID:    ev.DeploymentID,
		HookExecutionID: ev.HookExecutionID,
		Status:          verdict,
	})
	if err != nil {
		logger.Error("failed to report verdict",
			slog.String("verdict", string(verdict)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("report verdict: %w", err)
	}
	logger.Info("verdict reported", slog.String("verdict", string(verdict)))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
