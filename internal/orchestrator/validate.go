package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Validation asks a lifecycle hook for a verdict on one candidate.
type Validation struct {
	Ledger *Ledger
	Hook   ports.LifecycleHook
	// Timeout bounds the wait for the verdict. Zero waits until ctx is done.
	Timeout time.Duration
	// Retain keeps a resolved event answerable for late reports and status
	// reads before it is dropped from the ledger. Zero drops it on return.
	Retain time.Duration
	Logger *slog.Logger
}

// Run issues a lifecycle event for deploymentID, hands it to the hook with
// target, and waits for the verdict. It always returns a resolved verdict: a
// timeout or a cancelled ctx resolves the event as Failed.
func (v *Validation) Run(ctx context.Context, deploymentID, target string) domain.ResolvedVerdict {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ev := v.Ledger.Issue(deploymentID)
	defer v.forget(ev)

	waitCtx := ctx
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	hookCtx, cancelHook := context.WithCancel(waitCtx)
	defer cancelHook()

	go func() {
		if _, err := v.Hook.HandleLifecycleEvent(hookCtx, ev, target); err != nil {
			logger.Warn("lifecycle hook returned error",
				slog.String("event", ev.String()),
				slog.String("error", err.Error()),
			)
		}
	}()

	rv, err := v.Ledger.Await(waitCtx, ev)
	if err == nil {
		return rv
	}

	rv, expErr := v.Ledger.Expire(ev)
	if expErr != nil {
		// Only possible if the event vanished; fail closed.
		return domain.ResolvedVerdict{Event: ev, Verdict: domain.VerdictFailed, ReportedAt: time.Now(), Expired: true}
	}
	if rv.Expired {
		logger.Warn("lifecycle event expired without a verdict",
			slog.String("event", ev.String()),
			slog.String("reason", err.Error()),
		)
	}
	return rv
}

func (v *Validation) forget(ev domain.LifecycleEvent) {
	if v.Retain <= 0 {
		v.Ledger.Forget(ev)
		return
	}
	time.AfterFunc(v.Retain, func() { v.Ledger.Forget(ev) })
}
