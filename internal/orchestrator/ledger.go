// Package orchestrator is the deployment orchestrator side of the hook
// contract: it issues lifecycle events, records exactly one verdict per event
// and decides how traffic moves to a validated candidate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/booksapi/release-pipeline/internal/core/domain"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

var (
	// ErrVerdictAlreadyReported is returned for any report after the first.
	ErrVerdictAlreadyReported = errors.New("verdict already reported")

	// ErrUnknownEvent is returned for reports about events never issued.
	ErrUnknownEvent = errors.New("unknown lifecycle event")
)

type entry struct {
	event    domain.LifecycleEvent
	done     chan struct{}
	resolved *domain.ResolvedVerdict
}

// Ledger tracks issued lifecycle events and their verdicts. It is the
// in-process status-reporting endpoint.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry // keyed by hook execution id
	now     func() time.Time
}

var _ ports.VerdictReporter = (*Ledger)(nil)

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Issue creates a new lifecycle event for deploymentID.
func (l *Ledger) Issue(deploymentID string) domain.LifecycleEvent {
	ev := domain.LifecycleEvent{
		DeploymentID:    deploymentID,
		HookExecutionID: uuid.NewString(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ev.HookExecutionID] = &entry{event: ev, done: make(chan struct{})}
	return ev
}

// ReportVerdict records the verdict for an issued event. Only the first
// report for an event is accepted.
func (l *Ledger) ReportVerdict(ctx context.Context, report domain.VerdictReport) error {
	if _, err := domain.ParseVerdict(string(report.Status)); err != nil {
		return err
	}
	_, err := l.resolve(report.Event(), report.Status, false)
	return err
}

// Expire resolves an unresolved event as Failed. If the event is already
// resolved the existing resolution is returned unchanged.
func (l *Ledger) Expire(ev domain.LifecycleEvent) (domain.ResolvedVerdict, error) {
	rv, err := l.resolve(ev, domain.VerdictFailed, true)
	if errors.Is(err, ErrVerdictAlreadyReported) {
		return rv, nil
	}
	return rv, err
}

func (l *Ledger) resolve(ev domain.LifecycleEvent, v domain.Verdict, expired bool) (domain.ResolvedVerdict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ev.HookExecutionID]
	if !ok || e.event.DeploymentID != ev.DeploymentID {
		return domain.ResolvedVerdict{}, fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
	}
	if e.resolved != nil {
		return *e.resolved, fmt.Errorf("%w: %s", ErrVerdictAlreadyReported, ev)
	}

	e.resolved = &domain.ResolvedVerdict{
		Event:      e.event,
		Verdict:    v,
		ReportedAt: l.now(),
		Expired:    expired,
	}
	close(e.done)
	return *e.resolved, nil
}

// Resolution returns the verdict recorded for ev, if any.
func (l *Ledger) Resolution(ev domain.LifecycleEvent) (domain.ResolvedVerdict, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ev.HookExecutionID]
	if !ok || e.event.DeploymentID != ev.DeploymentID {
		return domain.ResolvedVerdict{}, false, fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
	}
	if e.resolved == nil {
		return domain.ResolvedVerdict{}, false, nil
	}
	return *e.resolved, true, nil
}

// Await blocks until ev is resolved or ctx is done.
func (l *Ledger) Await(ctx context.Context, ev domain.LifecycleEvent) (domain.ResolvedVerdict, error) {
	l.mu.Lock()
	e, ok := l.entries[ev.HookExecutionID]
	l.mu.Unlock()
	if !ok || e.event.DeploymentID != ev.DeploymentID {
		return domain.ResolvedVerdict{}, fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
	}

	select {
	case <-e.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		return *e.resolved, nil
	case <-ctx.Done():
		return domain.ResolvedVerdict{}, ctx.Err()
	}
}

// Forget drops a resolved event. Unresolved events are kept.
func (l *Ledger) Forget(ev domain.LifecycleEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[ev.HookExecutionID]; ok && e.resolved != nil {
		delete(l.entries, ev.HookExecutionID)
	}
}
