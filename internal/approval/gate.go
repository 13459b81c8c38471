// Package approval implements the manual approval gate: a pipeline action
// that suspends until a reviewer approves or rejects it.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRejected is returned to the waiting action when a reviewer rejects.
	ErrRejected = errors.New("approval rejected")

	// ErrNotFound is returned for decisions about unknown requests.
	ErrNotFound = errors.New("approval request not found")

	// ErrAlreadyDecided is returned for a second decision on a request.
	ErrAlreadyDecided = errors.New("approval already decided")
)

// Decision is a reviewer's answer.
type Decision struct {
	Approved  bool      `json:"approved"`
	Reviewer  string    `json:"reviewer,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Request is a pending or decided approval.
type Request struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Stage       string    `json:"stage"`
	Action      string    `json:"action"`
	Information string    `json:"information,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Decision    *Decision `json:"decision,omitempty"`
}

// DefaultHistory is how many decided requests a gate keeps for listing.
const DefaultHistory = 100

type pending struct {
	req  Request
	done chan struct{}
}

// Gate tracks approval requests. Waiters block on a channel closed by the
// decision; there is no timeout.
type Gate struct {
	mu       sync.Mutex
	requests map[string]*pending
	decided  []string // decided request ids, oldest first
	history  int
	logger   *slog.Logger
	notify   func(Request)
}

// NewGate creates a gate. notify, if set, is called when a request opens.
func NewGate(logger *slog.Logger, notify func(Request)) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		requests: make(map[string]*pending),
		history:  DefaultHistory,
		logger:   logger,
		notify:   notify,
	}
}

// Await opens a request and blocks until it is decided or ctx is done. A
// rejection returns an error wrapping ErrRejected. A cancelled wait withdraws
// the request.
func (g *Gate) Await(ctx context.Context, runID, stage, action, information string) (*Decision, error) {
	p := &pending{
		req: Request{
			ID:          uuid.NewString(),
			RunID:       runID,
			Stage:       stage,
			Action:      action,
			Information: information,
			CreatedAt:   time.Now(),
		},
		done: make(chan struct{}),
	}

	g.mu.Lock()
	g.requests[p.req.ID] = p
	g.mu.Unlock()

	g.logger.Info("approval requested",
		slog.String("approval_id", p.req.ID),
		slog.String("run_id", runID),
		slog.String("stage", stage),
		slog.String("information", information),
	)
	if g.notify != nil {
		g.notify(p.req.copy())
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		g.mu.Lock()
		decided := p.req.Decision != nil
		if !decided {
			delete(g.requests, p.req.ID)
		}
		g.mu.Unlock()
		if !decided {
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	d := *p.req.Decision
	g.mu.Unlock()

	if !d.Approved {
		return &d, fmt.Errorf("%w by %s: %s", ErrRejected, reviewerOrUnknown(d.Reviewer), d.Comment)
	}
	return &d, nil
}

// Decide records the decision for request id and releases its waiter.
func (g *Gate) Decide(id string, approved bool, reviewer, comment string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.req.Decision != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, id)
	}

	p.req.Decision = &Decision{
		Approved:  approved,
		Reviewer:  reviewer,
		Comment:   comment,
		DecidedAt: time.Now(),
	}
	close(p.done)
	g.prune(id)

	g.logger.Info("approval decided",
		slog.String("approval_id", id),
		slog.Bool("approved", approved),
		slog.String("reviewer", reviewer),
	)
	return nil
}

// prune records id as decided and drops the oldest decided requests beyond
// the history limit. Waiters hold their own request, so dropping it from the
// map does not affect them. Callers hold g.mu.
func (g *Gate) prune(id string) {
	g.decided = append(g.decided, id)
	for len(g.decided) > g.history {
		delete(g.requests, g.decided[0])
		g.decided = g.decided[1:]
	}
}

// List returns every request, oldest first. pendingOnly filters out decided
// ones.
func (g *Gate) List(pendingOnly bool) []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Request, 0, len(g.requests))
	for _, p := range g.requests {
		if pendingOnly && p.req.Decision != nil {
			continue
		}
		out = append(out, p.req.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns one request.
func (g *Gate) Get(id string) (Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.req.copy(), nil
}

func (r Request) copy() Request {
	if r.Decision != nil {
		d := *r.Decision
		r.Decision = &d
	}
	return r
}

func reviewerOrUnknown(s string) string {
	if s == "" {
		return "unknown reviewer"
	}
	return s
}
