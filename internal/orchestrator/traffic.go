package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/booksapi/release-pipeline/internal/config"
	"github.com/booksapi/release-pipeline/internal/core/ports"
)

// Shifter moves traffic from the live version to a validated candidate.
// progress is called after every traffic change with the candidate's share.
type Shifter interface {
	Shift(ctx context.Context, p ports.Provisioner, environment, version string, progress func(percent int)) error
}

// AllAtOnce routes all traffic to the candidate in a single step.
type AllAtOnce struct{}

func (AllAtOnce) Shift(ctx context.Context, p ports.Provisioner, environment, version string, progress func(int)) error {
	if err := p.SetTraffic(ctx, environment, version, 100); err != nil {
		return err
	}
	notify(progress, 100)
	return nil
}

// Linear adds StepPercent of traffic every Interval until the candidate
// serves everything.
type Linear struct {
	StepPercent int
	Interval    time.Duration
}

func (l Linear) Shift(ctx context.Context, p ports.Provisioner, environment, version string, progress func(int)) error {
	step := l.StepPercent
	if step <= 0 || step > 100 {
		return fmt.Errorf("invalid linear step %d%%", step)
	}

	for pct := step; pct < 100; pct += step {
		if err := p.SetTraffic(ctx, environment, version, pct); err != nil {
			return err
		}
		notify(progress, pct)

		timer := time.NewTimer(l.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := p.SetTraffic(ctx, environment, version, 100); err != nil {
		return err
	}
	notify(progress, 100)
	return nil
}

func notify(progress func(int), pct int) {
	if progress != nil {
		progress(pct)
	}
}

// NewShifter builds the configured traffic strategy.
func NewShifter(cfg config.TrafficConfig) (Shifter, error) {
	switch cfg.Strategy {
	case "", "all_at_once":
		return AllAtOnce{}, nil
	case "linear":
		if cfg.StepPercent <= 0 || cfg.StepPercent > 100 {
			return nil, fmt.Errorf("linear traffic step must be within 1-100, got %d", cfg.StepPercent)
		}
		return Linear{StepPercent: cfg.StepPercent, Interval: config.Millis(cfg.IntervalMS)}, nil
	default:
		return nil, fmt.Errorf("unknown traffic strategy: %s", cfg.Strategy)
	}
}
