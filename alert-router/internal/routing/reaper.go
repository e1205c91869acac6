package routing

import (
	"context"
	"errors"
	"log"
	"os"
	"time"
)

// StaleSweeper is implemented by *Orchestrator.
type StaleSweeper interface {
	RetryUnassigned(ctx context.Context, olderThan time.Duration) (BatchResult, error)
	HandleStaleAlerts(ctx context.Context, maxAgeDays int) (BatchResult, error)
}

type ReaperConfig struct {
	Interval   time.Duration
	MaxAgeDays int
	// UnassignedGrace is the minimum age of an alert without an assignment before it
	// is routed again. Defaults to DefaultUnassignedGrace.
	UnassignedGrace time.Duration
	Logger          *log.Logger
	// OnSweep, when set, receives the outcome of every tick.
	OnSweep func(SweepResult)
}

type SweepResult struct {
	StartedAt   time.Time
	Routed      int
	RouteFailed int
	Escalated   int
	Failed      int
	Err         error
}

// Reaper periodically routes alerts that never got an assignment and escalates stale
// ones. Sweeps run on the Run goroutine, so a slow sweep delays the next tick instead
// of overlapping it.
type Reaper struct {
	sweeper    StaleSweeper
	interval   time.Duration
	maxAgeDays int
	grace      time.Duration
	logger     *log.Logger
	onSweep    func(SweepResult)
}

func NewReaper(sweeper StaleSweeper, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = DefaultStaleAfterDays
	}
	if cfg.UnassignedGrace <= 0 {
		cfg.UnassignedGrace = DefaultUnassignedGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[reaper] ", log.LstdFlags)
	}
	return &Reaper{
		sweeper:    sweeper,
		interval:   cfg.Interval,
		maxAgeDays: cfg.MaxAgeDays,
		grace:      cfg.UnassignedGrace,
		logger:     cfg.Logger,
		onSweep:    cfg.OnSweep,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.Sweep(ctx)
			if r.onSweep != nil {
				r.onSweep(res)
			}
		}
	}
}

// Sweep runs a single pass: unassigned alerts are routed first, then stale ones are
// escalated. A failed lookup in one phase does not skip the other.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	res := SweepResult{StartedAt: time.Now().UTC()}
	var errs []error

	retried, err := r.sweeper.RetryUnassigned(ctx, r.grace)
	if err != nil {
		errs = append(errs, err)
		r.logger.Printf("unassigned sweep failed: %v", err)
	} else {
		res.Routed = len(retried.Assignments)
		res.RouteFailed = len(retried.Failed)
		if res.Routed > 0 || res.RouteFailed > 0 {
			r.logger.Printf("unassigned sweep routed=%d failed=%d", res.Routed, res.RouteFailed)
		}
	}

	batch, err := r.sweeper.HandleStaleAlerts(ctx, r.maxAgeDays)
	if err != nil {
		errs = append(errs, err)
		r.logger.Printf("stale sweep failed: %v", err)
	} else {
		res.Escalated = len(batch.Assignments)
		res.Failed = len(batch.Failed)
		if res.Escalated > 0 || res.Failed > 0 {
			r.logger.Printf("stale sweep escalated=%d failed=%d", res.Escalated, res.Failed)
		}
	}
	res.Err = errors.Join(errs...)
	return res
}
