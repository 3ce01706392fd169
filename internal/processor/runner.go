package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
)

// RunnerOptions sets the in-process trigger intervals. A zero interval
// disables that ticker.
type RunnerOptions struct {
	TickInterval    time.Duration
	MonitorInterval time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
}

// Runner triggers the Processor from timers: a fast ticker for jobs and
// slow tickers that enqueue monitoring and cleanup work.
type Runner struct {
	proc   *Processor
	queue  *domain.QueueService
	opts   RunnerOptions
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(proc *Processor, queue *domain.QueueService, opts RunnerOptions, logger *slog.Logger) *Runner {
	return &Runner{proc: proc, queue: queue, opts: opts, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("runner started",
		"tick_interval", r.opts.TickInterval,
		"monitor_interval", r.opts.MonitorInterval,
		"cleanup_interval", r.opts.CleanupInterval,
	)

	tick := r.ticker(r.opts.TickInterval)
	defer tick.stop()
	monitor := r.ticker(r.opts.MonitorInterval)
	defer monitor.stop()
	cleanup := r.ticker(r.opts.CleanupInterval)
	defer cleanup.stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner shutting down")
			return
		case <-tick.c:
			if _, err := r.proc.Tick(ctx); err != nil {
				r.logger.Error("tick failed", "error", err)
			}
		case <-monitor.c:
			if _, err := r.queue.EnqueueMonitoring(ctx); err != nil {
				r.logger.Error("enqueue monitoring failed", "error", err)
			}
		case <-cleanup.c:
			if _, err := r.queue.EnqueueCleanup(ctx, r.opts.Retention); err != nil {
				r.logger.Error("enqueue cleanup failed", "error", err)
			}
		}
	}
}

type optionalTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

// ticker returns a ticker whose channel never fires when d is not positive.
func (r *Runner) ticker(d time.Duration) optionalTicker {
	if d <= 0 {
		return optionalTicker{}
	}
	t := time.NewTicker(d)
	return optionalTicker{t: t, c: t.C}
}

func (t optionalTicker) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
