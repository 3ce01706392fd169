// Package processor claims and dispatches queued jobs.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/bravapress/bravapress/internal/observability"
)

// Outcome summarizes one tick.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeCompleted Outcome = "completed"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
	// OutcomeStale means the job was requeued while it ran and the
	// outcome was dropped.
	OutcomeStale Outcome = "stale"
)

// settleTimeout bounds recording a job's outcome after its handler returned.
const settleTimeout = 30 * time.Second

// TickResult reports what a tick did.
type TickResult struct {
	Outcome    Outcome        `json:"outcome"`
	JobID      string         `json:"job_id,omitempty"`
	Type       domain.JobType `json:"type,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// Processor runs at most one job per Tick.
type Processor struct {
	queue    *domain.QueueService
	registry *Registry
	logger   *slog.Logger
}

// New creates a Processor.
func New(queue *domain.QueueService, registry *Registry, logger *slog.Logger) *Processor {
	return &Processor{queue: queue, registry: registry, logger: logger}
}

// Tick claims the next eligible job and runs it. Handler errors and panics
// are recorded on the job; only store errors are returned.
func (p *Processor) Tick(ctx context.Context) (TickResult, error) {
	job, err := p.queue.Claim(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return TickResult{Outcome: OutcomeIdle}, nil
	}

	observability.JobsClaimed.WithLabelValues(string(job.Type)).Inc()
	l := p.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts)
	l.Info("job claimed")

	start := time.Now()
	h, result, runErr := p.dispatch(ctx, job)
	elapsed := time.Since(start)
	observability.JobDuration.WithLabelValues(string(job.Type)).Observe(elapsed.Seconds())

	// The claim is ours until the outcome is stored, even if whoever
	// triggered the tick has gone away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	res := TickResult{JobID: job.ID, Type: job.Type, DurationMS: elapsed.Milliseconds()}
	if runErr == nil {
		err := p.queue.Complete(ctx, job, result)
		if errors.Is(err, domain.ErrStaleClaim) {
			return p.stale(l, res), nil
		}
		if err != nil {
			return res, fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		res.Outcome = OutcomeCompleted
		observability.JobsProcessed.WithLabelValues(string(job.Type), string(res.Outcome)).Inc()
		l.Info("job completed", "duration", elapsed)
		return res, nil
	}

	retry := !domain.IsPermanent(runErr)
	status, err := p.queue.Fail(ctx, job, runErr, retry)
	if errors.Is(err, domain.ErrStaleClaim) {
		l.Warn("failed attempt superseded", "error", runErr)
		return p.stale(l, res), nil
	}
	if err != nil {
		return res, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	res.Outcome = Outcome(status)
	res.Error = runErr.Error()
	observability.JobsProcessed.WithLabelValues(string(job.Type), string(res.Outcome)).Inc()
	l.Error("job failed", "error", runErr, "retryable", retry, "status", status, "duration", elapsed)

	if obs, ok := h.(FailureObserver); ok {
		obs.JobFailed(ctx, job, runErr, status == domain.StatusFailed)
	}
	return res, nil
}

func (p *Processor) stale(l *slog.Logger, res TickResult) TickResult {
	res.Outcome = OutcomeStale
	observability.JobsProcessed.WithLabelValues(string(res.Type), string(res.Outcome)).Inc()
	l.Warn("job was requeued while running, outcome dropped")
	return res
}

// RequeueStuck requeues jobs processing for longer than after. Jobs without
// attempts left are failed and their handlers see a terminal failure.
func (p *Processor) RequeueStuck(ctx context.Context, after time.Duration) (domain.StuckResult, error) {
	res, err := p.queue.RequeueStuck(ctx, after)
	if err != nil {
		return res, err
	}
	p.settleStuck(ctx, res)
	return res, nil
}

// RecoverStale is RequeueStuck for every processing job, for use at boot.
func (p *Processor) RecoverStale(ctx context.Context) (domain.StuckResult, error) {
	res, err := p.queue.RecoverStale(ctx)
	if err != nil {
		return res, err
	}
	p.settleStuck(ctx, res)
	return res, nil
}

func (p *Processor) settleStuck(ctx context.Context, res domain.StuckResult) {
	if res.Requeued > 0 {
		p.logger.Warn("requeued stuck jobs", "count", res.Requeued)
	}
	for i := range res.Failed {
		job := &res.Failed[i]
		observability.JobsProcessed.WithLabelValues(string(job.Type), string(OutcomeFailed)).Inc()
		p.logger.Error("stuck job failed", "job_id", job.ID, "type", job.Type, "attempts", job.Attempts)
		if obs, ok := p.registry.Lookup(job.Type).(FailureObserver); ok {
			obs.JobFailed(ctx, job, domain.ErrProcessingTimeout, true)
		}
	}
}

// dispatch runs the handler for job, turning a panic into an ordinary error.
func (p *Processor) dispatch(ctx context.Context, job *domain.Job) (h Handler, result any, err error) {
	h = p.registry.Lookup(job.Type)
	if h == nil {
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, job.Type)
	}
	payload, err := job.Payload()
	if err != nil {
		return h, nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	result, err = h.Handle(ctx, job, payload)
	return h, result, err
}
