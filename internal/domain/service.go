package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueOptions tunes QueueService defaults.
type QueueOptions struct {
	SubmissionMaxAttempts   int
	NotificationMaxAttempts int
	RetryBase               time.Duration
	RetryCap                time.Duration
	Retention               time.Duration
	StuckAfter              time.Duration
}

// DefaultQueueOptions returns the production defaults.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		SubmissionMaxAttempts:   3,
		NotificationMaxAttempts: 5,
		RetryBase:               30 * time.Second,
		RetryCap:                10 * time.Minute,
		Retention:               7 * 24 * time.Hour,
		StuckAfter:              30 * time.Minute,
	}
}

// QueueService is the typed facade over a JobStore.
type QueueService struct {
	store JobStore
	opts  QueueOptions
	now   func() time.Time
}

// NewQueueService creates a new QueueService.
func NewQueueService(store JobStore, opts QueueOptions) *QueueService {
	def := DefaultQueueOptions()
	if opts.SubmissionMaxAttempts <= 0 {
		opts.SubmissionMaxAttempts = def.SubmissionMaxAttempts
	}
	if opts.NotificationMaxAttempts <= 0 {
		opts.NotificationMaxAttempts = def.NotificationMaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = def.RetryBase
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = def.RetryCap
	}
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = def.StuckAfter
	}
	return &QueueService{store: store, opts: opts, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *QueueService) WithClock(now func() time.Time) *QueueService {
	s.now = now
	return s
}

// Options returns the effective options.
func (s *QueueService) Options() QueueOptions {
	return s.opts
}

// Enqueue inserts a raw job. Unknown types are accepted and fail at dispatch.
func (s *QueueService) Enqueue(ctx context.Context, job NewJob) (*Job, error) {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = s.now()
	}
	if len(job.Data) == 0 {
		job.Data = json.RawMessage("{}")
	}
	return s.store.Enqueue(ctx, job)
}

func (s *QueueService) enqueuePayload(ctx context.Context, p Payload, priority, maxAttempts int) (*Job, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return s.Enqueue(ctx, NewJob{
		Type:        p.JobType(),
		Data:        data,
		Priority:    priority,
		MaxAttempts: maxAttempts,
	})
}

// EnqueueSubmission queues a high-priority submission job.
func (s *QueueService) EnqueueSubmission(ctx context.Context, p SubmissionPayload) (*Job, error) {
	if p.SubmissionID == "" {
		return nil, fmt.Errorf("%w: submission_id is required", ErrInvalidPayload)
	}
	return s.enqueuePayload(ctx, p, PriorityHigh, s.opts.SubmissionMaxAttempts)
}

// EnqueueNotification queues a medium-priority email job.
func (s *QueueService) EnqueueNotification(ctx context.Context, p NotificationPayload) (*Job, error) {
	if p.To == "" {
		return nil, fmt.Errorf("%w: to is required", ErrInvalidPayload)
	}
	return s.enqueuePayload(ctx, p, PriorityMedium, s.opts.NotificationMaxAttempts)
}

// EnqueueCleanup queues a retention sweep.
func (s *QueueService) EnqueueCleanup(ctx context.Context, retention time.Duration) (*Job, error) {
	return s.enqueuePayload(ctx, CleanupPayload{RetentionHours: int(retention / time.Hour)}, PriorityLow, 1)
}

// EnqueueMonitoring queues a watchdog run.
func (s *QueueService) EnqueueMonitoring(ctx context.Context) (*Job, error) {
	return s.enqueuePayload(ctx, MonitoringPayload{}, PriorityLow, 1)
}

// Get retrieves a job by ID.
func (s *QueueService) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs matching filter.
func (s *QueueService) List(ctx context.Context, filter JobFilter) ([]Job, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.store.List(ctx, filter)
}

// Claim takes the next eligible job, or nil when there is none.
func (s *QueueService) Claim(ctx context.Context) (*Job, error) {
	return s.store.ClaimNext(ctx)
}

// Complete marks the claimed job as completed with an optional result.
func (s *QueueService) Complete(ctx context.Context, job *Job, result any) error {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		raw = data
	}
	return s.store.MarkCompleted(ctx, job.ID, job.Attempts, raw)
}

// Fail records a failed attempt and returns the resulting reported status.
func (s *QueueService) Fail(ctx context.Context, job *Job, cause error, retry bool) (JobStatus, error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	status, err := s.store.MarkFailed(ctx, job.ID, job.Attempts, Failure{
		Reason:  reason,
		Retry:   retry,
		RetryAt: s.now().Add(s.RetryDelay(job.Attempts)),
	})
	if err != nil {
		return "", err
	}
	if status == StatusPending {
		return StatusRetrying, nil
	}
	return status, nil
}

// RetryDelay is base * 2^(attempts-1), capped.
func (s *QueueService) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := s.opts.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.opts.RetryCap {
			return s.opts.RetryCap
		}
	}
	if delay > s.opts.RetryCap {
		return s.opts.RetryCap
	}
	return delay
}

// Cleanup deletes terminal jobs that completed longer than retention ago.
func (s *QueueService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = s.opts.Retention
	}
	return s.store.DeleteTerminalBefore(ctx, s.now().Add(-retention))
}

// RequeueStuck resets jobs processing for longer than after back to pending,
// failing those without attempts left.
func (s *QueueService) RequeueStuck(ctx context.Context, after time.Duration) (StuckResult, error) {
	if after <= 0 {
		after = s.opts.StuckAfter
	}
	return s.store.RequeueStuck(ctx, s.now().Add(-after))
}

// RecoverStale resets every processing job (crash recovery at boot).
func (s *QueueService) RecoverStale(ctx context.Context) (StuckResult, error) {
	return s.store.RequeueStuck(ctx, s.now())
}

// Stats returns job counts grouped by reported status and type.
func (s *QueueService) Stats(ctx context.Context) ([]StatusCount, error) {
	return s.store.Stats(ctx)
}

// RetrySubmission queues a fresh job for a paid submission that has not
// completed. Earlier jobs are left as they are.
func (s *QueueService) RetrySubmission(ctx context.Context, subs SubmissionRepository, id string, mode PaymentMode) (*Job, error) {
	sub, err := subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case SubmissionPaid, SubmissionFailed, SubmissionAwaitingApproval:
	default:
		return nil, fmt.Errorf("%w: submission is %s", ErrNotRetryable, sub.Status)
	}

	if err := subs.SetStatus(ctx, id, SubmissionPaid); err != nil {
		return nil, err
	}
	if err := subs.AppendLog(ctx, id, ProcessingLog{
		Timestamp: s.now().UTC(),
		Step:      "retry",
		Status:    StepStarted,
		Details:   "manual retry requested",
	}); err != nil {
		return nil, err
	}
	return s.EnqueueSubmission(ctx, SubmissionPayload{SubmissionID: id, PaymentMode: mode})
}
