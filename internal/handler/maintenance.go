package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/bravapress/bravapress/internal/observability"
)

// Notification delivers email_notification jobs. Every failure is retryable.
type Notification struct {
	notifier domain.Notifier
	logger   *slog.Logger
}

func NewNotification(notifier domain.Notifier, logger *slog.Logger) *Notification {
	return &Notification{notifier: notifier, logger: logger}
}

func (h *Notification) Handle(ctx context.Context, job *domain.Job, payload domain.Payload) (any, error) {
	p, ok := payload.(domain.NotificationPayload)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", domain.ErrInvalidPayload, payload)
	}
	if err := h.notifier.Send(ctx, p); err != nil {
		return nil, fmt.Errorf("send %s to %s: %v", p.Template, p.To, err)
	}
	return map[string]string{"to": p.To, "template": p.Template}, nil
}

// Cleanup runs the retention sweep. Errors are logged and the job completes.
type Cleanup struct {
	queue  *domain.QueueService
	logger *slog.Logger
}

func NewCleanup(queue *domain.QueueService, logger *slog.Logger) *Cleanup {
	return &Cleanup{queue: queue, logger: logger}
}

func (h *Cleanup) Handle(ctx context.Context, job *domain.Job, payload domain.Payload) (any, error) {
	var retention time.Duration
	if p, ok := payload.(domain.CleanupPayload); ok {
		retention = time.Duration(p.RetentionHours) * time.Hour
	}
	deleted, err := h.queue.Cleanup(ctx, retention)
	if err != nil {
		h.logger.ErrorContext(ctx, "cleanup failed", "job_id", job.ID, "error", err)
		return map[string]any{"deleted": 0, "error": err.Error()}, nil
	}
	h.logger.InfoContext(ctx, "cleanup finished", "job_id", job.ID, "deleted", deleted)
	return map[string]any{"deleted": deleted}, nil
}

// StuckSweeper requeues stuck jobs and runs the failure path for those
// that ran out of attempts. *processor.Processor implements it.
type StuckSweeper interface {
	RequeueStuck(ctx context.Context, after time.Duration) (domain.StuckResult, error)
}

// Monitoring requeues stuck jobs and refreshes the queue gauges.
type Monitoring struct {
	queue   *domain.QueueService
	sweeper StuckSweeper
	logger  *slog.Logger
}

func NewMonitoring(queue *domain.QueueService, sweeper StuckSweeper, logger *slog.Logger) *Monitoring {
	return &Monitoring{queue: queue, sweeper: sweeper, logger: logger}
}

func (h *Monitoring) Handle(ctx context.Context, job *domain.Job, payload domain.Payload) (any, error) {
	var after time.Duration
	if p, ok := payload.(domain.MonitoringPayload); ok {
		after = time.Duration(p.StuckAfterMinutes) * time.Minute
	}
	result := map[string]any{}

	swept, err := h.sweeper.RequeueStuck(ctx, after)
	if err != nil {
		h.logger.ErrorContext(ctx, "requeue stuck jobs failed", "job_id", job.ID, "error", err)
		result["requeue_error"] = err.Error()
	} else {
		result["requeued"] = swept.Requeued
		result["failed"] = len(swept.Failed)
	}

	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "queue stats failed", "job_id", job.ID, "error", err)
		result["stats_error"] = err.Error()
		return result, nil
	}
	UpdateQueueGauges(stats)
	var total int64
	for _, s := range stats {
		total += s.Count
	}
	result["jobs"] = total
	return result, nil
}

// UpdateQueueGauges replaces the queue gauge with stats.
func UpdateQueueGauges(stats []domain.StatusCount) {
	observability.QueueJobs.Reset()
	for _, s := range stats {
		observability.QueueJobs.WithLabelValues(string(s.Status), string(s.Type)).Set(float64(s.Count))
	}
}
