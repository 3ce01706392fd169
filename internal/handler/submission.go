// Package handler implements the processor handlers for each job type.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bravapress/bravapress/internal/domain"
	"github.com/bravapress/bravapress/internal/observability"
	"github.com/bravapress/bravapress/internal/processor"
)

// Notification templates enqueued by the submission handler.
const (
	TemplateSubmissionCompleted = "submission_completed"
	TemplateSubmissionFailed    = "submission_failed"
	TemplateAwaitingApproval    = "submission_awaiting_approval"
)

// processing_logs steps written by the handler itself.
const (
	stepJob     = "job"
	stepCapture = "capture"
)

// SubmissionOptions are the operational defaults a payload may override.
type SubmissionOptions struct {
	PaymentMode domain.PaymentMode
	Headless    bool
	PackageTier string
}

// SubmissionResult is stored as the job result on success.
type SubmissionResult struct {
	OrderID          string `json:"order_id,omitempty"`
	ReleaseID        string `json:"release_id,omitempty"`
	ConfirmationURL  string `json:"confirmation_url,omitempty"`
	AwaitingApproval bool   `json:"awaiting_approval,omitempty"`
	AlreadyCompleted bool   `json:"already_completed,omitempty"`
}

// Submission runs the distribution workflow for press_release_submission jobs
// and keeps the Submission's audit trail in step with the job.
type Submission struct {
	subs      domain.SubmissionRepository
	queue     *domain.QueueService
	submitter domain.Submitter
	opts      SubmissionOptions
	logger    *slog.Logger
	now       func() time.Time
}

var (
	_ processor.Handler         = (*Submission)(nil)
	_ processor.FailureObserver = (*Submission)(nil)
)

func NewSubmission(subs domain.SubmissionRepository, queue *domain.QueueService, submitter domain.Submitter, opts SubmissionOptions, logger *slog.Logger) *Submission {
	if opts.PaymentMode == "" {
		opts.PaymentMode = domain.PaymentAuto
	}
	return &Submission{
		subs:      subs,
		queue:     queue,
		submitter: submitter,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *Submission) Handle(ctx context.Context, job *domain.Job, payload domain.Payload) (any, error) {
	p, ok := payload.(domain.SubmissionPayload)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", domain.ErrInvalidPayload, payload)
	}
	sub, err := h.subs.Get(ctx, p.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			return nil, domain.Permanent(fmt.Errorf("submission %s: %w", p.SubmissionID, err))
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	l := h.logger.With("job_id", job.ID, "submission_id", sub.ID)

	if sub.Status == domain.SubmissionCompleted {
		l.InfoContext(ctx, "submission already completed, skipping")
		return SubmissionResult{AlreadyCompleted: true, ConfirmationURL: sub.ConfirmationURL}, nil
	}

	if err := h.subs.SetStatus(ctx, sub.ID, domain.SubmissionProcessing); err != nil {
		return nil, fmt.Errorf("mark submission processing: %w", err)
	}
	h.appendLog(ctx, l, sub.ID, stepJob, domain.StepStarted, fmt.Sprintf("attempt %d of %d", job.Attempts, job.MaxAttempts))

	req := domain.SubmitRequest{
		Submission:       sub,
		PackageType:      firstNonEmpty(p.PackageType, sub.PackageType, h.opts.PackageTier),
		PaymentMode:      h.opts.PaymentMode,
		Headless:         h.opts.Headless,
		PurchasedOrderID: sub.ExternalOrderID,
	}
	if p.PaymentMode != "" {
		req.PaymentMode = p.PaymentMode
	}
	if p.Headless != nil {
		req.Headless = *p.Headless
	}

	res := h.submitter.Submit(ctx, req, h.recorder(l, sub.ID))
	h.saveScreenshots(ctx, l, sub.ID, res)

	if res.Purchase.Success && sub.ExternalOrderID == "" {
		orderID := res.Purchase.OrderID
		if orderID == "" {
			// Paid but the site showed no order number; record something so a
			// retry does not buy again.
			orderID = "unconfirmed-" + job.ID
		}
		if err := h.subs.RecordPurchase(ctx, sub.ID, orderID); err != nil {
			l.ErrorContext(ctx, "failed to record purchase", "order_id", orderID, "error", err)
		}
	}

	switch {
	case res.AwaitingApproval:
		if err := h.subs.SetStatus(ctx, sub.ID, domain.SubmissionAwaitingApproval); err != nil {
			return nil, fmt.Errorf("mark submission awaiting approval: %w", err)
		}
		h.appendLog(ctx, l, sub.ID, stepJob, domain.StepSkipped, "awaiting manual payment approval")
		h.notify(ctx, l, sub, TemplateAwaitingApproval, "Your press release is awaiting payment approval", nil)
		return SubmissionResult{AwaitingApproval: true}, nil

	case res.Succeeded():
		if err := h.subs.RecordConfirmation(ctx, sub.ID, res.Submission.ConfirmationURL); err != nil {
			return nil, fmt.Errorf("record confirmation: %w", err)
		}
		if err := h.subs.SetStatus(ctx, sub.ID, domain.SubmissionCompleted); err != nil {
			return nil, fmt.Errorf("mark submission completed: %w", err)
		}
		h.appendLog(ctx, l, sub.ID, stepJob, domain.StepSucceeded, res.Submission.ConfirmationURL)
		h.notify(ctx, l, sub, TemplateSubmissionCompleted, "Your press release was submitted", map[string]string{
			"confirmation_url": res.Submission.ConfirmationURL,
			"order_id":         res.Purchase.OrderID,
		})
		return SubmissionResult{
			OrderID:         res.Purchase.OrderID,
			ReleaseID:       res.Submission.SubmissionID,
			ConfirmationURL: res.Submission.ConfirmationURL,
		}, nil
	}

	cause := errors.New(res.Err())
	if res.Err() == "" {
		cause = errors.New("workflow reported no success")
	}
	if res.Permanent {
		return nil, domain.Permanent(cause)
	}
	return nil, cause
}

// JobFailed moves the Submission back to paid while retries remain, or to
// failed with an error log once the job is terminal.
func (h *Submission) JobFailed(ctx context.Context, job *domain.Job, cause error, terminal bool) {
	payload, err := job.Payload()
	if err != nil {
		return
	}
	p, ok := payload.(domain.SubmissionPayload)
	if !ok {
		return
	}
	l := h.logger.With("job_id", job.ID, "submission_id", p.SubmissionID)

	if !terminal {
		if err := h.subs.SetStatus(ctx, p.SubmissionID, domain.SubmissionPaid); err != nil {
			l.WarnContext(ctx, "failed to reset submission status", "error", err)
			return
		}
		h.appendLog(ctx, l, p.SubmissionID, stepJob, domain.StepFailed,
			fmt.Sprintf("attempt %d of %d failed, will retry: %v", job.Attempts, job.MaxAttempts, cause))
		return
	}

	if err := h.subs.SetStatus(ctx, p.SubmissionID, domain.SubmissionFailed); err != nil {
		l.WarnContext(ctx, "failed to mark submission failed", "error", err)
		return
	}
	if err := h.subs.AppendError(ctx, p.SubmissionID, domain.ErrorLog{Timestamp: h.now().UTC(), Message: cause.Error()}); err != nil {
		l.WarnContext(ctx, "failed to append error log", "error", err)
	}
	h.appendLog(ctx, l, p.SubmissionID, stepJob, domain.StepFailed, cause.Error())

	if sub, err := h.subs.Get(ctx, p.SubmissionID); err == nil {
		h.notify(ctx, l, sub, TemplateSubmissionFailed, "We could not submit your press release", map[string]string{
			"error": cause.Error(),
		})
	}
}

// recorder writes each step to the log, the stage metric and processing_logs.
func (h *Submission) recorder(l *slog.Logger, subID string) domain.StepRecorder {
	return func(ctx context.Context, ev domain.StepEvent) {
		if ev.Status != domain.StepStarted {
			observability.StageDuration.WithLabelValues(ev.Stage, string(ev.Status)).Observe(ev.Duration.Seconds())
		}
		l.InfoContext(ctx, "workflow step",
			"stage", ev.Stage,
			"status", ev.Status,
			"details", ev.Details,
			"duration", ev.Duration,
		)
		h.appendLog(ctx, l, subID, ev.Stage, ev.Status, ev.Details)
	}
}

// saveScreenshots keeps the run's page captures on the audit trail.
func (h *Submission) saveScreenshots(ctx context.Context, l *slog.Logger, subID string, res domain.WorkflowResult) {
	shots := append(append([]string(nil), res.Purchase.Screenshots...), res.Submission.Screenshots...)
	if len(shots) == 0 {
		return
	}
	status := domain.StepFailed
	if res.Succeeded() || res.AwaitingApproval {
		status = domain.StepSucceeded
	}
	entry := domain.ProcessingLog{
		Timestamp:   h.now().UTC(),
		Step:        stepCapture,
		Status:      status,
		Details:     fmt.Sprintf("%d screenshot(s)", len(shots)),
		Screenshots: shots,
	}
	if err := h.subs.AppendLog(ctx, subID, entry); err != nil {
		l.WarnContext(ctx, "failed to save screenshots", "count", len(shots), "error", err)
	}
}

func (h *Submission) appendLog(ctx context.Context, l *slog.Logger, subID, step string, status domain.StepStatus, details string) {
	entry := domain.ProcessingLog{Timestamp: h.now().UTC(), Step: step, Status: status, Details: details}
	if err := h.subs.AppendLog(ctx, subID, entry); err != nil {
		l.WarnContext(ctx, "failed to append processing log", "step", step, "error", err)
	}
}

// notify enqueues an email to the submission contact. Failures are logged only.
func (h *Submission) notify(ctx context.Context, l *slog.Logger, sub *domain.Submission, template, subject string, data map[string]string) {
	if sub.ContactEmail == "" {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["title"] = sub.Title
	_, err := h.queue.EnqueueNotification(ctx, domain.NotificationPayload{
		To:           sub.ContactEmail,
		Template:     template,
		Subject:      subject,
		Data:         data,
		SubmissionID: sub.ID,
	})
	if err != nil {
		l.WarnContext(ctx, "failed to enqueue notification", "template", template, "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
