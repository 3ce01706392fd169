package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobStore is the driven port for job persistence.
type JobStore interface {
	Enqueue(ctx context.Context, job NewJob) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]Job, error)
	ClaimNext(ctx context.Context) (*Job, error)
	// MarkCompleted and MarkFailed apply only while the job is processing
	// under the claim whose attempt number is given, and return
	// ErrStaleClaim when a newer claim or a requeue superseded it.
	MarkCompleted(ctx context.Context, id string, attempt int, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, attempt int, f Failure) (JobStatus, error)
	Stats(ctx context.Context) ([]StatusCount, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RequeueStuck(ctx context.Context, startedBefore time.Time) (StuckResult, error)
}

// SubmissionRepository is the driven port for the Submission audit trail.
type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id string) (*Submission, error)
	List(ctx context.Context, limit int) ([]Submission, error)
	SetStatus(ctx context.Context, id string, status SubmissionStatus) error
	AppendLog(ctx context.Context, id string, entry ProcessingLog) error
	AppendError(ctx context.Context, id string, entry ErrorLog) error
	RecordPurchase(ctx context.Context, id, orderID string) error
	RecordConfirmation(ctx context.Context, id, url string) error
}

// StepEvent is emitted by the workflow for every stage transition.
type StepEvent struct {
	Stage    string
	Status   StepStatus
	Details  string
	Duration time.Duration
}

// StepRecorder receives workflow events as they happen.
type StepRecorder func(ctx context.Context, ev StepEvent)

// SubmitRequest is the input of one automation run.
type SubmitRequest struct {
	Submission  *Submission
	PackageType string
	PaymentMode PaymentMode
	Headless    bool
	// PurchasedOrderID is set when an earlier attempt already paid.
	PurchasedOrderID string
}

// Submitter drives the external distribution site.
// Implementations never return errors; failures are reported in the result.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest, rec StepRecorder) WorkflowResult
}

// Notifier delivers transactional email.
type Notifier interface {
	Send(ctx context.Context, n NotificationPayload) error
}
