package domain

import (
	"encoding/json"
	"time"
)

// JobType selects the handler a job is dispatched to.
type JobType string

const (
	TypeSubmission   JobType = "press_release_submission"
	TypeNotification JobType = "email_notification"
	TypeCleanup      JobType = "cleanup"
	TypeMonitoring   JobType = "monitoring"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case TypeSubmission, TypeNotification, TypeCleanup, TypeMonitoring:
		return true
	}
	return false
}

// JobStatus represents the processing state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	// StatusRetrying is reported for pending jobs that already failed at least once.
	// It is never stored.
	StatusRetrying JobStatus = "retrying"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Default priorities per job type. Higher is claimed first.
const (
	PriorityHigh   = 10
	PriorityMedium = 5
	PriorityLow    = 1
)

// Job is a queued unit of asynchronous work.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Priority    int
	Data        json.RawMessage
	Result      json.RawMessage
	Error       string
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CanRetry returns true if the job has attempts left and is not completed.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts && j.Status != StatusCompleted
}

// ReportedStatus maps a stored status to the one shown to callers.
func (j *Job) ReportedStatus() JobStatus {
	if j.Status == StatusPending && j.Attempts > 0 {
		return StatusRetrying
	}
	return j.Status
}

// Payload decodes the job data into its typed variant.
func (j *Job) Payload() (Payload, error) {
	return DecodePayload(j.Type, j.Data)
}

// NewJob describes a job to insert.
type NewJob struct {
	Type        JobType
	Data        json.RawMessage
	Priority    int
	MaxAttempts int
	ScheduledAt time.Time
}

// Failure describes how a failed attempt is recorded.
type Failure struct {
	Reason  string
	Retry   bool
	RetryAt time.Time
}

// StuckResult reports a stuck-job sweep. Failed holds the jobs that ran
// out of attempts, as stored after the sweep.
type StuckResult struct {
	Requeued int64
	Failed   []Job
}

// JobFilter narrows job listings. Zero values match everything.
type JobFilter struct {
	Status JobStatus
	Type   JobType
	Limit  int
}

// StatusCount is one row of the status/type aggregate.
type StatusCount struct {
	Status JobStatus `json:"status"`
	Type   JobType   `json:"type"`
	Count  int64     `json:"count"`
}
