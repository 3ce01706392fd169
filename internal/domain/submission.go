package domain

import "time"

// SubmissionStatus is the business state of a press release distribution request.
type SubmissionStatus string

const (
	SubmissionDraft            SubmissionStatus = "draft"
	SubmissionPaymentPending   SubmissionStatus = "payment_pending"
	SubmissionPaid             SubmissionStatus = "paid"
	SubmissionProcessing       SubmissionStatus = "processing"
	SubmissionCompleted        SubmissionStatus = "completed"
	SubmissionFailed           SubmissionStatus = "failed"
	SubmissionAwaitingApproval SubmissionStatus = "awaiting_approval"
)

// Submission is one user's press release distribution request.
type Submission struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Title           string           `json:"title"`
	Summary         string           `json:"summary"`
	Body            string           `json:"body"`
	Location        string           `json:"location"`
	Company         string           `json:"company"`
	ContactName     string           `json:"contact_name"`
	ContactEmail    string           `json:"contact_email"`
	ContactPhone    string           `json:"contact_phone"`
	Website         string           `json:"website"`
	Industry        string           `json:"industry"`
	PackageType     string           `json:"package_type"`
	ReleaseAt       *time.Time       `json:"release_at,omitempty"`
	Timezone        string           `json:"timezone"`
	Status          SubmissionStatus `json:"status"`
	ExternalOrderID string           `json:"external_order_id,omitempty"`
	ConfirmationURL string           `json:"confirmation_url,omitempty"`
	ProcessingLogs  []ProcessingLog  `json:"processing_logs"`
	ErrorLogs       []ErrorLog       `json:"error_logs"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Enqueueable reports whether a payment success may start processing.
func (s *Submission) Enqueueable() bool {
	switch s.Status {
	case SubmissionDraft, SubmissionPaymentPending:
		return true
	}
	return false
}

// StepStatus is the outcome recorded for one workflow step.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ProcessingLog is one entry of a Submission's audit trail.
type ProcessingLog struct {
	Timestamp time.Time  `json:"timestamp"`
	Step      string     `json:"step"`
	Status    StepStatus `json:"status"`
	Details   string     `json:"details,omitempty"`
	// Screenshots are base64 page captures taken at the end of a run.
	Screenshots []string `json:"screenshots,omitempty"`
}

// ErrorLog is a user-visible failure message.
type ErrorLog struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// PurchaseResult is the outcome of buying a distribution package.
type PurchaseResult struct {
	Success     bool     `json:"success"`
	OrderID     string   `json:"order_id,omitempty"`
	Error       string   `json:"error,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
}

// SubmissionResult is the outcome of submitting the release form.
type SubmissionResult struct {
	Success         bool     `json:"success"`
	SubmissionID    string   `json:"submission_id,omitempty"`
	ConfirmationURL string   `json:"confirmation_url,omitempty"`
	Error           string   `json:"error,omitempty"`
	MissingFields   []string `json:"missing_fields,omitempty"`
	Screenshots     []string `json:"screenshots,omitempty"`
}

// WorkflowResult combines both phases of one automation run.
type WorkflowResult struct {
	Purchase         PurchaseResult   `json:"purchase"`
	Submission       SubmissionResult `json:"submission"`
	AwaitingApproval bool             `json:"awaiting_approval,omitempty"`
	// Permanent marks failures that retrying cannot fix, such as missing credentials.
	Permanent bool `json:"-"`
}

// Succeeded reports whether both phases succeeded.
func (r *WorkflowResult) Succeeded() bool {
	return r.Purchase.Success && r.Submission.Success
}

// Err returns the first recorded error, purchase first.
func (r *WorkflowResult) Err() string {
	if r.Purchase.Error != "" {
		return "purchase: " + r.Purchase.Error
	}
	if r.Submission.Error != "" {
		return "submission: " + r.Submission.Error
	}
	return ""
}
