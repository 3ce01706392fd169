package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestJob_CanRetry(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{
			name: "can retry when attempts below max",
			job:  Job{Attempts: 1, MaxAttempts: 3, Status: StatusProcessing},
			want: true,
		},
		{
			name: "cannot retry when attempts at max",
			job:  Job{Attempts: 3, MaxAttempts: 3, Status: StatusProcessing},
			want: false,
		},
		{
			name: "cannot retry when completed",
			job:  Job{Attempts: 1, MaxAttempts: 3, Status: StatusCompleted},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_ReportedStatus(t *testing.T) {
	tests := []struct {
		job  Job
		want JobStatus
	}{
		{Job{Status: StatusPending, Attempts: 0}, StatusPending},
		{Job{Status: StatusPending, Attempts: 1}, StatusRetrying},
		{Job{Status: StatusProcessing, Attempts: 1}, StatusProcessing},
		{Job{Status: StatusFailed, Attempts: 3}, StatusFailed},
	}

	for _, tt := range tests {
		if got := tt.job.ReportedStatus(); got != tt.want {
			t.Errorf("ReportedStatus(%s, %d) = %q, want %q", tt.job.Status, tt.job.Attempts, got, tt.want)
		}
	}
}

func TestJobType_Valid(t *testing.T) {
	for _, typ := range []JobType{TypeSubmission, TypeNotification, TypeCleanup, TypeMonitoring} {
		if !typ.Valid() {
			t.Errorf("%q.Valid() = false, want true", typ)
		}
	}
	if JobType("fax_delivery").Valid() {
		t.Error(`"fax_delivery".Valid() = true, want false`)
	}
}

func TestJobStatus_Values(t *testing.T) {
	// Stored values must stay stable for existing rows.
	values := map[JobStatus]string{
		StatusPending:    "pending",
		StatusProcessing: "processing",
		StatusCompleted:  "completed",
		StatusFailed:     "failed",
		StatusRetrying:   "retrying",
	}
	for status, want := range values {
		if string(status) != want {
			t.Errorf("status = %q, want %q", status, want)
		}
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() || StatusProcessing.Terminal() {
		t.Error("Terminal() must be true only for completed and failed")
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     JobType
		raw     string
		want    Payload
		wantErr error
	}{
		{
			name: "submission",
			typ:  TypeSubmission,
			raw:  `{"submission_id":"sub-1","package_type":"premium","payment_mode":"credit"}`,
			want: SubmissionPayload{SubmissionID: "sub-1", PackageType: "premium", PaymentMode: PaymentCredit},
		},
		{
			name:    "submission without id",
			typ:     TypeSubmission,
			raw:     `{"package_type":"premium"}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "notification without recipient",
			typ:     TypeNotification,
			raw:     `{"template":"x"}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name: "cleanup with empty data",
			typ:  TypeCleanup,
			raw:  ``,
			want: CleanupPayload{},
		},
		{
			name: "monitoring",
			typ:  TypeMonitoring,
			raw:  `{"stuck_after_minutes":45}`,
			want: MonitoringPayload{StuckAfterMinutes: 45},
		},
		{
			name:    "malformed json",
			typ:     TypeCleanup,
			raw:     `{"retention_hours":`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "unknown type",
			typ:     "fax_delivery",
			raw:     `{}`,
			wantErr: ErrUnknownJobType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(tt.typ, json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodePayload() error = %v, want %v", err, tt.wantErr)
				}
				if !IsPermanent(err) {
					t.Errorf("IsPermanent(%v) = false, want true", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload() error = %v", err)
			}
			if got.JobType() != tt.typ {
				t.Errorf("JobType() = %q, want %q", got.JobType(), tt.typ)
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("DecodePayload() = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestParsePaymentMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PaymentMode
		wantErr bool
	}{
		{"", PaymentAuto, false},
		{"auto", PaymentAuto, false},
		{"automatic", PaymentAuto, false},
		{"credit", PaymentCredit, false},
		{"manual", PaymentManual, false},
		{"barter", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePaymentMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePaymentMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePaymentMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("credentials missing")
	err := Permanent(base)
	if !IsPermanent(err) {
		t.Error("IsPermanent(Permanent(err)) = false, want true")
	}
	if !errors.Is(err, base) {
		t.Error("Permanent() must wrap the cause")
	}
	if IsPermanent(errors.New("timeout")) {
		t.Error("IsPermanent(plain error) = true, want false")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}

func TestWorkflowResult_Err(t *testing.T) {
	r := WorkflowResult{
		Purchase:   PurchaseResult{Success: true},
		Submission: SubmissionResult{Error: "preview rejected"},
	}
	if r.Succeeded() {
		t.Error("Succeeded() = true, want false")
	}
	if got := r.Err(); got != "submission: preview rejected" {
		t.Errorf("Err() = %q", got)
	}
}
