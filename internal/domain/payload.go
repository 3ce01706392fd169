package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed job data. Each job type has exactly one variant.
type Payload interface {
	JobType() JobType
}

// PaymentMode selects how the workflow pays for distribution.
type PaymentMode string

const (
	PaymentAuto   PaymentMode = "auto"
	PaymentCredit PaymentMode = "credit"
	PaymentManual PaymentMode = "manual"
)

// ParsePaymentMode maps a config or payload value to a mode; empty means auto.
func ParsePaymentMode(s string) (PaymentMode, error) {
	switch PaymentMode(s) {
	case "", PaymentAuto, "automatic":
		return PaymentAuto, nil
	case PaymentCredit:
		return PaymentCredit, nil
	case PaymentManual:
		return PaymentManual, nil
	}
	return "", fmt.Errorf("unknown payment mode %q", s)
}

// SubmissionPayload drives a press_release_submission job.
type SubmissionPayload struct {
	SubmissionID string      `json:"submission_id"`
	PackageType  string      `json:"package_type,omitempty"`
	PaymentMode  PaymentMode `json:"payment_mode,omitempty"`
	Headless     *bool       `json:"headless,omitempty"`
}

func (SubmissionPayload) JobType() JobType { return TypeSubmission }

// NotificationPayload drives an email_notification job.
type NotificationPayload struct {
	To           string            `json:"to"`
	Template     string            `json:"template"`
	Subject      string            `json:"subject"`
	Data         map[string]string `json:"data,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"`
}

func (NotificationPayload) JobType() JobType { return TypeNotification }

// CleanupPayload drives a cleanup job. Zero retention uses the configured default.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

func (CleanupPayload) JobType() JobType { return TypeCleanup }

// MonitoringPayload drives a monitoring job. Zero uses the configured stuck timeout.
type MonitoringPayload struct {
	StuckAfterMinutes int `json:"stuck_after_minutes,omitempty"`
}

func (MonitoringPayload) JobType() JobType { return TypeMonitoring }

// DecodePayload returns the payload variant for t.
func DecodePayload(t JobType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case TypeSubmission:
		var v SubmissionPayload
		if err := unmarshalPayload(raw, &v); err != nil {
			return nil, err
		}
		if v.SubmissionID == "" {
			return nil, fmt.Errorf("%w: submission_id is required", ErrInvalidPayload)
		}
		p = v
	case TypeNotification:
		var v NotificationPayload
		if err := unmarshalPayload(raw, &v); err != nil {
			return nil, err
		}
		if v.To == "" {
			return nil, fmt.Errorf("%w: to is required", ErrInvalidPayload)
		}
		p = v
	case TypeCleanup:
		var v CleanupPayload
		if err := unmarshalPayload(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case TypeMonitoring:
		var v MonitoringPayload
		if err := unmarshalPayload(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
	return p, nil
}

// EncodePayload marshals p for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.JobType(), err)
	}
	return data, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
