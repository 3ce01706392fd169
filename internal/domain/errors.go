package domain

import "errors"

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrUnknownJobType     = errors.New("unknown job type")
	ErrInvalidPayload     = errors.New("invalid job payload")
	ErrMissingConfig      = errors.New("missing required configuration")
	ErrNotRetryable       = errors.New("submission cannot be retried")
	// ErrStaleClaim means the job was requeued or reclaimed since this
	// attempt started; the outcome is dropped.
	ErrStaleClaim = errors.New("job claim superseded")
	// ErrProcessingTimeout is the cause recorded for stuck jobs failed
	// with no attempts left.
	ErrProcessingTimeout = errors.New("processing timed out with no attempts left")
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the processor fails the job without retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, must not be retried.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrUnknownJobType) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrMissingConfig)
}
