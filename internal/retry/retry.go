// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls Do.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Default is 3 attempts starting at 1s, doubling up to 10s.
var Default = Policy{Attempts: 3, Initial: time.Second, Max: 10 * time.Second}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop wraps err so Do returns it immediately without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do calls fn until it succeeds, returns a Stop error, the attempts are
// exhausted or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	delay := p.Initial

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if attempt == p.Attempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return err
}
