package mpu9250

import (
	"errors"
	"time"
)

// RetryPolicy bounds how often an operation is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var (
	// One re-read of the FIFO count after a short grace period.
	defaultCountRetry = RetryPolicy{Attempts: 2, Backoff: 2500 * time.Microsecond}
	// One immediate re-read of the FIFO payload after a bus error.
	defaultReadRetry = RetryPolicy{Attempts: 2}
)

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// retryable marks err as worth another attempt.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// Do calls fn until it succeeds, returns an error not marked retryable, or
// the attempts run out. The last error is returned unwrapped.
func (p RetryPolicy) Do(fn func(attempt int) error) error {
	n := p.Attempts
	if n < 1 {
		n = 1
	}
	var err error
	for i := 0; i < n; i++ {
		if i > 0 && p.Backoff > 0 {
			sleep(p.Backoff)
		}
		err = fn(i)
		var r retryableError
		if !errors.As(err, &r) {
			return err
		}
		err = r.err
	}
	return err
}
