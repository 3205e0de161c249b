package resilience

import (
	"errors"
	"time"
)

// RetryPolicy defines retry behavior for transient failures. Used by the
// tool dispatcher; the session transport itself never auto-retries (a lost
// connection is surfaced and retry is a host-layer decision).
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 150 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

func (r RetryPolicy) Do(fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if i == r.MaxRetries {
			return err
		}
		time.Sleep(r.Backoff * time.Duration(i+1))
	}
	return err
}

// PermanentError stops the retry loop immediately; Do returns the wrapped
// error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
