package rpa

import (
	"errors"
	"fmt"
)

var (
	ErrNoRunner = errors.New("rpa scheduler: runner is required")
)

// NoRetry marks an error as non-retryable.
//
// Runners wrap permanent failures (bad command, validation errors) with
// NoRetry so the scheduler won't burn backoff time on them.
//
// Example:
//
//	return rpa.NoRetry(fmt.Errorf("empty command for job %s", job.ID))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
