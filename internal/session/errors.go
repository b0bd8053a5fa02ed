package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveJob is returned by orchestrator calls that need an active job.
	ErrNoActiveJob = errors.New("session: no active job")
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")
	// ErrAbandoned is returned by operations on a session that has been torn down.
	ErrAbandoned = errors.New("session: abandoned")
)

// FetchError is a failed results retrieval for a job. It wraps the underlying cause,
// such as api.ErrResultsNotReady, a schema validation error or context.DeadlineExceeded.
type FetchError struct {
	JobID string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch results for job %s: %v", e.JobID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the fetch may be attempted again. Every retrieval failure is
// recoverable: the job has completed and the results endpoint is idempotent.
func (e *FetchError) Retryable() bool {
	return true
}

func transitionError(op string, from State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}
