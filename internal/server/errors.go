package server

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrJobNotFound indicates an unknown job id
type ErrJobNotFound struct {
	JobID string
}

func (e *ErrJobNotFound) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// ErrResultsPending indicates the job has not produced results yet
type ErrResultsPending struct {
	JobID string
}

func (e *ErrResultsPending) Error() string {
	return fmt.Sprintf("no results found for job %s", e.JobID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		notFound *ErrJobNotFound
		pending  *ErrResultsPending
		invalid  *ErrValidation
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &pending):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
