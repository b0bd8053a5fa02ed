package api

import (
	"errors"
	"fmt"
)

// ErrResultsNotReady is returned by FetchResults when the backend has no results for a job yet.
var ErrResultsNotReady = errors.New("api: results not ready")

// Error represents a failed call to the backend.
type Error struct {
	Op      string
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("api %s: %s: %v", e.Op, msg, e.Cause)
	}
	return fmt.Sprintf("api %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
