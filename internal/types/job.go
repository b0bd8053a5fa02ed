// Package types provides type definitions for structured data exchanged with the anomaly-detection backend.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Job identifies one submitted pipeline run and the inputs it was started with.
type Job struct {
	ID          string    `json:"job_id"`
	Command     string    `json:"command"`
	TrainPath   string    `json:"train_path"`
	TestPath    string    `json:"test_path,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RunRequest is the body of POST /run.
type RunRequest struct {
	Command   string `json:"command" validate:"required,min=1"`
	TrainPath string `json:"train_path" validate:"required"`
	TestPath  string `json:"test_path,omitempty"`
}

// RunResponse is the body returned by POST /run.
type RunResponse struct {
	JobID string `json:"job_id"`
}

// UploadResponse is the body returned by POST /upload.
type UploadResponse struct {
	Path string `json:"path"`
}

// ErrorResponse is the error envelope used by the backend.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Validate validates the RunRequest using the validator.
func (r *RunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// JobFromRequest builds the Job tracked for a successful submission.
func JobFromRequest(id string, req RunRequest, at time.Time) Job {
	return Job{
		ID:          id,
		Command:     req.Command,
		TrainPath:   req.TrainPath,
		TestPath:    req.TestPath,
		SubmittedAt: at,
	}
}
