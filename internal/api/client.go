// Package api is the client for the anomaly-detection backend: dataset upload,
// job submission and results retrieval.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ad-agent-console/internal/logger"
	"github.com/jonathan/ad-agent-console/internal/schemas"
	"github.com/jonathan/ad-agent-console/internal/types"
	schemadocs "github.com/jonathan/ad-agent-console/schemas"
)

// DefaultTimeout bounds every non-streaming request.
const DefaultTimeout = 30 * time.Second

// RequestIDHeader carries a per-request id so backend logs can be correlated.
const RequestIDHeader = "X-Request-ID"

const maxErrorBody = 4096

// Client talks to one backend instance.
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	log     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the overall timeout of each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		headers: make(map[string]string),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrNop(c.log)
	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit starts a pipeline run and returns the job id assigned by the backend.
func (c *Client) Submit(ctx context.Context, req types.RunRequest) (string, error) {
	const op = "submit"
	if err := req.Validate(); err != nil {
		return "", &Error{Op: op, Message: "invalid run request", Cause: err}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Op: op, Message: "failed to encode request", Cause: err}
	}

	var out types.RunResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/run", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", &Error{Op: op, Message: "backend returned an empty job id"}
	}
	return out.JobID, nil
}

// Upload sends a dataset file and returns the server-side path to pass in a RunRequest.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	const op = "upload"
	if strings.TrimSpace(name) == "" {
		return "", &Error{Op: op, Message: "file name is required"}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return "", &Error{Op: op, Message: "failed to create form file", Cause: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", &Error{Op: op, Message: "failed to read file", Cause: err}
	}
	if err := mw.Close(); err != nil {
		return "", &Error{Op: op, Message: "failed to finish form", Cause: err}
	}

	var out types.UploadResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/upload", mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	if out.Path == "" {
		return "", &Error{Op: op, Message: "backend returned an empty path"}
	}
	return out.Path, nil
}

// UploadFile uploads the file at path.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &Error{Op: "upload", Message: "failed to open file", Cause: err}
	}
	defer func() { _ = f.Close() }()
	return c.Upload(ctx, path, f)
}

// FetchResults retrieves the result artifact of a job. A 404 is reported as
// ErrResultsNotReady. The body must satisfy the result artifact schema.
func (c *Client) FetchResults(ctx context.Context, jobID string) (*types.ResultArtifact, error) {
	const op = "results"
	if strings.TrimSpace(jobID) == "" {
		return nil, &Error{Op: op, Message: "job id is required"}
	}

	status, body, err := c.do(ctx, op, http.MethodGet, "/results/"+url.PathEscape(jobID), "", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, &Error{Op: op, Status: status, Message: "no results for job " + jobID, Cause: ErrResultsNotReady}
	}
	if status != http.StatusOK {
		return nil, &Error{Op: op, Status: status, Message: errorMessage(body)}
	}

	if err := schemas.ValidateBytes("result_artifact", schemadocs.ResultArtifact, body); err != nil {
		return nil, &Error{Op: op, Status: status, Message: "invalid result artifact", Cause: err}
	}

	var artifact types.ResultArtifact
	if err := json.Unmarshal(body, &artifact); err != nil {
		return nil, &Error{Op: op, Status: status, Message: "failed to decode result artifact", Cause: err}
	}
	return &artifact, nil
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	const op = "health"
	status, body, err := c.do(ctx, op, http.MethodGet, "/health", "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &Error{Op: op, Status: status, Message: errorMessage(body)}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	status, data, err := c.do(ctx, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &Error{Op: op, Status: status, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Status: status, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, &Error{Op: op, Message: "failed to create request", Cause: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Op: op, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &Error{Op: op, Status: resp.StatusCode, Message: "failed to read response body", Cause: err}
	}

	c.log.Debug("backend request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration", time.Since(start),
	)
	return resp.StatusCode, data, nil
}

// errorMessage extracts the backend's error envelope, falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope types.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		return "empty response"
	}
	return fmt.Sprintf("%q", msg)
}
