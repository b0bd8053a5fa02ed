// Package stream consumes the per-job server-pushed log stream of the backend.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/ad-agent-console/internal/logger"
)

// ErrTransportInterrupted is matched by every error that ends a stream before it was
// closed by its owner: dial failures, non-200 responses, read errors and server EOF.
var ErrTransportInterrupted = errors.New("stream: transport interrupted")

// RawEvent is one pushed event. Seq is the local arrival order, starting at 1.
type RawEvent struct {
	Seq      int
	Text     string
	Received time.Time
}

// TransportError describes why a stream was interrupted.
type TransportError struct {
	JobID  string
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("stream %s: transport interrupted: HTTP %d", e.JobID, e.Status)
	case e.Cause != nil:
		return fmt.Sprintf("stream %s: transport interrupted: %v", e.JobID, e.Cause)
	default:
		return fmt.Sprintf("stream %s: transport interrupted", e.JobID)
	}
}

func (e *TransportError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransportInterrupted}
	}
	return []error{ErrTransportInterrupted, e.Cause}
}

// Client opens log streams against one backend.
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	log     *logger.Logger
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client. It should not carry an overall
// timeout: streams stay open for the lifetime of a job.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithHeader adds a header to every stream request.
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

// NewClient creates a stream client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		headers: make(map[string]string),
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrNop(c.log)
	return c
}

// URL returns the stream endpoint for a job.
func (c *Client) URL(jobID string) string {
	return c.baseURL + "/logs/" + url.PathEscape(jobID)
}

// Open starts streaming the log of a job. Connection problems are not returned here;
// they end the stream and are reported by Stream.Err.
func (c *Client) Open(ctx context.Context, jobID string) (*Stream, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("stream: job id is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		jobID:  jobID,
		events: make(chan RawEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx, s)
	return s, nil
}

func (c *Client) run(ctx context.Context, s *Stream) {
	defer close(s.done)
	defer close(s.events)

	log := c.log.With("job_id", s.jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(s.jobID), nil)
	if err != nil {
		s.fail(ctx, &TransportError{JobID: s.jobID, Cause: err})
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		s.fail(ctx, &TransportError{JobID: s.jobID, Cause: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		s.fail(ctx, &TransportError{JobID: s.jobID, Status: resp.StatusCode})
		return
	}

	if !s.attach(resp.Body) {
		return
	}
	log.Debug("stream connected", "url", req.URL.String())

	seq := 0
	err = ReadEvents(ctx, resp.Body, func(data string) bool {
		seq++
		ev := RawEvent{Seq: seq, Text: data, Received: c.now()}
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	})

	if err != nil {
		s.fail(ctx, &TransportError{JobID: s.jobID, Cause: err})
		return
	}
	// The server closing the stream is an interruption from the consumer's point of view;
	// only the owner decides when a job's stream is finished.
	s.fail(ctx, &TransportError{JobID: s.jobID, Cause: io.EOF})
	log.Debug("stream ended by server", "events", seq)
}

// Stream is one open log stream.
type Stream struct {
	jobID  string
	events chan RawEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	body   io.Closer
	closed bool
	err    error
}

// JobID returns the job this stream belongs to.
func (s *Stream) JobID() string {
	return s.jobID
}

// Events returns the event channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan RawEvent {
	return s.events
}

// Done is closed once the reader has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended: nil when it was closed by its owner or its context,
// an error matching ErrTransportInterrupted otherwise. Only meaningful after Done.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the connection down. It is idempotent and returns only after the reader has
// exited, so no event is delivered after Close returns.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	body := s.body
	s.mu.Unlock()

	s.cancel()
	if body != nil {
		_ = body.Close()
	}
	<-s.done
	return nil
}

func (s *Stream) attach(body io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.body = body
	return true
}

func (s *Stream) fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil {
		return
	}
	s.err = err
}
