// Package session drives one tracked job from submission to its fetched results: it consumes
// the job's log stream, feeds the classifier, tracker and completion detector, retrieves the
// artifact once, and tears everything down when the job is abandoned.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jonathan/ad-agent-console/internal/logger"
	"github.com/jonathan/ad-agent-console/internal/progress"
	"github.com/jonathan/ad-agent-console/internal/stages"
	"github.com/jonathan/ad-agent-console/internal/stream"
	"github.com/jonathan/ad-agent-console/internal/types"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle        State = "idle"
	StateStreaming   State = "streaming"
	StateStalled     State = "stalled"
	StateCompleted   State = "completed"
	StateFetched     State = "fetched"
	StateFetchFailed State = "fetch_failed"
	StateAbandoned   State = "abandoned"
)

// Settled reports whether the session will make no further progress without a consumer
// action (Refetch, Resume, or a new job).
func (s State) Settled() bool {
	switch s {
	case StateFetched, StateFetchFailed, StateStalled, StateAbandoned:
		return true
	default:
		return false
	}
}

const (
	// MaxEvents is the number of raw lines kept for the log view.
	MaxEvents = 200
	// MaxDiagnostics is the number of error lines kept.
	MaxDiagnostics = 20
	// DiagnosticPrefix marks pipeline error lines.
	DiagnosticPrefix = "[ERROR]"
)

// EventStream is an open log stream. *stream.Stream implements it.
type EventStream interface {
	Events() <-chan stream.RawEvent
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Opener opens the log stream of a job.
type Opener interface {
	Open(ctx context.Context, jobID string) (EventStream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, jobID string) (EventStream, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, jobID string) (EventStream, error) {
	return f(ctx, jobID)
}

// StreamOpener opens streams with a stream.Client.
func StreamOpener(c *stream.Client) Opener {
	return OpenerFunc(func(ctx context.Context, jobID string) (EventStream, error) {
		st, err := c.Open(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	Job         types.Job
	JobID       string
	State       State
	Stages      []progress.StageStatus
	Completed   bool
	Artifact    *types.ResultArtifact
	Err         error
	Diagnostics []string
	Events      []string
	// Received counts every event handled, including those dropped from Events.
	Received int
}

// Option configures a Session or an Orchestrator.
type Option func(*options)

type options struct {
	vocab    *stages.Vocabulary
	log      *logger.Logger
	onUpdate func(Snapshot)
}

// WithVocabulary sets the stage vocabulary. The default is stages.Default().
func WithVocabulary(v *stages.Vocabulary) Option {
	return func(o *options) {
		o.vocab = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithUpdateHandler registers the consumer callback. It is called with a fresh snapshot
// after every change, one call at a time. It must not start, reset or abandon sessions
// synchronously.
func WithUpdateHandler(fn func(Snapshot)) Option {
	return func(o *options) {
		o.onUpdate = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.vocab == nil {
		o.vocab = stages.Default()
	}
	o.log = logger.OrNop(o.log)
	if o.onUpdate == nil {
		o.onUpdate = func(Snapshot) {}
	}
	return o
}

// Session tracks one job. Events of the job are handled one at a time by a single
// goroutine; the tracker and detector are never touched concurrently.
type Session struct {
	job      types.Job
	vocab    *stages.Vocabulary
	opener   Opener
	fetcher  ResultsFetcher
	log      *logger.Logger
	onUpdate func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// emitMu serializes update callbacks and lets Abandon wait out an in-flight one.
	emitMu sync.Mutex

	mu          sync.Mutex
	state       State
	tracker     *progress.Tracker
	detector    *progress.Detector
	stream      EventStream
	artifact    *types.ResultArtifact
	err         error
	diagnostics []string
	events      []string
	received    int
	closed      bool
}

// New creates an idle session for job.
func New(job types.Job, opener Opener, fetcher ResultsFetcher, opts ...Option) *Session {
	o := buildOptions(opts)
	s := &Session{
		job:      job,
		vocab:    o.vocab,
		opener:   opener,
		fetcher:  fetcher,
		log:      o.log.With("job_id", job.ID),
		onUpdate: o.onUpdate,
		state:    StateIdle,
		tracker:  progress.NewTracker(o.vocab.Stages),
		detector: progress.NewDetector(o.vocab),
	}
	// Runs under s.mu from handle, exactly once.
	s.detector.Subscribe(func() {
		s.state = StateCompleted
	})
	return s
}

// JobID returns the id of the tracked job.
func (s *Session) JobID() string {
	return s.job.ID
}

// Job returns the tracked job.
func (s *Session) Job() types.Job {
	return s.job
}

// Start opens the job's stream and begins consuming it. ctx bounds the whole session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAbandoned
	}
	if s.state != StateIdle {
		from := s.state
		s.mu.Unlock()
		return transitionError("start", from)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	// Claimed before opening so a concurrent Start sees a transition error.
	s.state = StateStreaming
	s.mu.Unlock()

	return s.openStream("start")
}

// Resume reopens the stream of a stalled session. Progress is kept.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAbandoned
	}
	if s.state != StateStalled {
		from := s.state
		s.mu.Unlock()
		return transitionError("resume", from)
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	// Only one Resume may open the replacement stream.
	s.state = StateStreaming
	s.mu.Unlock()

	s.log.Info("resuming stream")
	return s.openStream("resume")
}

func (s *Session) openStream(op string) error {
	st, err := s.opener.Open(s.ctx, s.job.ID)
	if err != nil {
		s.mu.Lock()
		if !s.closed {
			s.state = StateStalled
			s.err = err
		}
		s.mu.Unlock()
		s.emit()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = st.Close()
		return ErrAbandoned
	}
	s.state = StateStreaming
	s.err = nil
	s.stream = st
	s.mu.Unlock()

	s.log.Debug("stream opened", "op", op)
	s.emit()

	s.wg.Add(1)
	go s.consume(st)
	return nil
}

func (s *Session) consume(st EventStream) {
	defer s.wg.Done()

	for ev := range st.Events() {
		if s.handle(st, ev) {
			s.complete(st)
			return
		}
	}

	<-st.Done()
	err := st.Err()

	s.mu.Lock()
	if s.closed || s.state != StateStreaming || s.stream != st {
		s.mu.Unlock()
		return
	}
	if err == nil {
		// Closed by its context without an explicit teardown.
		err = s.ctx.Err()
		if err == nil {
			err = stream.ErrTransportInterrupted
		}
	}
	s.state = StateStalled
	s.err = err
	s.mu.Unlock()

	s.log.Warn("stream interrupted before completion", "error", err)
	s.emit()
}

// handle applies one event of st and reports whether it completed the job. Events of a
// stream other than the current one are dropped.
func (s *Session) handle(st EventStream, ev stream.RawEvent) bool {
	s.mu.Lock()
	if s.closed || s.state != StateStreaming || s.stream != st {
		s.mu.Unlock()
		return false
	}

	s.received++
	s.events = appendBounded(s.events, ev.Text, MaxEvents)
	if strings.HasPrefix(strings.TrimSpace(ev.Text), DiagnosticPrefix) {
		s.diagnostics = appendBounded(s.diagnostics, ev.Text, MaxDiagnostics)
	}

	if sig, ok := s.vocab.Classify(ev.Text); ok {
		if s.tracker.Apply(sig) {
			s.log.Debug("stage reached", "stage", sig.Stage, "marker", sig.Marker, "seq", ev.Seq)
		}
	}

	s.detector.Check(ev.Text)
	completed := s.state == StateCompleted
	s.mu.Unlock()

	s.emit()
	return completed
}

// complete closes the stream and retrieves the artifact once.
func (s *Session) complete(st EventStream) {
	_ = st.Close()
	s.log.Info("job completed", "stages_done", s.doneCount())
	s.runFetch(s.ctx)
}

func (s *Session) doneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.DoneCount()
}

func (s *Session) runFetch(ctx context.Context) error {
	artifact, err := s.fetcher.Fetch(ctx, s.job.ID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Debug("discarding results of abandoned session", "error", err)
		return ErrAbandoned
	}
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{JobID: s.job.ID, Err: err}
		}
		s.state = StateFetchFailed
		s.err = err
	} else {
		s.state = StateFetched
		s.artifact = artifact
		s.err = nil
	}
	s.mu.Unlock()

	s.emit()
	return err
}

// Refetch retries a failed results retrieval. In the fetched state it returns nil without
// issuing a request.
func (s *Session) Refetch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAbandoned
	}
	switch s.state {
	case StateFetched:
		s.mu.Unlock()
		return nil
	case StateFetchFailed:
		s.state = StateCompleted
		s.err = nil
	default:
		from := s.state
		s.mu.Unlock()
		return transitionError("refetch", from)
	}
	s.mu.Unlock()
	s.emit()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.log.Info("refetching results")
	return s.runFetch(ctx)
}

// Abandon tears the session down from any state. No update callback runs after Abandon
// returns, and the result of an in-flight fetch is discarded.
func (s *Session) Abandon() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	from := s.state
	s.state = StateAbandoned
	st := s.stream
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if st != nil {
		_ = st.Close()
	}

	// Wait for a callback that was already running.
	s.emitMu.Lock()
	s.emitMu.Unlock() //nolint:staticcheck // barrier

	s.log.Info("session abandoned", "state", from)
}

// Wait blocks until the session's background work has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Job:         s.job,
		JobID:       s.job.ID,
		State:       s.state,
		Stages:      s.tracker.Snapshot(),
		Completed:   s.detector.Completed(),
		Artifact:    s.artifact,
		Err:         s.err,
		Diagnostics: append([]string(nil), s.diagnostics...),
		Events:      append([]string(nil), s.events...),
		Received:    s.received,
	}
}

func (s *Session) emit() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.onUpdate(snap)
}

func appendBounded(list []string, v string, limit int) []string {
	list = append(list, v)
	if len(list) > limit {
		list = append(list[:0:0], list[len(list)-limit:]...)
	}
	return list
}
