package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jonathan/ad-agent-console/internal/logger"
	"github.com/jonathan/ad-agent-console/internal/stages"
	"github.com/jonathan/ad-agent-console/internal/types"
)

// Orchestrator owns the single active job. Starting a job abandons the previous one, and
// updates from any session other than the active one are dropped.
type Orchestrator struct {
	opener   Opener
	fetcher  ResultsFetcher
	vocab    *stages.Vocabulary
	log      *logger.Logger
	onUpdate func(Snapshot)

	mu     sync.Mutex
	active *Session
}

// NewOrchestrator creates an orchestrator with no active job.
func NewOrchestrator(opener Opener, fetcher ResultsFetcher, opts ...Option) *Orchestrator {
	o := buildOptions(opts)
	return &Orchestrator{
		opener:   opener,
		fetcher:  fetcher,
		vocab:    o.vocab,
		log:      o.log,
		onUpdate: o.onUpdate,
	}
}

// Start makes job the active job and starts tracking it. The previous session, if any, is
// abandoned first.
func (o *Orchestrator) Start(ctx context.Context, job types.Job) (*Session, error) {
	if strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("session: job id is required")
	}

	var s *Session
	s = New(job, o.opener, o.fetcher,
		WithVocabulary(o.vocab),
		WithLogger(o.log),
		WithUpdateHandler(func(snap Snapshot) { o.forward(s, snap) }),
	)

	o.mu.Lock()
	prev := o.active
	o.active = s
	o.mu.Unlock()

	if prev != nil {
		o.log.Info("switching active job", "from", prev.JobID(), "to", job.ID)
		prev.Abandon()
	}

	if err := s.Start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (o *Orchestrator) forward(s *Session, snap Snapshot) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active != s {
		activeID := ""
		if active != nil {
			activeID = active.JobID()
		}
		o.log.Debug("dropping update for inactive job", "job_id", snap.JobID, "active_job_id", activeID, "state", snap.State)
		return
	}
	o.onUpdate(snap)
}

// Active returns the active job.
func (o *Orchestrator) Active() (types.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return types.Job{}, false
	}
	return o.active.Job(), true
}

// Session returns the active session, or nil.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Current returns a snapshot of the active session.
func (o *Orchestrator) Current() (Snapshot, error) {
	s := o.Session()
	if s == nil {
		return Snapshot{}, ErrNoActiveJob
	}
	return s.Snapshot(), nil
}

// Refetch retries the results retrieval of the active job.
func (o *Orchestrator) Refetch(ctx context.Context) error {
	s := o.Session()
	if s == nil {
		return ErrNoActiveJob
	}
	return s.Refetch(ctx)
}

// Resume reopens the stream of the active job after a transport interruption.
func (o *Orchestrator) Resume(ctx context.Context) error {
	s := o.Session()
	if s == nil {
		return ErrNoActiveJob
	}
	return s.Resume(ctx)
}

// Reset abandons the active job and clears it.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	s := o.active
	o.active = nil
	o.mu.Unlock()

	if s != nil {
		s.Abandon()
		o.log.Info("active job cleared", "job_id", s.JobID())
	}
}
