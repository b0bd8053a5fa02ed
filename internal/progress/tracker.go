// Package progress accumulates stage signals into a monotonic per-job progress view and
// detects the terminal completion of a job.
package progress

import "github.com/jonathan/ad-agent-console/internal/stages"

// Status is the state of one stage.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusDone    Status = "done"
)

// StageStatus is one row of a progress snapshot.
type StageStatus struct {
	Stage  stages.ID `json:"stage"`
	Label  string    `json:"label"`
	Status Status    `json:"status"`
}

// Tracker owns the progress state of a single job. It is not safe for concurrent use;
// the owning session feeds it one event at a time.
type Tracker struct {
	stages []stages.Stage
	status []Status
	cursor int
}

// NewTracker creates a tracker with every stage waiting.
func NewTracker(defs []stages.Stage) *Tracker {
	t := &Tracker{
		stages: append([]stages.Stage(nil), defs...),
		status: make([]Status, len(defs)),
		cursor: -1,
	}
	for i := range t.status {
		t.status[i] = StatusWaiting
	}
	return t
}

// Apply advances the state for a stage signal and reports whether anything changed.
//
// Every stage up to and including the signaled one becomes done, even when earlier signals
// were never observed, and the following stage becomes active. Signals at or behind the
// cursor are no-ops.
func (t *Tracker) Apply(sig stages.Signal) bool {
	i := sig.Position
	if i < 0 || i >= len(t.status) || i <= t.cursor {
		return false
	}

	for j := 0; j <= i; j++ {
		t.status[j] = StatusDone
	}
	if i+1 < len(t.status) {
		t.status[i+1] = StatusActive
	}
	t.cursor = i
	return true
}

// Cursor returns the index of the furthest stage reached, or -1 before any signal.
func (t *Tracker) Cursor() int {
	return t.cursor
}

// DoneCount returns the number of stages marked done.
func (t *Tracker) DoneCount() int {
	return t.cursor + 1
}

// AllDone reports whether every stage is done.
func (t *Tracker) AllDone() bool {
	return t.cursor == len(t.status)-1
}

// Snapshot returns the ordered stage statuses. The result is a copy.
func (t *Tracker) Snapshot() []StageStatus {
	out := make([]StageStatus, len(t.stages))
	for i, s := range t.stages {
		out[i] = StageStatus{Stage: s.ID, Label: s.DisplayLabel(), Status: t.status[i]}
	}
	return out
}
