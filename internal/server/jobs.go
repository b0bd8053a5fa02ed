package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonathan/ad-agent-console/internal/types"
)

// doneLine ends every log stream.
const doneLine = "DONE"

// replayJob is the in-memory log buffer and result of one submitted job.
type replayJob struct {
	job types.Job

	mu       sync.Mutex
	lines    []string
	finished bool
	result   []byte
	changed  chan struct{}
}

func newReplayJob(job types.Job) *replayJob {
	return &replayJob{job: job, changed: make(chan struct{})}
}

// append adds lines and wakes every waiting stream.
func (j *replayJob) append(lines ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, lines...)
	close(j.changed)
	j.changed = make(chan struct{})
}

// publish stores the result and appends the final lines in one step, so a client that
// sees the last line can already fetch the result.
func (j *replayJob) publish(result []byte, lines ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = result
	j.lines = append(j.lines, lines...)
	j.lines = append(j.lines, doneLine)
	j.finished = true
	close(j.changed)
	j.changed = make(chan struct{})
}

// since returns the lines after the first n, whether the job has finished, and a channel
// that is closed on the next change.
func (j *replayJob) since(n int) ([]string, bool, <-chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	if n < len(j.lines) {
		out = append(out, j.lines[n:]...)
	}
	return out, j.finished, j.changed
}

func (j *replayJob) results() ([]byte, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.finished
}

// jobStore holds every job submitted since start.
type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]*replayJob
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*replayJob)}
}

func (s *jobStore) add(j *replayJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.job.ID] = j
}

func (s *jobStore) get(id string) (*replayJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, &ErrJobNotFound{JobID: id}
	}
	return j, nil
}

// replay feeds the transcript into j, one line per interval.
func (s *Server) replay(ctx context.Context, j *replayJob, t *Transcript) {
	log := s.log.With("job_id", j.job.ID)
	log.Info("replay started", "lines", len(t.Lines), "interval", s.interval)

	result := []byte("[]")
	failed := t.Result == nil
	if !failed {
		artifact := make(map[string]any, len(t.Result)+2)
		for k, v := range t.Result {
			artifact[k] = v
		}
		artifact["dataset_train"] = j.job.TrainPath
		if j.job.TestPath != "" {
			artifact["dataset_test"] = j.job.TestPath
		} else {
			artifact["dataset_test"] = j.job.TrainPath
		}
		data, err := json.Marshal(artifact)
		if err != nil {
			log.Error("failed to encode transcript result", "error", err)
			failed = true
		} else {
			result = data
		}
	}

	if len(t.Lines) == 0 {
		j.publish(result)
		return
	}
	last := len(t.Lines) - 1
	for i, line := range t.Lines {
		if !sleep(ctx, s.interval) {
			log.Info("replay cancelled", "sent", i)
			return
		}
		if i < last {
			j.append(line)
			continue
		}
		if failed {
			j.publish(result, line, "[ERROR] pipeline produced no results")
		} else {
			j.publish(result, line)
		}
	}
	log.Info("replay finished", "failed", failed)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
