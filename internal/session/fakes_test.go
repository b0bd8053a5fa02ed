package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/ad-agent-console/internal/stream"
	"github.com/jonathan/ad-agent-console/internal/types"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// fakeStream behaves like stream.Stream: a single goroutine owns the events channel.
type fakeStream struct {
	feed   chan string
	events chan stream.RawEvent
	stop   chan struct{}
	end    chan error
	done   chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
	closed   bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		feed:   make(chan string),
		events: make(chan stream.RawEvent),
		stop:   make(chan struct{}),
		end:    make(chan error),
		done:   make(chan struct{}),
	}
}

func (f *fakeStream) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.events)

	seq := 0
	for {
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		case err := <-f.end:
			f.mu.Lock()
			f.err = err
			f.mu.Unlock()
			return
		case text := <-f.feed:
			seq++
			select {
			case f.events <- stream.RawEvent{Seq: seq, Text: text, Received: time.Now()}:
			case <-f.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// send pushes one line and reports whether the stream accepted it.
func (f *fakeStream) send(lines ...string) bool {
	for _, line := range lines {
		select {
		case f.feed <- line:
		case <-f.done:
			return false
		}
	}
	return true
}

// interrupt ends the stream as if the server went away.
func (f *fakeStream) interrupt(err error) {
	select {
	case f.end <- err:
	case <-f.done:
	}
}

func (f *fakeStream) Events() <-chan stream.RawEvent { return f.events }
func (f *fakeStream) Done() <-chan struct{}          { return f.done }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stop) })
	<-f.done
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOpener struct {
	mu      sync.Mutex
	streams []*fakeStream
	jobIDs  []string
	err     error
	delay   time.Duration
}

func (o *fakeOpener) setDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = d
}

func (o *fakeOpener) Open(ctx context.Context, jobID string) (EventStream, error) {
	o.mu.Lock()
	delay := o.delay
	o.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	st := newFakeStream()
	o.streams = append(o.streams, st)
	o.jobIDs = append(o.jobIDs, jobID)
	go st.run(ctx)
	return st, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

func (o *fakeOpener) stream(t *testing.T, i int) *fakeStream {
	t.Helper()
	require.Eventually(t, func() bool { return o.count() > i }, waitFor, tick)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streams[i]
}

type fetchResult struct {
	artifact *types.ResultArtifact
	err      error
}

// fakeFetcher returns queued results in order, repeating the last one. When block is set,
// each call waits for it to be closed or for its context to end.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	jobIDs  []string
	results []fetchResult
	block   chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, jobID string) (*types.ResultArtifact, error) {
	f.mu.Lock()
	f.calls++
	f.jobIDs = append(f.jobIDs, jobID)
	idx := f.calls - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	var res fetchResult
	if idx >= 0 {
		res = f.results[idx]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res.artifact, res.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) handle(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

func testArtifact(algorithm string) *types.ResultArtifact {
	return &types.ResultArtifact{
		Algorithm:  algorithm,
		Parameters: map[string]any{"n_estimators": 100},
		Code:       "model = " + algorithm + "()\n",
		Metrics:    types.Metrics{AUROC: types.Score(0.91), AUPRC: types.NotAvailable()},
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, tick,
		"session did not reach %s (state %s)", want, s.State())
}

// fullRun is a complete successful pipeline log.
var fullRun = []string{
	"PROCESSOR START",
	"[Processor] Parsed config: {'algorithm': ['IForest']}",
	"PROCESSOR DONE",
	"[Selector] Selected algorithm: IForest",
	"[InfoMiner] Retrieved documentation for IForest",
	"[CodeGen] Generated code for IForest",
	"[Reviewer] Code review passed",
	"[Evaluator] AUROC=0.9132",
	"[Finish] Completed",
	"DONE",
}
