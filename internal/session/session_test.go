package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ad-agent-console/internal/api"
	"github.com/jonathan/ad-agent-console/internal/progress"
	"github.com/jonathan/ad-agent-console/internal/stages"
	"github.com/jonathan/ad-agent-console/internal/stream"
	"github.com/jonathan/ad-agent-console/internal/types"
)

func newTestSession(t *testing.T, fetcher *fakeFetcher) (*Session, *fakeOpener, *recorder) {
	t.Helper()
	opener := &fakeOpener{}
	rec := &recorder{}
	s := New(types.Job{ID: "job-1", Command: "run IForest", TrainPath: "train.mat"}, opener, fetcher,
		WithUpdateHandler(rec.handle))
	t.Cleanup(s.Abandon)
	return s, opener, rec
}

func statuses(snap []progress.StageStatus) []progress.Status {
	out := make([]progress.Status, len(snap))
	for i, s := range snap {
		out[i] = s.Status
	}
	return out
}

func TestSession_EndToEnd(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{artifact: testArtifact("IForest")}}}
	s, opener, rec := newTestSession(t, fetcher)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateStreaming, s.State())

	st := opener.stream(t, 0)
	st.send(fullRun...)

	waitState(t, s, StateFetched)
	s.Wait()

	snap := s.Snapshot()
	assert.True(t, snap.Completed)
	for _, stage := range snap.Stages {
		assert.Equal(t, progress.StatusDone, stage.Status, "stage %s", stage.Stage)
	}
	require.NotNil(t, snap.Artifact)
	assert.Equal(t, "IForest", snap.Artifact.Algorithm)
	assert.NoError(t, snap.Err)
	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, []string{"job-1"}, fetcher.jobIDs)
	assert.True(t, st.isClosed(), "stream is closed on completion")

	last := rec.last()
	assert.Equal(t, StateFetched, last.State)
	assert.Equal(t, "job-1", last.JobID)
}

func TestSession_BracketedMarkersCompleteAllStages(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{artifact: testArtifact("IForest")}}}
	s, opener, _ := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	opener.stream(t, 0).send(
		"PROCESSOR DONE",
		"[Selector] chosen IForest",
		"[InfoMiner] fetched docs",
		"[CodeGen] built script",
		"[Reviewer] approved",
		"[Finish] Completed",
	)

	waitState(t, s, StateFetched)
	s.Wait()

	snap := s.Snapshot()
	assert.True(t, snap.Completed)
	assert.Equal(t, []progress.Status{
		progress.StatusDone, progress.StatusDone, progress.StatusDone,
		progress.StatusDone, progress.StatusDone, progress.StatusDone,
	}, statuses(snap.Stages))
	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, 6, snap.Received)
}

func TestSession_ProgressIsMonotonicAcrossUpdates(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{artifact: testArtifact("LOF")}}}
	s, opener, rec := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	opener.stream(t, 0).send(
		"[CodeGen] attempt 1",
		"[Selector] late selector line",
		"PROCESSOR DONE",
		"[Reviewer] ok",
		"[InfoMiner] late",
		"[Finish] Completed",
	)
	waitState(t, s, StateFetched)

	prevDone := -1
	for _, snap := range rec.all() {
		done := 0
		for _, st := range snap.Stages {
			if st.Status == progress.StatusDone {
				done++
			}
		}
		assert.GreaterOrEqual(t, done, prevDone, "done stage count never decreases")
		prevDone = done
	}
}

func TestSession_CatchUp(t *testing.T) {
	s, opener, _ := newTestSession(t, &fakeFetcher{})
	require.NoError(t, s.Start(context.Background()))

	st := opener.stream(t, 0)
	st.send("[CodeGen] Generated code for IForest")

	require.Eventually(t, func() bool { return len(s.Snapshot().Events) == 1 }, waitFor, tick)
	assert.Equal(t, []progress.Status{
		progress.StatusDone,
		progress.StatusDone,
		progress.StatusDone,
		progress.StatusDone,
		progress.StatusActive,
		progress.StatusWaiting,
	}, statuses(s.Snapshot().Stages))
}

func TestSession_UnrelatedTextLeavesProgressUnchanged(t *testing.T) {
	fetcher := &fakeFetcher{}
	s, opener, _ := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	lines := []string{"heartbeat", "", "Loading dataset ./data/train.mat", "Evaluator warming up", "PROCESSOR START"}
	opener.stream(t, 0).send(lines...)

	require.Eventually(t, func() bool { return len(s.Snapshot().Events) == len(lines) }, waitFor, tick)
	snap := s.Snapshot()
	for _, st := range snap.Stages {
		assert.Equal(t, progress.StatusWaiting, st.Status)
	}
	assert.False(t, snap.Completed)
	assert.Equal(t, StateStreaming, snap.State)
	assert.Equal(t, lines, snap.Events)
	assert.Zero(t, fetcher.callCount())
}

func TestSession_ProcessorDoneDoesNotComplete(t *testing.T) {
	fetcher := &fakeFetcher{}
	s, opener, _ := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	opener.stream(t, 0).send("PROCESSOR DONE")
	require.Eventually(t, func() bool { return len(s.Snapshot().Events) == 1 }, waitFor, tick)

	snap := s.Snapshot()
	assert.False(t, snap.Completed)
	assert.Equal(t, progress.StatusDone, snap.Stages[0].Status)
	assert.Zero(t, fetcher.callCount())
}

func TestSession_Diagnostics(t *testing.T) {
	s, opener, _ := newTestSession(t, &fakeFetcher{})
	require.NoError(t, s.Start(context.Background()))

	st := opener.stream(t, 0)
	for i := 0; i < MaxDiagnostics+5; i++ {
		st.send(fmt.Sprintf("[ERROR] attempt %d failed", i))
	}
	st.send("[Selector] chosen")

	require.Eventually(t, func() bool { return len(s.Snapshot().Events) == MaxDiagnostics+6 }, waitFor, tick)
	snap := s.Snapshot()
	require.Len(t, snap.Diagnostics, MaxDiagnostics)
	assert.Equal(t, "[ERROR] attempt 5 failed", snap.Diagnostics[0])
	assert.Equal(t, progress.StatusDone, snap.Stages[1].Status)
	assert.False(t, snap.Completed)
}

func TestSession_EventLogIsBounded(t *testing.T) {
	s, opener, _ := newTestSession(t, &fakeFetcher{})
	require.NoError(t, s.Start(context.Background()))

	st := opener.stream(t, 0)
	total := MaxEvents + 10
	for i := 0; i < total; i++ {
		st.send(fmt.Sprintf("line %d", i))
	}
	require.Eventually(t, func() bool {
		ev := s.Snapshot().Events
		return len(ev) == MaxEvents && ev[len(ev)-1] == fmt.Sprintf("line %d", total-1)
	}, waitFor, tick)
	assert.Equal(t, "line 10", s.Snapshot().Events[0])
	assert.Equal(t, total, s.Snapshot().Received)
}

func TestSession_AbandonMidStream(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{artifact: testArtifact("IForest")}}}
	s, opener, rec := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	st := opener.stream(t, 0)
	st.send("PROCESSOR DONE", "[Selector] chosen")
	require.Eventually(t, func() bool { return len(s.Snapshot().Events) == 2 }, waitFor, tick)

	s.Abandon()
	updates := rec.count()

	assert.True(t, st.isClosed())
	assert.False(t, st.send("[Finish] Completed"), "closed stream accepts nothing")

	s.Wait()
	snap := s.Snapshot()
	assert.Equal(t, StateAbandoned, snap.State)
	assert.False(t, snap.Completed)
	assert.Zero(t, fetcher.callCount())
	assert.Equal(t, updates, rec.count(), "no updates after Abandon returns")

	assert.ErrorIs(t, s.Refetch(context.Background()), ErrAbandoned)
	assert.ErrorIs(t, s.Resume(context.Background()), ErrAbandoned)
	s.Abandon()
}

func TestSession_AbandonBeforeStart(t *testing.T) {
	s, opener, _ := newTestSession(t, &fakeFetcher{})
	s.Abandon()

	assert.ErrorIs(t, s.Start(context.Background()), ErrAbandoned)
	assert.Zero(t, opener.count())
}

func TestSession_AbandonDiscardsInFlightFetch(t *testing.T) {
	fetcher := &fakeFetcher{
		results: []fetchResult{{artifact: testArtifact("IForest")}},
		block:   make(chan struct{}),
	}
	s, opener, rec := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	opener.stream(t, 0).send("[Finish] Completed")
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, waitFor, tick)
	assert.Equal(t, StateCompleted, s.State())

	s.Abandon()
	updates := rec.count()
	close(fetcher.block)
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, StateAbandoned, snap.State)
	assert.Nil(t, snap.Artifact)
	assert.Equal(t, updates, rec.count())
}

func TestSession_StalledAndResume(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{artifact: testArtifact("ECOD")}}}
	s, opener, _ := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	first := opener.stream(t, 0)
	first.send("PROCESSOR DONE", "[Selector] chosen")
	first.interrupt(&stream.TransportError{JobID: "job-1", Cause: errors.New("connection reset")})

	waitState(t, s, StateStalled)
	snap := s.Snapshot()
	assert.ErrorIs(t, snap.Err, stream.ErrTransportInterrupted)
	assert.False(t, snap.Completed)
	assert.Zero(t, fetcher.callCount())

	require.NoError(t, s.Resume(context.Background()))
	assert.Equal(t, StateStreaming, s.State())

	second := opener.stream(t, 1)
	assert.Equal(t, []string{"job-1", "job-1"}, opener.jobIDs)
	assert.Equal(t, progress.StatusDone, s.Snapshot().Stages[1].Status, "progress survives a resume")

	second.send("[Evaluator] done", "[Finish] Completed")
	waitState(t, s, StateFetched)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestSession_ConcurrentResumeOpensOneStream(t *testing.T) {
	fetcher := &fakeFetcher{results: []fetchResult{{artifact: testArtifact("ECOD")}}}
	s, opener, _ := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	opener.stream(t, 0).interrupt(&stream.TransportError{JobID: "job-1", Cause: errors.New("connection reset")})
	waitState(t, s, StateStalled)

	opener.setDelay(50 * time.Millisecond)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- s.Resume(context.Background()) }()
	}
	first, second := <-errs, <-errs

	succeeded := 0
	for _, err := range []error{first, second} {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, opener.count(), "one initial stream and one replacement")

	replacement := opener.stream(t, 1)
	replacement.send("[Evaluator] done", "[Finish] Completed")
	waitState(t, s, StateFetched)
	s.Wait()
	assert.True(t, replacement.isClosed())
	assert.Equal(t, 1, fetcher.callCount())
}

func TestSession_StartTwiceConcurrently(t *testing.T) {
	s, opener, _ := newTestSession(t, &fakeFetcher{})
	opener.setDelay(50 * time.Millisecond)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- s.Start(context.Background()) }()
	}
	first, second := <-errs, <-errs

	if first == nil {
		assert.ErrorIs(t, second, ErrInvalidTransition)
	} else {
		assert.ErrorIs(t, first, ErrInvalidTransition)
		assert.NoError(t, second)
	}
	assert.Equal(t, 1, opener.count())
}

func TestSession_ResumeOnlyFromStalled(t *testing.T) {
	s, _, _ := newTestSession(t, &fakeFetcher{})
	assert.ErrorIs(t, s.Resume(context.Background()), ErrInvalidTransition)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Resume(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, s.Start(context.Background()), ErrInvalidTransition)
}

func TestSession_OpenFailureStalls(t *testing.T) {
	opener := &fakeOpener{err: errors.New("stream: job id is required")}
	s := New(types.Job{ID: "job-1"}, opener, &fakeFetcher{})
	defer s.Abandon()

	require.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateStalled, s.State())
	assert.Error(t, s.Snapshot().Err)
}

func TestSession_FetchFailureAndRefetch(t *testing.T) {
	notReady := &api.Error{Op: "results", Status: 404, Message: "no results", Cause: api.ErrResultsNotReady}
	fetcher := &fakeFetcher{results: []fetchResult{
		{err: notReady},
		{artifact: testArtifact("IForest")},
	}}
	s, opener, _ := newTestSession(t, fetcher)
	require.NoError(t, s.Start(context.Background()))

	opener.stream(t, 0).send(fullRun...)
	waitState(t, s, StateFetchFailed)

	snap := s.Snapshot()
	assert.True(t, snap.Completed)
	assert.Nil(t, snap.Artifact)
	var fe *FetchError
	require.True(t, errors.As(snap.Err, &fe))
	assert.True(t, fe.Retryable())
	assert.Equal(t, "job-1", fe.JobID)
	assert.ErrorIs(t, snap.Err, api.ErrResultsNotReady)

	require.NoError(t, s.Refetch(context.Background()))
	assert.Equal(t, StateFetched, s.State())
	assert.Equal(t, "IForest", s.Snapshot().Artifact.Algorithm)
	assert.Equal(t, 2, fetcher.callCount())

	require.NoError(t, s.Refetch(context.Background()), "fetched returns the cached artifact")
	assert.Equal(t, 2, fetcher.callCount())
}

func TestSession_RefetchRequiresFailure(t *testing.T) {
	s, _, _ := newTestSession(t, &fakeFetcher{})
	assert.ErrorIs(t, s.Refetch(context.Background()), ErrInvalidTransition)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Refetch(context.Background()), ErrInvalidTransition)
}

func TestSession_FetchTimeout(t *testing.T) {
	blocking := &fakeFetcher{block: make(chan struct{})}
	defer close(blocking.block)

	source := sourceFunc(func(ctx context.Context, jobID string) (*types.ResultArtifact, error) {
		return blocking.Fetch(ctx, jobID)
	})
	opener := &fakeOpener{}
	s := New(types.Job{ID: "job-1"}, opener, NewFetcher(source, 50*time.Millisecond, nil))
	defer s.Abandon()

	require.NoError(t, s.Start(context.Background()))
	opener.stream(t, 0).send("[Finish] Completed")

	waitState(t, s, StateFetchFailed)
	assert.ErrorIs(t, s.Snapshot().Err, context.DeadlineExceeded)
}

func TestSession_CustomVocabulary(t *testing.T) {
	vocab := &stages.Vocabulary{
		Stages: []stages.Stage{{ID: "load"}, {ID: "train"}},
		Rules: []stages.Rule{
			{Stage: "load", Markers: []stages.Marker{{Text: "loaded"}}},
			{Stage: "train", Markers: []stages.Marker{{Text: "trained"}}},
		},
		Terminal: []stages.Marker{{Text: "ALL DONE", Mode: stages.MatchExact}},
	}
	fetcher := &fakeFetcher{results: []fetchResult{{artifact: testArtifact("KNN")}}}
	opener := &fakeOpener{}
	s := New(types.Job{ID: "job-9"}, opener, fetcher, WithVocabulary(vocab))
	defer s.Abandon()

	require.NoError(t, s.Start(context.Background()))
	opener.stream(t, 0).send("trained model", "ALL DONE")
	waitState(t, s, StateFetched)

	snap := s.Snapshot()
	require.Len(t, snap.Stages, 2)
	assert.Equal(t, progress.StatusDone, snap.Stages[0].Status)
	assert.Equal(t, progress.StatusDone, snap.Stages[1].Status)
}

func TestState_Settled(t *testing.T) {
	assert.True(t, StateFetched.Settled())
	assert.True(t, StateFetchFailed.Settled())
	assert.True(t, StateStalled.Settled())
	assert.False(t, StateStreaming.Settled())
	assert.False(t, StateCompleted.Settled())
}

type sourceFunc func(ctx context.Context, jobID string) (*types.ResultArtifact, error)

func (f sourceFunc) FetchResults(ctx context.Context, jobID string) (*types.ResultArtifact, error) {
	return f(ctx, jobID)
}
