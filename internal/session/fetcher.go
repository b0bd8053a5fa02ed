package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonathan/ad-agent-console/internal/logger"
	"github.com/jonathan/ad-agent-console/internal/types"
)

// DefaultFetchTimeout bounds one results retrieval.
const DefaultFetchTimeout = 30 * time.Second

// ResultsSource retrieves the artifact of a completed job. *api.Client implements it.
type ResultsSource interface {
	FetchResults(ctx context.Context, jobID string) (*types.ResultArtifact, error)
}

// ResultsFetcher is what a session uses to obtain the artifact once its job completes.
type ResultsFetcher interface {
	Fetch(ctx context.Context, jobID string) (*types.ResultArtifact, error)
}

// Fetcher retrieves results with a bounded timeout. Concurrent fetches for the same job
// share one request.
type Fetcher struct {
	source  ResultsSource
	timeout time.Duration
	log     *logger.Logger
	group   singleflight.Group
}

// NewFetcher creates a fetcher. A non-positive timeout selects DefaultFetchTimeout.
func NewFetcher(source ResultsSource, timeout time.Duration, log *logger.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		source:  source,
		timeout: timeout,
		log:     logger.OrNop(log),
	}
}

// Fetch retrieves the artifact for jobID. Failures are returned as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, jobID string) (*types.ResultArtifact, error) {
	if jobID == "" {
		return nil, &FetchError{JobID: jobID, Err: errors.New("job id is required")}
	}

	// The shared request outlives any one caller; each caller stops waiting on its own ctx.
	ch := f.group.DoChan(jobID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()

		start := time.Now()
		artifact, err := f.source.FetchResults(fctx, jobID)
		if err == nil && artifact == nil {
			err = errors.New("backend returned no artifact")
		}
		if err != nil {
			f.log.Warn("results fetch failed", "job_id", jobID, "error", err, "duration", time.Since(start))
			return nil, err
		}
		f.log.Info("results fetched", "job_id", jobID, "algorithm", artifact.Algorithm, "duration", time.Since(start))
		return artifact, nil
	})

	select {
	case <-ctx.Done():
		return nil, &FetchError{JobID: jobID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &FetchError{JobID: jobID, Err: res.Err}
		}
		return res.Val.(*types.ResultArtifact), nil
	}
}
