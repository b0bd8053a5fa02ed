package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/ad-agent-console/internal/observability"
	"github.com/jonathan/ad-agent-console/internal/session"
	"github.com/jonathan/ad-agent-console/internal/types"
)

var (
	watchEvents     bool
	watchRetries    int
	watchRetryDelay time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress and fetch its results",
	Long: `Follow the log stream of a submitted job, showing which pipeline stages are done, and
fetch the result artifact once the job completes. Ctrl-C stops tracking; the job keeps
running on the backend.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	addWatchFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&watchEvents, "events", false, "Print every log line as it arrives")
	cmd.Flags().IntVar(&watchRetries, "retries", 2, "Times to resume an interrupted stream or refetch failed results")
	cmd.Flags().DurationVar(&watchRetryDelay, "retry-delay", 2*time.Second, "Delay before each retry")
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	_, err = watchJob(cmd.Context(), env, types.Job{ID: args[0]}, cmd.OutOrStdout())
	return err
}

// watchJob tracks job until its session settles or the user interrupts, prints the
// outcome, and returns an error unless the results were fetched.
func watchJob(ctx context.Context, env *environment, job types.Job, out io.Writer) (session.Snapshot, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates := make(chan session.Snapshot)
	rendered := make(chan struct{})

	orch := session.NewOrchestrator(
		session.StreamOpener(env.stream),
		session.NewFetcher(env.api, env.cfg.FetchTimeout.Std(), env.log),
		session.WithVocabulary(env.vocab),
		session.WithLogger(env.log),
		session.WithUpdateHandler(func(snap session.Snapshot) {
			select {
			case updates <- snap:
			case <-rendered:
			}
		}),
	)
	defer orch.Reset()

	r := &renderer{out: out, printer: observability.NewPrinter(out), events: watchEvents}
	g, gctx := errgroup.WithContext(ctx)

	var final session.Snapshot
	g.Go(func() error {
		defer close(rendered)
		attempts := 0
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case snap := <-updates:
				r.render(snap)
				if !snap.State.Settled() {
					continue
				}
				if retryable(snap.State) && attempts < watchRetries {
					attempts++
					state := snap.State
					env.log.Info("retrying", "job_id", snap.JobID, "state", state, "attempt", attempts)
					g.Go(func() error {
						retry(gctx, orch, state, watchRetryDelay)
						return nil
					})
					continue
				}
				final = snap
				return nil
			}
		}
	})

	g.Go(func() error {
		// A stream that fails to open is reported as a stalled update.
		if s, err := orch.Start(gctx, job); s == nil {
			return err
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		// Interrupted by the user: report what was seen so far.
		final, _ = orch.Current()
		final.State = session.StateAbandoned
	} else if err != nil && final.State == "" {
		return final, err
	}

	observability.NewPrinter(out).PrintSnapshot(final)
	return final, outcome(final)
}

func retryable(s session.State) bool {
	return s == session.StateStalled || s == session.StateFetchFailed
}

func retry(ctx context.Context, orch *session.Orchestrator, state session.State, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	switch state {
	case session.StateStalled:
		_ = orch.Resume(ctx)
	case session.StateFetchFailed:
		_ = orch.Refetch(ctx)
	}
}

func outcome(snap session.Snapshot) error {
	switch snap.State {
	case session.StateFetched:
		return nil
	case session.StateFetchFailed:
		return fmt.Errorf("job %s completed but its results are unavailable: %w", snap.JobID, snap.Err)
	case session.StateStalled:
		return fmt.Errorf("stream of job %s interrupted: %w", snap.JobID, snap.Err)
	case session.StateAbandoned:
		return fmt.Errorf("stopped tracking job %s", snap.JobID)
	default:
		return fmt.Errorf("job %s ended in state %s", snap.JobID, snap.State)
	}
}

// renderer prints incremental progress. It is used from one goroutine only.
type renderer struct {
	out      io.Writer
	printer  *observability.Printer
	events   bool
	printed  int
	lastLine string
}

func (r *renderer) render(snap session.Snapshot) {
	if r.events {
		fresh := snap.Received - r.printed
		if fresh > len(snap.Events) {
			fresh = len(snap.Events)
		}
		if fresh < 0 {
			fresh = 0
		}
		for _, line := range snap.Events[len(snap.Events)-fresh:] {
			r.printer.PrintEvent(line)
		}
		r.printed = snap.Received
	}

	line := observability.FormatProgressLine(snap.Stages)
	if line != r.lastLine {
		fmt.Fprintln(r.out, line)
		r.lastLine = line
	}
}
