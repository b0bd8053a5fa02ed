package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/ad-agent-console/internal/observability"
	"github.com/jonathan/ad-agent-console/internal/types"
)

var (
	runCommand     string
	runTrain       string
	runTest        string
	runUploadFirst bool
	runDetach      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a pipeline job and follow it to its results",
	Long: `Submit a natural-language command with a training (and optional test) dataset to the
anomaly-detection pipeline, then follow the job stage by stage until its results are fetched.

With --upload, the dataset arguments are local files that are uploaded first; otherwise they
are paths the backend already knows, as printed by the upload command.`,
	Example: `  adagent run --command "Run IForest on my data" --train data/train.mat --upload
  adagent run -c "Compare all models" --train /srv/data/train.mat --test /srv/data/test.mat --detach`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runCommand, "command", "c", "", "Natural-language instruction for the pipeline (required)")
	runCmd.Flags().StringVar(&runTrain, "train", "", "Training dataset path (required)")
	runCmd.Flags().StringVar(&runTest, "test", "", "Test dataset path (defaults to the training set)")
	runCmd.Flags().BoolVar(&runUploadFirst, "upload", false, "Upload --train and --test from the local disk first")
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "Print the job id and exit without following the job")
	addWatchFlags(runCmd)

	_ = runCmd.MarkFlagRequired("command")
	_ = runCmd.MarkFlagRequired("train")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	ctx := cmd.Context()
	req := types.RunRequest{Command: runCommand, TrainPath: runTrain, TestPath: runTest}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid run request: %w", err)
	}

	if runUploadFirst {
		req.TrainPath, err = env.api.UploadFile(ctx, runTrain)
		if err != nil {
			return fmt.Errorf("failed to upload training set: %w", err)
		}
		if runTest != "" {
			req.TestPath, err = env.api.UploadFile(ctx, runTest)
			if err != nil {
				return fmt.Errorf("failed to upload test set: %w", err)
			}
		}
	}

	jobID, err := env.api.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	job := types.JobFromRequest(jobID, req, time.Now())
	env.log.Info("job submitted", "job_id", jobID)

	out := cmd.OutOrStdout()
	observability.NewPrinter(out).PrintJob(job)
	if runDetach {
		return nil
	}

	_, err = watchJob(ctx, env, job, out)
	return err
}
