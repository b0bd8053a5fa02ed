package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/ad-agent-console/internal/observability"
	"github.com/jonathan/ad-agent-console/internal/session"
)

var resultsJSON bool

var resultsCmd = &cobra.Command{
	Use:   "results <job-id>",
	Short: "Fetch the result artifact of a completed job",
	Long: `Fetch the selected algorithm, its parameters, generated code and evaluation metrics of a
completed job. Fails while the job is still running or when the pipeline produced no results.`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Print the artifact as JSON")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	fetcher := session.NewFetcher(env.api, env.cfg.FetchTimeout.Std(), env.log)
	artifact, err := fetcher.Fetch(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resultsJSON {
		data, err := json.MarshalIndent(artifact, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode artifact: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	observability.NewPrinter(out).PrintArtifact(artifact)
	return nil
}
