// Package main provides the adagent command line console for the anomaly-detection pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/ad-agent-console/internal/config"
)

var (
	configPath string
	backendURL string
	logMode    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "adagent",
	Short: "Anomaly-detection pipeline console",
	Long: `adagent submits datasets to the anomaly-detection pipeline, follows a job's log stream
stage by stage, and fetches the selected model, its code and metrics once the job completes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON config file")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Backend base URL (default "+config.DefaultBackendURL+")")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "Log format: dev or prod")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
