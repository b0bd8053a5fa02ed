package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/ad-agent-console/internal/config"
	"github.com/jonathan/ad-agent-console/internal/server"
)

var (
	serveAddr       string
	serveTranscript string
	serveInterval   time.Duration
	serveUploadDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the replay backend",
	Long: `Start a development backend that accepts uploads and job submissions and answers every
job by replaying a scripted pipeline transcript over its log stream, followed by a result
artifact. Point the other commands at it with --backend.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", config.DefaultServeAddr, "Address to listen on")
	serveCmd.Flags().StringVar(&serveTranscript, "transcript", "", "Transcript YAML file (default: built-in IForest run)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Delay between replayed lines (default: from the transcript)")
	serveCmd.Flags().StringVar(&serveUploadDir, "upload-dir", "", "Directory for uploaded datasets (default: data)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.log.Sync()

	cfg := env.cfg.Serve
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveAddr
	}
	if flags.Changed("transcript") {
		cfg.Transcript = serveTranscript
	}
	if flags.Changed("interval") {
		cfg.Interval = config.Duration(serveInterval)
	}
	if flags.Changed("upload-dir") {
		cfg.UploadDir = serveUploadDir
	}

	var transcript *server.Transcript
	if cfg.Transcript != "" {
		transcript, err = server.LoadTranscript(cfg.Transcript)
		if err != nil {
			return err
		}
	}

	srv, err := server.New(server.Config{
		Addr:       cfg.Addr,
		Transcript: transcript,
		Interval:   cfg.Interval.Std(),
		UploadDir:  cfg.UploadDir,
		Logger:     env.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Replay backend listening on http://%s\n", cfg.Addr)
	return srv.Run(ctx)
}
