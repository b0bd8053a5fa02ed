package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/ad-agent-console/internal/api"
	"github.com/jonathan/ad-agent-console/internal/config"
	"github.com/jonathan/ad-agent-console/internal/logger"
	"github.com/jonathan/ad-agent-console/internal/stages"
	"github.com/jonathan/ad-agent-console/internal/stream"
)

// environment is what every subcommand needs once configuration is resolved.
type environment struct {
	cfg    config.Config
	log    *logger.Logger
	api    *api.Client
	stream *stream.Client
	vocab  *stages.Vocabulary
}

// loadConfig resolves configuration in increasing priority: defaults, config file,
// environment variables, then flags set on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.BackendURL = backendURL
	}
	if flags.Changed("log-mode") {
		cfg.LogMode = logMode
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}

	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogMode, cfg.Verbose)
	if err != nil {
		return nil, err
	}

	vocab := stages.Default()
	if cfg.Vocabulary != "" {
		vocab, err = stages.LoadFile(cfg.Vocabulary)
		if err != nil {
			return nil, fmt.Errorf("failed to load vocabulary: %w", err)
		}
	}

	apiOpts := []api.Option{api.WithLogger(log)}
	streamOpts := []stream.Option{stream.WithLogger(log)}
	if cfg.AuthToken != "" {
		bearer := "Bearer " + cfg.AuthToken
		apiOpts = append(apiOpts, api.WithHeader("Authorization", bearer))
		streamOpts = append(streamOpts, stream.WithHeader("Authorization", bearer))
	}

	log.Debug("configuration resolved",
		"backend_url", cfg.BackendURL,
		"fetch_timeout", cfg.FetchTimeout.Std(),
		"vocabulary", cfg.Vocabulary,
		"auth_token", cfg.AuthToken)

	return &environment{
		cfg:    cfg,
		log:    log,
		api:    api.NewClient(cfg.BackendURL, apiOpts...),
		stream: stream.NewClient(cfg.BackendURL, streamOpts...),
		vocab:  vocab,
	}, nil
}
