// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults.
const (
	DefaultBackendURL   = "http://127.0.0.1:8000"
	DefaultFetchTimeout = 30 * time.Second
	DefaultLogMode      = "dev"
	DefaultServeAddr    = "127.0.0.1:8000"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Backend
	BackendURL   string   `json:"backend_url,omitempty" validate:"omitempty,url"` // Base URL of the pipeline backend
	AuthToken    string   `json:"auth_token,omitempty"`                           // Sent as a bearer token when set
	FetchTimeout Duration `json:"fetch_timeout,omitempty" validate:"gte=0"`       // Bound on one results fetch

	// Behavior
	Vocabulary string `json:"vocabulary,omitempty"`                                   // Path to a stage vocabulary YAML file
	LogMode    string `json:"log_mode,omitempty" validate:"omitempty,oneof=dev prod"` // zap preset
	Verbose    bool   `json:"verbose,omitempty"`                                      // Print detailed debug information

	// Replay backend
	Serve ServeConfig `json:"serve,omitempty"`
}

// ServeConfig configures the development replay backend.
type ServeConfig struct {
	Addr       string   `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Transcript string   `json:"transcript,omitempty"`                // Path to a transcript YAML file
	Interval   Duration `json:"interval,omitempty" validate:"gte=0"` // Zero defers to the transcript's own pacing
	UploadDir  string   `json:"upload_dir,omitempty"`
}

// Duration is a time.Duration that reads "30s" style strings or a number of seconds from JSON.
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		BackendURL:   DefaultBackendURL,
		FetchTimeout: Duration(DefaultFetchTimeout),
		LogMode:      DefaultLogMode,
		Serve: ServeConfig{
			Addr: DefaultServeAddr,
		},
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are filled
// from defaults after merging.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.BackendURL != "" && !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("config error: 'backend_url' must use http or https: %s", c.BackendURL)
	}

	// Validate file paths exist (if specified)
	if c.Vocabulary != "" {
		if _, err := os.Stat(c.Vocabulary); os.IsNotExist(err) {
			return fmt.Errorf("config error: vocabulary file not found: %s", c.Vocabulary)
		}
	}
	if c.Serve.Transcript != "" {
		if _, err := os.Stat(c.Serve.Transcript); os.IsNotExist(err) {
			return fmt.Errorf("config error: transcript file not found: %s", c.Serve.Transcript)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.BackendURL == "" {
		result.BackendURL = defaults.BackendURL
	}
	if result.AuthToken == "" {
		result.AuthToken = defaults.AuthToken
	}
	if result.Vocabulary == "" {
		result.Vocabulary = defaults.Vocabulary
	}
	if result.LogMode == "" {
		result.LogMode = defaults.LogMode
	}
	if result.Serve.Addr == "" {
		result.Serve.Addr = defaults.Serve.Addr
	}
	if result.Serve.Transcript == "" {
		result.Serve.Transcript = defaults.Serve.Transcript
	}
	if result.Serve.UploadDir == "" {
		result.Serve.UploadDir = defaults.Serve.UploadDir
	}

	// Durations: use default if zero
	if result.FetchTimeout == 0 {
		result.FetchTimeout = defaults.FetchTimeout
	}
	if result.Serve.Interval == 0 {
		result.Serve.Interval = defaults.Serve.Interval
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
