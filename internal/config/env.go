package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvBackendURL   = "ADAGENT_BACKEND_URL"
	EnvAuthToken    = "ADAGENT_AUTH_TOKEN"
	EnvFetchTimeout = "ADAGENT_FETCH_TIMEOUT"
	EnvLogMode      = "ADAGENT_LOG_MODE"
	EnvVocabulary   = "ADAGENT_VOCABULARY"
)

// ApplyEnv overrides fields from environment variables that are set.
// ADAGENT_FETCH_TIMEOUT accepts a duration ("45s") or a number of seconds.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv(EnvLogMode); v != "" {
		c.LogMode = strings.ToLower(v)
	}
	if v := os.Getenv(EnvVocabulary); v != "" {
		c.Vocabulary = v
	}
	if v := os.Getenv(EnvFetchTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %v", EnvFetchTimeout, err)
		}
		c.FetchTimeout = Duration(d)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("must be non-negative, got: %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must be non-negative, got: %s", s)
	}
	return d, nil
}
