package server

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/ad-agent-console/internal/schemas"
	schemadocs "github.com/jonathan/ad-agent-console/schemas"
)

//go:embed default_transcript.yaml
var defaultTranscript []byte

// Transcript is a scripted pipeline run: the log lines to replay and the artifact to serve
// once they have been sent. A nil Result makes the job fail the way the real backend does,
// with an [ERROR] line and an empty result list.
type Transcript struct {
	Interval string         `yaml:"interval,omitempty"`
	Lines    []string       `yaml:"lines"`
	Result   map[string]any `yaml:"result,omitempty"`
}

// ParseTranscript decodes and validates a YAML transcript.
func ParseTranscript(data []byte) (*Transcript, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse transcript YAML: %w", err)
	}
	if err := schemas.ValidateValue("transcript", schemadocs.Transcript, raw); err != nil {
		return nil, err
	}

	var t Transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	if t.Interval != "" {
		if _, err := time.ParseDuration(t.Interval); err != nil {
			return nil, fmt.Errorf("invalid transcript interval %q: %w", t.Interval, err)
		}
	}
	return &t, nil
}

// LoadTranscript reads a transcript file.
func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript file %s: %w", path, err)
	}
	return ParseTranscript(data)
}

// DefaultTranscript returns the built-in successful IForest run.
func DefaultTranscript() *Transcript {
	t, err := ParseTranscript(defaultTranscript)
	if err != nil {
		panic(fmt.Sprintf("embedded transcript is invalid: %v", err))
	}
	return t
}

// interval returns the transcript's pacing, or 0 when unset.
func (t *Transcript) interval() time.Duration {
	d, _ := time.ParseDuration(t.Interval)
	return d
}
