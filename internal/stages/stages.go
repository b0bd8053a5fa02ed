// Package stages defines the ordered pipeline stages, the rule table that maps raw log lines
// to stage-completion signals, and the terminal markers that end a job.
//
// The vocabulary is data: it can be loaded from a file, validated, and extended without
// touching the classification code.
package stages

import "strings"

// ID identifies a pipeline stage.
type ID string

// Canonical stage identifiers, in pipeline order.
const (
	Processor ID = "processor"
	Selector  ID = "selector"
	InfoMiner ID = "info_miner"
	CodeGen   ID = "code_gen"
	Reviewer  ID = "reviewer"
	Evaluator ID = "evaluator"
)

// MatchMode controls how a marker is compared against event text.
type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchPrefix   MatchMode = "prefix"
	MatchExact    MatchMode = "exact"
)

// Stage is one entry of the canonical stage sequence. Its position is its index in
// Vocabulary.Stages.
type Stage struct {
	ID    ID     `json:"id" yaml:"id" validate:"required"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Marker is one textual marker. An empty mode means contains.
type Marker struct {
	Text string    `json:"text" yaml:"text" validate:"required"`
	Mode MatchMode `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=contains prefix exact"`
}

// Rule maps a set of markers to the stage they signal as done.
type Rule struct {
	Stage   ID       `json:"stage" yaml:"stage" validate:"required"`
	Markers []Marker `json:"markers" yaml:"markers" validate:"required,min=1,dive"`
}

// Signal asserts that a stage has reached completion.
type Signal struct {
	Stage    ID
	Position int
	Marker   string
}

// Vocabulary is the wire contract shared with the event producer.
type Vocabulary struct {
	Stages   []Stage  `json:"stages" yaml:"stages" validate:"required,min=1,dive"`
	Rules    []Rule   `json:"rules" yaml:"rules" validate:"required,min=1,dive"`
	Terminal []Marker `json:"terminal" yaml:"terminal" validate:"required,min=1,dive"`
}

// Matches reports whether text carries the marker.
func (m Marker) Matches(text string) bool {
	switch m.Mode {
	case MatchPrefix:
		return strings.HasPrefix(strings.TrimSpace(text), m.Text)
	case MatchExact:
		return strings.TrimSpace(text) == m.Text
	default:
		return strings.Contains(text, m.Text)
	}
}

// Classify maps one raw event to at most one stage signal. Rules are applied top to
// bottom and the first matching rule wins.
func (v *Vocabulary) Classify(text string) (Signal, bool) {
	for _, rule := range v.Rules {
		for _, m := range rule.Markers {
			if !m.Matches(text) {
				continue
			}
			pos := v.Position(rule.Stage)
			if pos < 0 {
				return Signal{}, false
			}
			return Signal{Stage: rule.Stage, Position: pos, Marker: m.Text}, true
		}
	}
	return Signal{}, false
}

// IsTerminal reports whether text carries a terminal-success marker.
func (v *Vocabulary) IsTerminal(text string) bool {
	for _, m := range v.Terminal {
		if m.Matches(text) {
			return true
		}
	}
	return false
}

// Position returns the canonical index of a stage, or -1 when unknown.
func (v *Vocabulary) Position(id ID) int {
	for i, s := range v.Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// DisplayLabel returns the label of a stage, falling back to its id.
func (s Stage) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return string(s.ID)
}

// Default returns the vocabulary spoken by the anomaly-detection backend.
//
// Only bracketed tags are stage markers; a bare "Evaluator" substring in unrelated log text
// does not complete the evaluator stage. "DONE" is terminal only as a whole line so that
// "PROCESSOR DONE" cannot end a job.
func Default() *Vocabulary {
	return &Vocabulary{
		Stages: []Stage{
			{ID: Processor, Label: "Processor"},
			{ID: Selector, Label: "Selector"},
			{ID: InfoMiner, Label: "Info Miner"},
			{ID: CodeGen, Label: "Code Generator"},
			{ID: Reviewer, Label: "Reviewer"},
			{ID: Evaluator, Label: "Evaluator / Execution"},
		},
		Rules: []Rule{
			{Stage: Processor, Markers: []Marker{
				{Text: "PROCESSOR DONE", Mode: MatchContains},
				{Text: "[Processor] Parsed config", Mode: MatchPrefix},
			}},
			{Stage: Selector, Markers: []Marker{{Text: "[Selector]", Mode: MatchContains}}},
			{Stage: InfoMiner, Markers: []Marker{{Text: "[InfoMiner]", Mode: MatchContains}}},
			{Stage: CodeGen, Markers: []Marker{{Text: "[CodeGen]", Mode: MatchContains}}},
			{Stage: Reviewer, Markers: []Marker{{Text: "[Reviewer]", Mode: MatchContains}}},
			{Stage: Evaluator, Markers: []Marker{
				{Text: "[Evaluator]", Mode: MatchContains},
				{Text: "[Finish]", Mode: MatchPrefix},
			}},
		},
		Terminal: []Marker{
			{Text: "[Finish] Completed", Mode: MatchPrefix},
			{Text: "DONE", Mode: MatchExact},
		},
	}
}
