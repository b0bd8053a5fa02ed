package stages

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/ad-agent-console/internal/schemas"
	schemadocs "github.com/jonathan/ad-agent-console/schemas"
)

// Validate checks that the vocabulary is well formed and unambiguous.
func (v *Vocabulary) Validate() error {
	if err := validator.New().Struct(v); err != nil {
		return fmt.Errorf("vocabulary: %w", err)
	}

	var problems []error

	seen := make(map[ID]bool, len(v.Stages))
	for _, s := range v.Stages {
		if seen[s.ID] {
			problems = append(problems, fmt.Errorf("duplicate stage %q", s.ID))
		}
		seen[s.ID] = true
	}

	stageMarkers := make(map[string]bool)
	for i, rule := range v.Rules {
		if !seen[rule.Stage] {
			problems = append(problems, fmt.Errorf("rule %d references unknown stage %q", i, rule.Stage))
		}
		for _, m := range rule.Markers {
			stageMarkers[m.Text] = true
		}
	}

	for _, t := range v.Terminal {
		if stageMarkers[t.Text] {
			problems = append(problems, fmt.Errorf("terminal marker %q is also a stage marker", t.Text))
		}
	}

	for i, later := range v.Rules {
		for _, earlier := range v.Rules[:i] {
			if earlier.Stage == later.Stage {
				continue
			}
			for _, b := range later.Markers {
				for _, a := range earlier.Markers {
					if shadows(a, b) {
						problems = append(problems, fmt.Errorf("marker %q (%s) is shadowed by earlier marker %q (%s)",
							b.Text, later.Stage, a.Text, earlier.Stage))
					}
				}
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("vocabulary: %w", errors.Join(problems...))
	}
	return nil
}

// shadows reports whether every event matched by b is also matched by a.
func shadows(a, b Marker) bool {
	switch a.Mode {
	case MatchPrefix:
		return (b.Mode == MatchPrefix || b.Mode == MatchExact) && strings.HasPrefix(b.Text, a.Text)
	case MatchExact:
		return b.Mode == MatchExact && b.Text == a.Text
	default:
		return strings.Contains(b.Text, a.Text)
	}
}

// Parse decodes a YAML (or JSON) vocabulary document, checks it against the vocabulary
// schema, and validates it.
func Parse(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}

	if err := schemas.ValidateValue("vocabulary", schemadocs.Vocabulary, &v); err != nil {
		return nil, err
	}

	for i := range v.Rules {
		for j := range v.Rules[i].Markers {
			if v.Rules[i].Markers[j].Mode == "" {
				v.Rules[i].Markers[j].Mode = MatchContains
			}
		}
	}
	for i := range v.Terminal {
		if v.Terminal[i].Mode == "" {
			v.Terminal[i].Mode = MatchContains
		}
	}

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

// LoadFile reads a vocabulary file.
func LoadFile(path string) (*Vocabulary, error) {
	if path == "" {
		return nil, fmt.Errorf("vocabulary path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file %s: %w", path, err)
	}
	return Parse(data)
}
