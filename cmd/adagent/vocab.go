package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/ad-agent-console/internal/stages"
)

var vocabClassify []string

var vocabCmd = &cobra.Command{
	Use:   "vocab [file]",
	Short: "Validate and show a stage vocabulary",
	Long: `Validate a stage vocabulary YAML file and print its stages, markers and terminal markers.
Without a file, the configured vocabulary (or the built-in one) is shown. Use --classify to
check how sample log lines are recognized.`,
	Example: `  adagent vocab stages.yaml
  adagent vocab --classify "[Selector] Selected algorithm: IForest" --classify DONE`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVocab,
}

func init() {
	vocabCmd.Flags().StringArrayVar(&vocabClassify, "classify", nil, "Log line to classify (repeatable)")
	rootCmd.AddCommand(vocabCmd)
}

func runVocab(cmd *cobra.Command, args []string) error {
	var vocab *stages.Vocabulary
	source := "built-in"
	if len(args) == 1 {
		v, err := stages.LoadFile(args[0])
		if err != nil {
			return err
		}
		vocab, source = v, args[0]
	} else {
		env, err := newEnvironment(cmd)
		if err != nil {
			return err
		}
		defer env.log.Sync()
		vocab = env.vocab
		if env.cfg.Vocabulary != "" {
			source = env.cfg.Vocabulary
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Vocabulary valid (%s): %d stages, %d rules, %d terminal markers\n\n",
		source, len(vocab.Stages), len(vocab.Rules), len(vocab.Terminal))

	for i, stage := range vocab.Stages {
		fmt.Fprintf(out, "%d. %-24s %s\n", i+1, stage.DisplayLabel(), formatMarkers(markersFor(vocab, stage.ID)))
	}
	fmt.Fprintf(out, "\nTerminal: %s\n", formatMarkers(vocab.Terminal))

	if len(vocabClassify) > 0 {
		fmt.Fprintln(out)
	}
	for _, line := range vocabClassify {
		result := "no stage"
		if sig, ok := vocab.Classify(line); ok {
			result = fmt.Sprintf("%s (stage %d, marker %q)", sig.Stage, sig.Position+1, sig.Marker)
		}
		if vocab.IsTerminal(line) {
			result += ", terminal"
		}
		fmt.Fprintf(out, "%q -> %s\n", line, result)
	}
	return nil
}

func markersFor(v *stages.Vocabulary, id stages.ID) []stages.Marker {
	var markers []stages.Marker
	for _, rule := range v.Rules {
		if rule.Stage == id {
			markers = append(markers, rule.Markers...)
		}
	}
	return markers
}

func formatMarkers(markers []stages.Marker) string {
	if len(markers) == 0 {
		return "(no markers)"
	}
	parts := make([]string, 0, len(markers))
	for _, m := range markers {
		mode := m.Mode
		if mode == "" {
			mode = stages.MatchContains
		}
		parts = append(parts, fmt.Sprintf("%q %s", m.Text, mode))
	}
	return strings.Join(parts, ", ")
}
