// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/ad-agent-console/internal/progress"
	"github.com/jonathan/ad-agent-console/internal/session"
	"github.com/jonathan/ad-agent-console/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
	// maxCodeLines is the number of generated code lines shown in the results box
	maxCodeLines = 12
)

// Printer handles formatted output for the terminal
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func statusIcon(s progress.Status) string {
	switch s {
	case progress.StatusDone:
		return "✓"
	case progress.StatusActive:
		return "▶"
	default:
		return "·"
	}
}

// FormatProgressLine renders a one-line progress summary, e.g. "[✓✓✓▶··] 3/6 Reviewer".
func FormatProgressLine(stages []progress.StageStatus) string {
	var bar strings.Builder
	done := 0
	current := ""
	for _, s := range stages {
		bar.WriteString(statusIcon(s.Status))
		switch s.Status {
		case progress.StatusDone:
			done++
		case progress.StatusActive:
			current = s.Label
		}
	}
	line := fmt.Sprintf("[%s] %d/%d", bar.String(), done, len(stages))
	if current != "" {
		line += " " + current
	}
	return line
}

// PrintJob outputs the submitted job.
func (p *Printer) PrintJob(job types.Job) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job ID:   %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("Command:  %s\n", job.Command))
	sb.WriteString(fmt.Sprintf("Train:    %s", job.TrainPath))
	if job.TestPath != "" {
		sb.WriteString(fmt.Sprintf("\nTest:     %s", job.TestPath))
	}
	p.printBox("JOB SUBMITTED", sb.String())
}

// PrintProgress outputs the stage checklist.
func (p *Printer) PrintProgress(stages []progress.StageStatus) {
	if len(stages) == 0 {
		return
	}

	var sb strings.Builder
	done := 0
	for _, s := range stages {
		if s.Status == progress.StatusDone {
			done++
		}
		sb.WriteString(fmt.Sprintf("%s %-24s %s\n", statusIcon(s.Status), s.Label, s.Status))
	}
	sb.WriteString(fmt.Sprintf("\n%d of %d stages done", done, len(stages)))

	p.printBox("PIPELINE PROGRESS", sb.String())
}

// PrintEvent outputs one raw log line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(line string) {
	fmt.Fprintf(p.out, "  │ %s\n", line)
}

// PrintDiagnostics outputs the pipeline error lines collected for a job.
func (p *Printer) PrintDiagnostics(lines []string) {
	if len(lines) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pipeline reported %d errors:\n\n", len(lines)))
	start := 0
	if len(lines) > maxItemsToShow {
		start = len(lines) - maxItemsToShow
		sb.WriteString(fmt.Sprintf("... %d earlier errors\n", start))
	}
	for _, line := range lines[start:] {
		sb.WriteString(fmt.Sprintf("⚠ %s\n", strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), session.DiagnosticPrefix))))
	}

	p.printBox("PIPELINE ERRORS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintArtifact outputs a human-readable summary of the result artifact.
func (p *Printer) PrintArtifact(a *types.ResultArtifact) {
	if a == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Algorithm:  %s\n", a.Algorithm))
	sb.WriteString(fmt.Sprintf("AUROC:      %s\n", a.Metrics.AUROC))
	sb.WriteString(fmt.Sprintf("AUPRC:      %s\n", a.Metrics.AUPRC))
	if a.DatasetTrain != "" {
		sb.WriteString(fmt.Sprintf("Train:      %s\n", a.DatasetTrain))
	}
	if a.DatasetTest != "" {
		sb.WriteString(fmt.Sprintf("Test:       %s\n", a.DatasetTest))
	}
	if a.Stats != nil {
		sb.WriteString(fmt.Sprintf("Samples:    %d (%d features, %d anomalies)\n", a.Stats.Samples, a.Stats.Features, a.Stats.Anomalies))
	}

	if len(a.Parameters) > 0 {
		sb.WriteString("\nParameters:\n")
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		count := min(len(keys), maxItemsToShow)
		for _, k := range keys[:count] {
			sb.WriteString(fmt.Sprintf("  • %s = %v\n", k, a.Parameters[k]))
		}
		if len(keys) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(keys)-maxItemsToShow))
		}
	}

	if code := strings.TrimRight(a.Code, "\n"); code != "" {
		sb.WriteString("\nCode:\n")
		lines := strings.Split(code, "\n")
		count := min(len(lines), maxCodeLines)
		for _, line := range lines[:count] {
			sb.WriteString("  " + line + "\n")
		}
		if len(lines) > maxCodeLines {
			sb.WriteString(fmt.Sprintf("  ... and %d more lines\n", len(lines)-maxCodeLines))
		}
	}

	p.printBox("RESULTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSnapshot outputs the settled outcome of a session: the artifact when fetched,
// otherwise the reason it stopped and how to continue.
func (p *Printer) PrintSnapshot(snap session.Snapshot) {
	p.PrintProgress(snap.Stages)
	p.PrintDiagnostics(snap.Diagnostics)

	switch snap.State {
	case session.StateFetched:
		p.PrintArtifact(snap.Artifact)
	case session.StateFetchFailed:
		p.printBox("RESULTS UNAVAILABLE", fmt.Sprintf("%v\n\nThe job completed; retry with:\n  adagent results %s", snap.Err, snap.JobID))
	case session.StateStalled:
		p.printBox("STREAM INTERRUPTED", fmt.Sprintf("%v\n\nResume watching with:\n  adagent watch %s", snap.Err, snap.JobID))
	case session.StateAbandoned:
		p.printBox("TRACKING STOPPED", fmt.Sprintf("Job %s is still running on the backend.", snap.JobID))
	}
}
