// Package report renders run summaries into human-readable documents.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
)

// MarkdownGenerator renders a run summary as a Markdown document.
type MarkdownGenerator struct{}

// NewMarkdownGenerator creates a Markdown generator.
func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

// Generate renders the summary.
func (g *MarkdownGenerator) Generate(name string, summary *journal.RunExecutionSummary) ([]byte, error) {
	if summary == nil {
		return nil, fmt.Errorf("nil summary")
	}

	var sb strings.Builder

	g.writeTitle(&sb, name, summary)
	g.writeOverview(&sb, summary)
	g.writeOutcomes(&sb, summary)
	g.writeFailedPhases(&sb, summary)
	g.writeFooter(&sb)

	return []byte(sb.String()), nil
}

func (g *MarkdownGenerator) writeTitle(sb *strings.Builder, name string, summary *journal.RunExecutionSummary) {
	if name == "" {
		name = summary.RunID
	}
	fmt.Fprintf(sb, "# Benchmark Run Report: %s\n\n", name)
	fmt.Fprintf(sb, "**Run ID**: `%s`\n\n", summary.RunID)
}

func (g *MarkdownGenerator) writeOverview(sb *strings.Builder, summary *journal.RunExecutionSummary) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")

	result := "SUCCEEDED"
	if !summary.Succeeded {
		result = "FAILED"
	}
	fmt.Fprintf(sb, "| Result | %s |\n", result)
	fmt.Fprintf(sb, "| Started | %s |\n", summary.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(sb, "| Finished | %s |\n", summary.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(sb, "| Duration | %s |\n", summary.Duration.Round(time.Second))

	if summary.StoppedByUser {
		fmt.Fprintf(sb, "| Stopped by user | yes (%s) |\n", summary.StopOutcome)
	}
	if summary.ManualCleanupRequired {
		sb.WriteString("| Manual cleanup | **REQUIRED** |\n")
	}
	sb.WriteString("\n")

	if summary.ManualCleanupRequired {
		sb.WriteString("> The stop protocol did not complete. Host resources were left\n")
		sb.WriteString("> allocated and must be inspected and cleaned up manually.\n\n")
	}
}

func (g *MarkdownGenerator) writeOutcomes(sb *strings.Builder, summary *journal.RunExecutionSummary) {
	sb.WriteString("## Repetition Outcomes\n\n")

	if len(summary.Outcomes) == 0 {
		sb.WriteString("No repetitions were scheduled.\n\n")
		return
	}

	counts := make(map[event.Status]int)
	for _, out := range summary.Outcomes {
		counts[out.Status]++
	}
	fmt.Fprintf(sb, "%d total: %d done, %d failed, %d stopped\n\n",
		len(summary.Outcomes),
		counts[event.StatusDone],
		counts[event.StatusFailed],
		counts[event.StatusStopped])

	sb.WriteString("| Workload | Host | Repetition | Status | Note |\n")
	sb.WriteString("|----------|------|------------|--------|------|\n")
	for _, out := range summary.Outcomes {
		fmt.Fprintf(sb, "| %s | %s | %d | %s | %s |\n",
			out.Workload, out.Host, out.Repetition, out.Status, escapeCell(out.Note))
	}
	sb.WriteString("\n")
}

func (g *MarkdownGenerator) writeFailedPhases(sb *strings.Builder, summary *journal.RunExecutionSummary) {
	var failed []journal.ExecutionResult
	for _, res := range summary.Results {
		if !res.Succeeded {
			failed = append(failed, res)
		}
	}
	if len(failed) == 0 {
		return
	}

	sb.WriteString("## Failed Phases\n\n")
	sb.WriteString("| Host | Workload | Phase | Exit Code | Detail |\n")
	sb.WriteString("|------|----------|-------|-----------|--------|\n")
	for _, res := range failed {
		workload := res.Workload
		if workload == "" {
			workload = "(global)"
		}
		fmt.Fprintf(sb, "| %s | %s | %s | %d | %s |\n",
			res.Host, workload, res.Phase, res.ExitCode, escapeCell(res.ErrorDetail))
	}
	sb.WriteString("\n")
}

func (g *MarkdownGenerator) writeFooter(sb *strings.Builder) {
	sb.WriteString("---\n\n")
	fmt.Fprintf(sb, "*Generated by benchfleet at %s*\n", time.Now().Format(time.RFC3339))
}

// escapeCell keeps multi-line and pipe-bearing detail inside one table cell.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
