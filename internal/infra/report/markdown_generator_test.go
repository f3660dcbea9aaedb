// Package report provides unit tests for the Markdown generator.
package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
)

func sampleSummary() *journal.RunExecutionSummary {
	startedAt := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	return &journal.RunExecutionSummary{
		RunID:       "4f2c1c9a-run",
		Succeeded:   false,
		StartedAt:   startedAt,
		FinishedAt:  startedAt.Add(42 * time.Minute),
		Duration:    42 * time.Minute,
		StopOutcome: journal.StopNotRequested,
		Outcomes: []journal.KeyOutcome{
			{Host: "db-1", Workload: "oltp", Repetition: 0, Status: event.StatusDone},
			{Host: "db-2", Workload: "oltp", Repetition: 0, Status: event.StatusFailed, Note: "oom | killed"},
		},
		Results: []journal.ExecutionResult{
			{Host: "db-1", Workload: "oltp", Phase: event.PhaseRun, Succeeded: true},
			{Host: "db-2", Workload: "oltp", Phase: event.PhaseRun, Succeeded: false, ExitCode: 137, ErrorDetail: "oom\nkilled"},
		},
	}
}

// TestMarkdownGenerator_Generate tests the rendered document structure.
func TestMarkdownGenerator_Generate(t *testing.T) {
	g := NewMarkdownGenerator()

	content, err := g.Generate("nightly-oltp", sampleSummary())
	require.NoError(t, err)

	doc := string(content)
	assert.Contains(t, doc, "# Benchmark Run Report: nightly-oltp")
	assert.Contains(t, doc, "`4f2c1c9a-run`")
	assert.Contains(t, doc, "| Result | FAILED |")
	assert.Contains(t, doc, "| Duration | 42m0s |")
	assert.Contains(t, doc, "2 total: 1 done, 1 failed, 0 stopped")
	assert.Contains(t, doc, "## Failed Phases")
	assert.Contains(t, doc, "| 137 |")
	// Cell content is escaped so the table survives pipes and newlines.
	assert.Contains(t, doc, `oom \| killed`)
	assert.NotContains(t, doc, "oom\nkilled")
}

// TestMarkdownGenerator_CleanRun tests that a clean run has no failure
// section.
func TestMarkdownGenerator_CleanRun(t *testing.T) {
	g := NewMarkdownGenerator()

	summary := sampleSummary()
	summary.Succeeded = true
	summary.Outcomes = summary.Outcomes[:1]
	summary.Results = summary.Results[:1]

	content, err := g.Generate("", summary)
	require.NoError(t, err)

	doc := string(content)
	assert.Contains(t, doc, "# Benchmark Run Report: 4f2c1c9a-run")
	assert.Contains(t, doc, "| Result | SUCCEEDED |")
	assert.False(t, strings.Contains(doc, "## Failed Phases"))
}

// TestMarkdownGenerator_ManualCleanup tests the failed-stop warning block.
func TestMarkdownGenerator_ManualCleanup(t *testing.T) {
	g := NewMarkdownGenerator()

	summary := sampleSummary()
	summary.StoppedByUser = true
	summary.StopOutcome = journal.StopFailed
	summary.ManualCleanupRequired = true

	content, err := g.Generate("x", summary)
	require.NoError(t, err)

	doc := string(content)
	assert.Contains(t, doc, "| Stopped by user | yes (failed) |")
	assert.Contains(t, doc, "**REQUIRED**")
	assert.Contains(t, doc, "cleaned up manually")
}

// TestMarkdownGenerator_NilSummary tests input validation.
func TestMarkdownGenerator_NilSummary(t *testing.T) {
	g := NewMarkdownGenerator()
	_, err := g.Generate("x", nil)
	assert.Error(t, err)
}
