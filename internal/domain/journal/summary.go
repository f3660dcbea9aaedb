package journal

import (
	"time"

	"github.com/benchfleet/benchfleet/internal/domain/event"
)

// StopOutcome records how the stop protocol ended, if it was invoked.
type StopOutcome string

const (
	// StopNotRequested means no stop was requested during the run.
	StopNotRequested StopOutcome = "not_requested"
	// StopClean means every host confirmed within the timeout.
	StopClean StopOutcome = "clean"
	// StopFailed means the stop protocol timed out or was escalated; global
	// teardown was skipped and resources were deliberately left allocated.
	StopFailed StopOutcome = "failed"
)

// ExecutionResult is the per-host, per-phase outcome produced by an execution
// adapter when a phase completes.
type ExecutionResult struct {
	Host        string        `json:"host"`
	Workload    string        `json:"workload,omitempty"`
	Repetition  int           `json:"repetition,omitempty"`
	Phase       event.Phase   `json:"phase"`
	Succeeded   bool          `json:"succeeded"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	ErrorDetail string        `json:"error_detail,omitempty"`
}

// KeyOutcome is one row of the summary's outcome table.
type KeyOutcome struct {
	Host       string       `json:"host"`
	Workload   string       `json:"workload"`
	Repetition int          `json:"repetition"`
	Status     event.Status `json:"status"`
	Note       string       `json:"note,omitempty"`
}

// RunExecutionSummary is the final, immutable report for a run. It always
// enumerates every scheduled (host, workload, repetition) outcome, including
// skips, so a partial run is fully explainable from the summary alone.
type RunExecutionSummary struct {
	RunID      string        `json:"run_id"`
	Succeeded  bool          `json:"succeeded"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	// StoppedByUser marks a run that was interrupted; it is distinct from
	// failure. A cleanly stopped run is "stopped by user", not "failed".
	StoppedByUser bool        `json:"stopped_by_user"`
	StopOutcome   StopOutcome `json:"stop_outcome"`

	// ManualCleanupRequired flags a run whose stop protocol did not complete
	// cleanly: global teardown was skipped and resources were left running
	// for inspection.
	ManualCleanupRequired bool `json:"manual_cleanup_required"`

	Outcomes []KeyOutcome      `json:"outcomes"`
	Results  []ExecutionResult `json:"results"`
}
