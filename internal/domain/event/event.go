// Package event provides the run event domain model and the line-oriented
// event stream parser. A runner process emits one JSON object per line on its
// event stream; this package turns that stream into typed RunEvents.
package event

import (
	"fmt"
	"time"
)

// Phase represents a lifecycle phase of a workload on a host.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseRun      Phase = "run"
	PhaseTeardown Phase = "teardown"
)

// IsValid checks if the phase is valid.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseSetup, PhaseRun, PhaseTeardown:
		return true
	default:
		return false
	}
}

// String implements Stringer interface.
func (p Phase) String() string {
	return string(p)
}

// Status represents the status carried by a run event.
type Status string

const (
	StatusStarted  Status = "started"
	StatusProgress Status = "progress"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusStarted, StatusProgress, StatusDone, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// IsTerminal checks if the status is terminal. Once a terminal status is
// recorded for a key, no further events for that key are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusStopped
}

// String implements Stringer interface.
func (s Status) String() string {
	return string(s)
}

// RunEvent is a single structured status line emitted by a runner.
// Immutable once recorded.
type RunEvent struct {
	Host       string    `json:"host"`
	Workload   string    `json:"workload"`
	Repetition int       `json:"repetition"`
	Phase      Phase     `json:"phase"`
	Status     Status    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message,omitempty"`
}

// Validate checks that the event is well formed.
func (e *RunEvent) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("host is required")
	}
	if e.Workload == "" {
		return fmt.Errorf("workload is required")
	}
	if e.Repetition < 0 {
		return fmt.Errorf("repetition must be non-negative, got %d", e.Repetition)
	}
	if !e.Phase.IsValid() {
		return fmt.Errorf("unknown phase: %q", e.Phase)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("unknown status: %q", e.Status)
	}
	return nil
}
