// Package event provides unit tests for the run event model.
package event

import (
	"testing"
	"time"
)

// TestStatus_IsTerminal tests terminal status detection.
func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"done is terminal", StatusDone, true},
		{"failed is terminal", StatusFailed, true},
		{"stopped is terminal", StatusStopped, true},
		{"started is not terminal", StatusStarted, false},
		{"progress is not terminal", StatusProgress, false},
		{"empty is not terminal", Status(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("Status.IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestStatus_IsValid tests valid status detection.
func TestStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"started is valid", StatusStarted, true},
		{"progress is valid", StatusProgress, true},
		{"done is valid", StatusDone, true},
		{"failed is valid", StatusFailed, true},
		{"stopped is valid", StatusStopped, true},
		{"unknown is invalid", Status("paused"), false},
		{"empty is invalid", Status(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.want {
				t.Errorf("Status.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPhase_IsValid tests valid phase detection.
func TestPhase_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		phase Phase
		want  bool
	}{
		{"setup is valid", PhaseSetup, true},
		{"run is valid", PhaseRun, true},
		{"teardown is valid", PhaseTeardown, true},
		{"unknown is invalid", Phase("warmup"), false},
		{"empty is invalid", Phase(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.phase.IsValid(); got != tt.want {
				t.Errorf("Phase.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestRunEvent_Validate tests event validation.
func TestRunEvent_Validate(t *testing.T) {
	valid := RunEvent{
		Host:       "db-1",
		Workload:   "oltp_read_write",
		Repetition: 0,
		Phase:      PhaseRun,
		Status:     StatusStarted,
		Timestamp:  time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(e *RunEvent)
		wantErr bool
	}{
		{"valid event", func(e *RunEvent) {}, false},
		{"missing host", func(e *RunEvent) { e.Host = "" }, true},
		{"missing workload", func(e *RunEvent) { e.Workload = "" }, true},
		{"negative repetition", func(e *RunEvent) { e.Repetition = -1 }, true},
		{"unknown phase", func(e *RunEvent) { e.Phase = "warmup" }, true},
		{"unknown status", func(e *RunEvent) { e.Status = "paused" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			err := ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("RunEvent.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
