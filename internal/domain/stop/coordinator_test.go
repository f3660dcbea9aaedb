// Package stop provides unit tests for the stop coordinator.
package stop

import (
	"sync"
	"testing"
	"time"
)

// TestCoordinator_FirstRequest tests arming the stop protocol.
func TestCoordinator_FirstRequest(t *testing.T) {
	broadcasts := 0
	c := NewCoordinator(time.Minute, func() { broadcasts++ })

	if c.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", c.State())
	}
	if c.Stopping() {
		t.Error("Stopping() = true before any request")
	}

	if got := c.Request(); got != StateStoppingWorkloads {
		t.Errorf("Request() = %v, want stopping_workloads", got)
	}
	if broadcasts != 1 {
		t.Errorf("broadcast invoked %d times, want 1", broadcasts)
	}
	if !c.Stopping() {
		t.Error("Stopping() = false after request")
	}
}

// TestCoordinator_SecondRequestEscalates tests that a repeated stop request
// while stopping gives up and moves to stop_failed.
func TestCoordinator_SecondRequestEscalates(t *testing.T) {
	broadcasts := 0
	c := NewCoordinator(time.Minute, func() { broadcasts++ })

	c.Request()
	if got := c.Request(); got != StateStopFailed {
		t.Errorf("second Request() = %v, want stop_failed", got)
	}
	if broadcasts != 1 {
		t.Errorf("broadcast invoked %d times, want 1 (only the first request broadcasts)", broadcasts)
	}

	// Further requests are no-ops once the outcome is decided.
	if got := c.Request(); got != StateStopFailed {
		t.Errorf("Request() after terminal = %v, want stop_failed", got)
	}
}

// TestCoordinator_ObserveConfirmation tests the clean path: every host
// confirms before the timeout.
func TestCoordinator_ObserveConfirmation(t *testing.T) {
	c := NewCoordinator(time.Minute, nil)
	c.Request()

	if got := c.Observe(false); got != StateStoppingWorkloads {
		t.Errorf("Observe(false) = %v, want stopping_workloads", got)
	}
	if got := c.Observe(true); got != StateTeardownReady {
		t.Errorf("Observe(true) = %v, want teardown_ready", got)
	}

	// Terminal states never change again.
	if got := c.Observe(false); got != StateTeardownReady {
		t.Errorf("Observe after terminal = %v, want teardown_ready", got)
	}
	if got := c.Request(); got != StateTeardownReady {
		t.Errorf("Request after terminal = %v, want teardown_ready", got)
	}
}

// TestCoordinator_ObserveTimeout tests that an elapsed timeout without full
// confirmation fails the stop.
func TestCoordinator_ObserveTimeout(t *testing.T) {
	c := NewCoordinator(10*time.Millisecond, nil)
	c.Request()

	time.Sleep(20 * time.Millisecond)

	if got := c.Observe(false); got != StateStopFailed {
		t.Errorf("Observe(false) past deadline = %v, want stop_failed", got)
	}
}

// TestCoordinator_ObserveIdle tests that Observe is inert before any request.
func TestCoordinator_ObserveIdle(t *testing.T) {
	c := NewCoordinator(time.Minute, nil)

	if got := c.Observe(true); got != StateIdle {
		t.Errorf("Observe(true) while idle = %v, want idle", got)
	}
}

// TestCoordinator_ConcurrentRequests tests that racing stop requests settle
// on a single coherent outcome with exactly one broadcast.
func TestCoordinator_ConcurrentRequests(t *testing.T) {
	var mu sync.Mutex
	broadcasts := 0
	c := NewCoordinator(time.Minute, func() {
		mu.Lock()
		broadcasts++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Request()
		}()
	}
	wg.Wait()

	if broadcasts != 1 {
		t.Errorf("broadcast invoked %d times, want exactly 1", broadcasts)
	}
	if got := c.State(); got != StateStopFailed {
		t.Errorf("state after concurrent requests = %v, want stop_failed", got)
	}
}

// TestState_IsTerminal tests terminal state detection.
func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"idle is not terminal", StateIdle, false},
		{"stopping is not terminal", StateStoppingWorkloads, false},
		{"teardown_ready is terminal", StateTeardownReady, true},
		{"stop_failed is terminal", StateStopFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.want {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
