// Package stop provides the distributed stop coordinator: a state machine
// tracking the interruption protocol across all hosts in a run. Exactly one
// coordinator exists per run.
package stop

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the coordinator state.
type State string

const (
	// StateIdle means no stop has been requested.
	StateIdle State = "idle"
	// StateStoppingWorkloads means a stop was requested and the coordinator
	// is waiting for every in-flight host to confirm.
	StateStoppingWorkloads State = "stopping_workloads"
	// StateTeardownReady means every host confirmed within the timeout;
	// global teardown may proceed.
	StateTeardownReady State = "teardown_ready"
	// StateStopFailed means the timeout elapsed or the operator escalated;
	// global teardown must be skipped and the run flagged for inspection.
	StateStopFailed State = "stop_failed"
)

// IsTerminal checks if the state is terminal for the coordinator. There is no
// transition back to idle from a stopping state.
func (s State) IsTerminal() bool {
	return s == StateTeardownReady || s == StateStopFailed
}

// String implements Stringer interface.
func (s State) String() string {
	return string(s)
}

// Coordinator drives the stop protocol for one run. Request may be called
// concurrently from signal handlers; Observe is called only from the
// controller's coordination loop, which is the single writer for
// confirmation- and timeout-driven transitions.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	timeout  time.Duration
	deadline time.Time

	// broadcast is invoked once, outside any later transition, when the
	// first stop request arms the protocol. The controller uses it to fan
	// the stop signal out to every active handle.
	broadcast func()
}

// NewCoordinator creates an idle coordinator. timeout bounds how long the
// coordinator waits for all hosts to confirm after a stop request; broadcast
// may be nil.
func NewCoordinator(timeout time.Duration, broadcast func()) *Coordinator {
	return &Coordinator{
		state:     StateIdle,
		timeout:   timeout,
		broadcast: broadcast,
	}
}

// Request registers a stop request and returns the resulting state.
//
// The first request moves idle to stopping_workloads, starts the timeout
// clock, and triggers the broadcast. A second request while already stopping
// is operator escalation: the coordinator stops waiting and moves straight
// to stop_failed. Requests after a terminal
// state are no-ops, which makes Request idempotent once the outcome is
// decided.
func (c *Coordinator) Request() State {
	c.mu.Lock()

	switch c.state {
	case StateIdle:
		c.state = StateStoppingWorkloads
		c.deadline = time.Now().Add(c.timeout)
		broadcast := c.broadcast
		c.mu.Unlock()

		slog.Info("Stop: Stop requested, broadcasting to active hosts",
			"timeout", c.timeout)
		if broadcast != nil {
			broadcast()
		}
		return StateStoppingWorkloads

	case StateStoppingWorkloads:
		c.state = StateStopFailed
		c.mu.Unlock()

		slog.Warn("Stop: Second stop request, escalating",
			"outcome", StateStopFailed)
		return StateStopFailed

	default:
		state := c.state
		c.mu.Unlock()
		return state
	}
}

// Observe advances the coordinator from the controller's coordination loop.
// allConfirmed reports whether the journal shows every in-flight key at a
// terminal status. Returns the (possibly unchanged) state.
func (c *Coordinator) Observe(allConfirmed bool) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStoppingWorkloads {
		return c.state
	}

	if allConfirmed {
		c.state = StateTeardownReady
		slog.Info("Stop: All hosts confirmed, teardown ready")
		return c.state
	}

	if time.Now().After(c.deadline) {
		c.state = StateStopFailed
		slog.Warn("Stop: Timeout elapsed before all hosts confirmed",
			"timeout", c.timeout)
	}

	return c.state
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stopping reports whether a stop has been requested (terminal states
// included): once true, the run must not advance to new workloads or hosts.
func (c *Coordinator) Stopping() bool {
	return c.State() != StateIdle
}
