// Package journal provides the append-only run journal. The journal is the
// single authoritative record of what happened during a run: every runner
// event is recorded against its (host, workload, repetition) key, the current
// status per key is derived from the recorded sequence, and the final run
// summary is built from the journal plus the per-phase execution results.
package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benchfleet/benchfleet/internal/domain/event"
)

var (
	// ErrUnknownKey is returned when an event arrives for a key the
	// controller never registered.
	ErrUnknownKey = errors.New("unknown journal key")

	// ErrKeyTerminal is returned when an event arrives for a key that has
	// already reached a terminal status.
	ErrKeyTerminal = errors.New("journal key already terminal")

	// ErrOutOfOrder is returned when an event violates the per-key
	// sequencing invariant (progress before started, duplicate started).
	ErrOutOfOrder = errors.New("event out of order")
)

// Key identifies one repetition of one workload on one host.
type Key struct {
	Host       string
	Workload   string
	Repetition int
}

// String implements Stringer interface.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Host, k.Workload, k.Repetition)
}

// entry holds the recorded sequence and derived status for one key.
type entry struct {
	key     Key
	events  []event.RunEvent
	status  event.Status
	started bool
	note    string
}

// Journal is the per-run event store. Writes are serialized internally so the
// sequencing invariant holds when multiple per-host goroutines record
// concurrently. One Journal per run; discarded at run end.
type Journal struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	order   []Key
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{
		entries: make(map[Key]*entry),
	}
}

// Register makes a key known to the journal. The controller registers every
// (host, workload, repetition) it schedules before any event can arrive for
// it. Registering an existing key is a no-op.
func (j *Journal) Register(key Key) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.entries[key]; ok {
		return
	}
	j.entries[key] = &entry{key: key}
	j.order = append(j.order, key)
}

// Record appends an event to its key. Events for unknown keys, events after a
// terminal status, and events that violate the sequencing invariant are
// dropped with a warning and a non-nil error; the journal entry is never
// overwritten. This gives at-most-one-winner semantics when a late "stopped"
// races a "done".
func (j *Journal) Record(ev event.RunEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := Key{Host: ev.Host, Workload: ev.Workload, Repetition: ev.Repetition}

	ent, ok := j.entries[key]
	if !ok {
		slog.Warn("Journal: Dropping event for unknown key",
			"key", key.String(), "status", ev.Status)
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if ent.status.IsTerminal() {
		slog.Warn("Journal: Dropping event for terminal key",
			"key", key.String(),
			"recorded_status", ent.status,
			"late_status", ev.Status)
		return fmt.Errorf("%w: %s is %s", ErrKeyTerminal, key, ent.status)
	}

	switch ev.Status {
	case event.StatusStarted:
		if ent.started {
			slog.Warn("Journal: Dropping duplicate started event", "key", key.String())
			return fmt.Errorf("%w: duplicate started for %s", ErrOutOfOrder, key)
		}
		ent.started = true
	case event.StatusProgress:
		if !ent.started {
			slog.Warn("Journal: Dropping progress before started", "key", key.String())
			return fmt.Errorf("%w: progress before started for %s", ErrOutOfOrder, key)
		}
	}

	ent.events = append(ent.events, ev)
	ent.status = ev.Status
	if ev.Message != "" {
		ent.note = ev.Message
	}

	return nil
}

// Resolve terminalizes a key locally, without a runner event, recording why.
// The controller uses it for repetitions that will never execute (upstream
// setup failure, stop request) and for keys whose runner exited without
// emitting a terminal event. No-op if the key is already terminal.
func (j *Journal) Resolve(key Key, status event.Status, note string) {
	if !status.IsTerminal() {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	ent, ok := j.entries[key]
	if !ok {
		return
	}
	if ent.status.IsTerminal() {
		return
	}

	ent.status = status
	ent.note = note
}

// StatusOf returns the current status for a key. The boolean reports whether
// the key is registered. A registered key with no events yet has the zero
// status.
func (j *Journal) StatusOf(host, workload string, repetition int) (event.Status, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	ent, ok := j.entries[Key{Host: host, Workload: workload, Repetition: repetition}]
	if !ok {
		return "", false
	}
	return ent.status, true
}

// Events returns a copy of the recorded event sequence for a key.
func (j *Journal) Events(key Key) []event.RunEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	ent, ok := j.entries[key]
	if !ok {
		return nil
	}
	out := make([]event.RunEvent, len(ent.events))
	copy(out, ent.events)
	return out
}

// AllTerminalFor reports whether every registered key for the given workload
// has reached a terminal status.
func (j *Journal) AllTerminalFor(workload string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, ent := range j.entries {
		if ent.key.Workload == workload && !ent.status.IsTerminal() {
			return false
		}
	}
	return true
}

// AllInFlightTerminal reports whether every key that has started has reached
// a terminal status. Keys that never received an event are not in flight;
// the controller is responsible for skipping those when a stop is requested.
func (j *Journal) AllInFlightTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, ent := range j.entries {
		if len(ent.events) > 0 && !ent.status.IsTerminal() {
			return false
		}
	}
	return true
}

// Keys returns all registered keys in registration order.
func (j *Journal) Keys() []Key {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Key, len(j.order))
	copy(out, j.order)
	return out
}

// BuildSummary builds the final immutable run report from the journal and the
// execution results. Called exactly once at run end.
func (j *Journal) BuildSummary(info SummaryInfo) *RunExecutionSummary {
	j.mu.RLock()
	defer j.mu.RUnlock()

	summary := &RunExecutionSummary{
		RunID:       info.RunID,
		StartedAt:   info.StartedAt,
		FinishedAt:  info.FinishedAt,
		Duration:    info.FinishedAt.Sub(info.StartedAt),
		StopOutcome: info.StopOutcome,
		Results:     append([]ExecutionResult(nil), info.Results...),
	}
	summary.ManualCleanupRequired = info.StopOutcome == StopFailed

	allDone := true
	for _, key := range j.order {
		ent := j.entries[key]
		outcome := KeyOutcome{
			Host:       key.Host,
			Workload:   key.Workload,
			Repetition: key.Repetition,
			Status:     ent.status,
			Note:       ent.note,
		}
		if ent.status != event.StatusDone {
			allDone = false
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	sort.SliceStable(summary.Outcomes, func(a, b int) bool {
		oa, ob := summary.Outcomes[a], summary.Outcomes[b]
		if oa.Workload != ob.Workload {
			return oa.Workload < ob.Workload
		}
		if oa.Host != ob.Host {
			return oa.Host < ob.Host
		}
		return oa.Repetition < ob.Repetition
	})

	resultsOK := true
	for _, res := range info.Results {
		if !res.Succeeded {
			resultsOK = false
			break
		}
	}

	summary.Succeeded = allDone && resultsOK && info.StopOutcome == StopNotRequested
	summary.StoppedByUser = info.StopOutcome == StopClean || info.StopOutcome == StopFailed

	return summary
}

// SummaryInfo carries the run-level facts the journal cannot derive itself.
type SummaryInfo struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []ExecutionResult
	StopOutcome StopOutcome
}
