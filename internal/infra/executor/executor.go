// Package executor provides the execution adapters that launch runner
// processes on target hosts (local subprocess, SSH, WinRM), stream their
// event output through the event parser, and implement the mechanical side of
// the stop protocol: writing the stop sentinel, waiting out the grace period,
// and escalating to forceful termination.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
)

var (
	// ErrUnknownTransport is returned when no executor is registered for a
	// host's transport kind.
	ErrUnknownTransport = errors.New("unknown transport")
)

// Environment variables that communicate the runner-side contract to the
// launched process: where the stop sentinel will appear and how often to poll
// for it, plus the identity the runner must stamp on its event lines.
const (
	EnvHost             = "BENCHFLEET_HOST"
	EnvWorkload         = "BENCHFLEET_WORKLOAD"
	EnvRepetition       = "BENCHFLEET_REPETITION"
	EnvPhase            = "BENCHFLEET_PHASE"
	EnvStopSentinel     = "BENCHFLEET_STOP_SENTINEL"
	EnvStopPollInterval = "BENCHFLEET_STOP_POLL_INTERVAL"
)

// Spec describes one phase execution on one host.
type Spec struct {
	// Host is the target host.
	Host plan.HostSpec

	// Workload and Repetition identify the journal key this execution feeds.
	// Workload is empty for the global setup/teardown phases.
	Workload   string
	Repetition int

	// Phase is the lifecycle phase being executed.
	Phase event.Phase

	// Command is the command line handed to the transport's shell.
	Command string

	// Env holds extra KEY=VALUE pairs for the process environment.
	Env []string

	// Timeout bounds the execution. Zero means no deadline.
	Timeout time.Duration

	// SentinelPath is the per-run, per-host stop sentinel location.
	SentinelPath string

	// StopPollInterval is advertised to the runner via the environment.
	StopPollInterval time.Duration

	// StopGrace is how long Stop waits for cooperative termination before
	// escalating. Escalation happens in two steps a grace apart: polite
	// signal first, forceful kill second.
	StopGrace time.Duration
}

// environ builds the contract environment for the runner process.
func (s *Spec) environ() []string {
	env := append([]string(nil), s.Env...)
	env = append(env,
		fmt.Sprintf("%s=%s", EnvHost, s.Host.Name),
		fmt.Sprintf("%s=%s", EnvWorkload, s.Workload),
		fmt.Sprintf("%s=%d", EnvRepetition, s.Repetition),
		fmt.Sprintf("%s=%s", EnvPhase, s.Phase),
		fmt.Sprintf("%s=%s", EnvStopSentinel, s.SentinelPath),
		fmt.Sprintf("%s=%s", EnvStopPollInterval, s.StopPollInterval),
	)
	return env
}

// baseResult pre-fills the identity fields of an execution result.
func (s *Spec) baseResult() journal.ExecutionResult {
	return journal.ExecutionResult{
		Host:       s.Host.Name,
		Workload:   s.Workload,
		Repetition: s.Repetition,
		Phase:      s.Phase,
	}
}

// Handle is a live phase execution on one host.
type Handle interface {
	// Events returns the ordered, finite stream of parsed runner events.
	// The channel closes when the underlying process ends.
	Events() <-chan event.RunEvent

	// Stop requests early termination: the adapter creates the stop
	// sentinel, then escalates to forceful termination after the grace
	// period. Best-effort, idempotent, non-blocking.
	Stop()

	// Result blocks until the phase completes and returns its outcome.
	// Transport failures, auth failures, and non-zero exits all surface
	// here as Succeeded=false with a structured ErrorDetail.
	Result() journal.ExecutionResult
}

// Executor launches runner processes over one transport kind.
type Executor interface {
	// Kind returns the transport kind this executor serves.
	Kind() plan.TransportKind

	// Ping verifies the host is reachable with the configured credentials.
	Ping(ctx context.Context, host plan.HostSpec) error

	// Start launches the phase and returns a live handle. Failures to even
	// launch are returned as an error; failures after launch surface via
	// Handle.Result.
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// Registry maps transport kinds to executors.
type Registry struct {
	executors map[plan.TransportKind]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[plan.TransportKind]Executor),
	}
}

// Register registers an executor for its transport kind.
func (r *Registry) Register(ex Executor) {
	r.executors[ex.Kind()] = ex
}

// ForHost returns the executor for a host's transport.
func (r *Registry) ForHost(host *plan.HostSpec) (Executor, error) {
	ex, ok := r.executors[host.Transport]
	if !ok {
		return nil, fmt.Errorf("%w: %s (host %s)", ErrUnknownTransport, host.Transport, host.Name)
	}
	return ex, nil
}

// Kinds returns all registered transport kinds.
func (r *Registry) Kinds() []plan.TransportKind {
	var kinds []plan.TransportKind
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	return kinds
}
