// Package executor provides unit tests for the registry and the spec
// environment contract.
package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
)

// TestRegistry_ForHost tests transport dispatch.
func TestRegistry_ForHost(t *testing.T) {
	r := NewRegistry()
	r.Register(NewLocalExecutor())

	ex, err := r.ForHost(&plan.HostSpec{Name: "local-1", Transport: plan.TransportLocal})
	require.NoError(t, err)
	assert.Equal(t, plan.TransportLocal, ex.Kind())

	_, err = r.ForHost(&plan.HostSpec{Name: "db-1", Transport: plan.TransportSSH})
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

// TestRegistry_Kinds tests kind enumeration.
func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Kinds())

	r.Register(NewLocalExecutor())
	r.Register(NewSSHExecutor())
	assert.ElementsMatch(t, []plan.TransportKind{plan.TransportLocal, plan.TransportSSH}, r.Kinds())
}

// TestSpec_Environ tests the runner contract environment.
func TestSpec_Environ(t *testing.T) {
	spec := Spec{
		Host:             plan.HostSpec{Name: "db-1"},
		Workload:         "oltp",
		Repetition:       2,
		Phase:            event.PhaseRun,
		Env:              []string{"THREADS=64"},
		SentinelPath:     "/var/tmp/bench/run.stop",
		StopPollInterval: 5 * time.Second,
	}

	env := spec.environ()
	assert.Contains(t, env, "THREADS=64")
	assert.Contains(t, env, "BENCHFLEET_HOST=db-1")
	assert.Contains(t, env, "BENCHFLEET_WORKLOAD=oltp")
	assert.Contains(t, env, "BENCHFLEET_REPETITION=2")
	assert.Contains(t, env, "BENCHFLEET_PHASE=run")
	assert.Contains(t, env, "BENCHFLEET_STOP_SENTINEL=/var/tmp/bench/run.stop")
	assert.Contains(t, env, "BENCHFLEET_STOP_POLL_INTERVAL=5s")
}
