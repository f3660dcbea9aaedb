// Package executor provides unit tests for the remote command builders.
package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
)

// TestShellQuote tests POSIX single-quoting.
func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}

	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// TestRemoteCommand tests the SSH command line builder.
func TestRemoteCommand(t *testing.T) {
	spec := Spec{
		Host: plan.HostSpec{
			Name:      "db-1",
			Transport: plan.TransportSSH,
			WorkDir:   "/var/tmp/bench",
		},
		Workload:         "oltp",
		Repetition:       1,
		Phase:            event.PhaseRun,
		Command:          "sysbench oltp run",
		Env:              []string{"THREADS=64"},
		SentinelPath:     "/var/tmp/bench/run.stop",
		StopPollInterval: 5 * time.Second,
	}

	cmd := remoteCommand(&spec)
	assert.Contains(t, cmd, "export THREADS='64'; ")
	assert.Contains(t, cmd, "export BENCHFLEET_HOST='db-1'; ")
	assert.Contains(t, cmd, "export BENCHFLEET_STOP_SENTINEL='/var/tmp/bench/run.stop'; ")
	assert.Contains(t, cmd, "mkdir -p '/var/tmp/bench' && cd '/var/tmp/bench' && ")
	assert.True(t, len(cmd) > len("sysbench oltp run"))
	assert.Equal(t, "sysbench oltp run", cmd[len(cmd)-len("sysbench oltp run"):])
}

// TestWinRMCommand tests the cmd.exe command line builder.
func TestWinRMCommand(t *testing.T) {
	spec := Spec{
		Host: plan.HostSpec{
			Name:      "win-1",
			Transport: plan.TransportWinRM,
			WorkDir:   `C:\bench`,
		},
		Workload:     "oltp",
		Phase:        event.PhaseSetup,
		Command:      "bench.exe prepare",
		SentinelPath: `C:\bench\run.stop`,
	}

	cmd := winrmCommand(&spec)
	assert.Contains(t, cmd, `set "BENCHFLEET_HOST=win-1" && `)
	assert.Contains(t, cmd, `set "BENCHFLEET_PHASE=setup" && `)
	assert.Contains(t, cmd, `cd /d "C:\bench" && `)
	assert.Equal(t, "bench.exe prepare", cmd[len(cmd)-len("bench.exe prepare"):])
}

// TestSentinelCleanupCommands tests the commands that remove the stop
// sentinel after a stopped phase exits. The sentinel path is shared by every
// phase of a run on a host, so the cleanup command must exist for both
// remote transports and tolerate quoting-sensitive paths.
func TestSentinelCleanupCommands(t *testing.T) {
	assert.Equal(t, "rm -f '/tmp/run.stop'", sentinelCleanupCommand("/tmp/run.stop"))
	assert.Equal(t, `rm -f '/var/tmp/odd dir/run.stop'`, sentinelCleanupCommand("/var/tmp/odd dir/run.stop"))

	assert.Equal(t,
		`cmd.exe /c "del /f /q "C:\bench\run.stop""`,
		winrmSentinelCleanupCommand(`C:\bench\run.stop`))
}

// TestBuildClientConfig tests SSH auth configuration.
func TestBuildClientConfig(t *testing.T) {
	t.Run("password auth", func(t *testing.T) {
		cfg, err := buildClientConfig(&plan.HostSpec{
			Name: "db-1", Username: "bench", Password: "secret",
		}, 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "bench", cfg.User)
		assert.Len(t, cfg.Auth, 1)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
	})

	t.Run("no credentials", func(t *testing.T) {
		_, err := buildClientConfig(&plan.HostSpec{Name: "db-1", Username: "bench"}, 0)
		assert.Error(t, err)
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := buildClientConfig(&plan.HostSpec{
			Name: "db-1", Username: "bench",
			KeyPath: filepath.Join(t.TempDir(), "absent_key"),
		}, 0)
		assert.Error(t, err)
	})

	t.Run("unparseable key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad_key")
		require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0600))
		_, err := buildClientConfig(&plan.HostSpec{
			Name: "db-1", Username: "bench", KeyPath: path,
		}, 0)
		assert.Error(t, err)
	})
}
