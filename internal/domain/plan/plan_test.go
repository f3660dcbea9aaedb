// Package plan provides unit tests for plan parsing and validation.
package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalPlan = `
name: nightly-oltp
hosts:
  - name: db-1
workloads:
  - name: oltp_read_write
    run:
      command: sysbench oltp_read_write run
`

// TestParse_MinimalPlan tests parsing and defaulting of a minimal plan.
func TestParse_MinimalPlan(t *testing.T) {
	cfg, err := Parse([]byte(minimalPlan))
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}

	if cfg.Name != "nightly-oltp" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Hosts[0].Transport != TransportLocal {
		t.Errorf("default transport = %v, want local", cfg.Hosts[0].Transport)
	}
	if cfg.Repetitions != DefaultRepetitions {
		t.Errorf("Repetitions = %d, want default %d", cfg.Repetitions, DefaultRepetitions)
	}
	if cfg.StopTimeout != DefaultStopTimeout {
		t.Errorf("StopTimeout = %v, want default %v", cfg.StopTimeout.Std(), DefaultStopTimeout.Std())
	}
	if cfg.StopPollInterval != DefaultStopPollInterval {
		t.Errorf("StopPollInterval = %v, want default %v", cfg.StopPollInterval.Std(), DefaultStopPollInterval.Std())
	}
	if cfg.EventBuffer != DefaultEventBuffer {
		t.Errorf("EventBuffer = %d, want default %d", cfg.EventBuffer, DefaultEventBuffer)
	}
}

// TestParse_FullPlan tests a plan exercising every section.
func TestParse_FullPlan(t *testing.T) {
	data := `
name: fleet-bench
repetitions: 3
stop_timeout: 2m
stop_poll_interval: 5s
stop_grace: 10s
cooldown: 30s
hosts:
  - name: db-1
    transport: ssh
    address: 10.0.0.11
    username: bench
    key_path: /home/bench/.ssh/id_ed25519
    work_dir: /var/tmp/bench
  - name: db-2
    transport: winrm
    address: 10.0.0.12
    username: bench
    password: secret
global_setup:
  command: ./provision.sh
  timeout: 10m
global_teardown:
  command: ./cleanup.sh
workloads:
  - name: oltp_read_write
    repetitions: 5
    setup:
      command: sysbench oltp_read_write prepare
    run:
      command: sysbench oltp_read_write run
      env: ["THREADS=64"]
      timeout: 30m
    teardown:
      command: sysbench oltp_read_write cleanup
  - name: oltp_point_select
    run:
      command: sysbench oltp_point_select run
`

	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}

	if cfg.Hosts[0].Port != 22 {
		t.Errorf("ssh default port = %d, want 22", cfg.Hosts[0].Port)
	}
	if cfg.Hosts[1].Port != 5985 {
		t.Errorf("winrm default port = %d, want 5985", cfg.Hosts[1].Port)
	}
	if cfg.StopTimeout.Std() != 2*time.Minute {
		t.Errorf("StopTimeout = %v, want 2m", cfg.StopTimeout.Std())
	}
	if got := cfg.Workloads[0].RepetitionsFor(cfg.Repetitions); got != 5 {
		t.Errorf("workload override RepetitionsFor = %d, want 5", got)
	}
	if got := cfg.Workloads[1].RepetitionsFor(cfg.Repetitions); got != 3 {
		t.Errorf("plan default RepetitionsFor = %d, want 3", got)
	}
	if cfg.Workloads[0].Run.Timeout.Std() != 30*time.Minute {
		t.Errorf("run timeout = %v, want 30m", cfg.Workloads[0].Run.Timeout.Std())
	}
}

// TestParse_Invalid tests rejection of malformed plans.
func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", `
hosts:
  - name: db-1
    flavor: large
workloads:
  - name: w
    run: {command: "true"}
`},
		{"no hosts", `
hosts: []
workloads:
  - name: w
    run: {command: "true"}
`},
		{"no workloads", `
hosts:
  - name: db-1
workloads: []
`},
		{"duplicate host names", `
hosts:
  - name: db-1
  - name: db-1
workloads:
  - name: w
    run: {command: "true"}
`},
		{"duplicate workload names", `
hosts:
  - name: db-1
workloads:
  - name: w
    run: {command: "true"}
  - name: w
    run: {command: "true"}
`},
		{"workload without run command", `
hosts:
  - name: db-1
workloads:
  - name: w
    run: {command: ""}
`},
		{"ssh host without address", `
hosts:
  - name: db-1
    transport: ssh
    username: bench
    password: x
workloads:
  - name: w
    run: {command: "true"}
`},
		{"ssh host without credentials", `
hosts:
  - name: db-1
    transport: ssh
    address: 10.0.0.11
    username: bench
workloads:
  - name: w
    run: {command: "true"}
`},
		{"winrm https on http port", `
hosts:
  - name: db-1
    transport: winrm
    address: 10.0.0.12
    use_https: true
    port: 5985
workloads:
  - name: w
    run: {command: "true"}
`},
		{"unparseable duration", `
stop_timeout: soon
hosts:
  - name: db-1
workloads:
  - name: w
    run: {command: "true"}
`},
		{"poll interval coarser than timeout allows", `
stop_timeout: 1m
stop_poll_interval: 10s
hosts:
  - name: db-1
workloads:
  - name: w
    run: {command: "true"}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("Parse() error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

// TestParse_PollIntervalSafetyFactor tests the boundary of the poll-interval
// rule: StopTimeout / StopPollSafetyFactor is the coarsest legal interval.
func TestParse_PollIntervalSafetyFactor(t *testing.T) {
	data := `
stop_timeout: 1m
stop_poll_interval: 5s
hosts:
  - name: db-1
workloads:
  - name: w
    run: {command: "true"}
`
	if _, err := Parse([]byte(data)); err != nil {
		t.Errorf("Parse() with poll exactly at the limit: %v", err)
	}
}

// TestLoad tests reading a plan from disk.
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte(minimalPlan), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Name != "nightly-oltp" {
		t.Errorf("Name = %q", cfg.Name)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() of missing file expected error")
	}
}

// TestHostByName tests host lookup.
func TestHostByName(t *testing.T) {
	cfg, err := Parse([]byte(minimalPlan))
	if err != nil {
		t.Fatal(err)
	}

	if h, ok := cfg.HostByName("db-1"); !ok || h.Name != "db-1" {
		t.Errorf("HostByName(db-1) = %v, %v", h, ok)
	}
	if _, ok := cfg.HostByName("db-9"); ok {
		t.Error("HostByName(db-9) found a host that does not exist")
	}
}
