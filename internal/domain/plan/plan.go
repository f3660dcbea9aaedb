// Package plan provides the run configuration domain model: which hosts to
// benchmark, which workloads to run on them, repetition counts, setup and
// teardown specs, and the stop-protocol timing parameters. A RunConfig is
// owned by the caller and read-only to the core once a run starts.
package plan

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidPlan is returned when a run configuration is invalid.
	ErrInvalidPlan = errors.New("invalid run plan")
)

// TransportKind selects how a host is reached.
type TransportKind string

const (
	TransportLocal TransportKind = "local"
	TransportSSH   TransportKind = "ssh"
	TransportWinRM TransportKind = "winrm"
)

// IsValid checks if the transport kind is valid.
func (t TransportKind) IsValid() bool {
	switch t {
	case TransportLocal, TransportSSH, TransportWinRM:
		return true
	default:
		return false
	}
}

// String returns the string representation of the transport kind.
func (t TransportKind) String() string {
	return string(t)
}

// Duration wraps time.Duration so plan files can spell intervals as "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// HostSpec describes one target host.
type HostSpec struct {
	// Name is the logical host name used in events and the summary.
	Name string `yaml:"name"`

	// Transport selects local, ssh, or winrm execution.
	Transport TransportKind `yaml:"transport"`

	// Address is the network address for remote transports. Unused for local.
	Address string `yaml:"address,omitempty"`

	// Port is the remote port (default 22 for ssh, 5985/5986 for winrm).
	Port int `yaml:"port,omitempty"`

	// Username for remote authentication.
	Username string `yaml:"username,omitempty"`

	// Password for remote authentication. Prefer KeyPath for ssh.
	Password string `yaml:"password,omitempty"`

	// KeyPath is the path to an ssh private key.
	KeyPath string `yaml:"key_path,omitempty"`

	// UseHTTPS selects HTTPS for winrm (port 5986).
	UseHTTPS bool `yaml:"use_https,omitempty"`

	// WorkDir is the remote working directory for runner processes and the
	// stop sentinel. Defaults to the transport's temp location.
	WorkDir string `yaml:"work_dir,omitempty"`
}

// Validate validates the host spec.
func (h *HostSpec) Validate() error {
	if h.Name == "" {
		return fmt.Errorf("%w: host name is required", ErrInvalidPlan)
	}
	if !h.Transport.IsValid() {
		return fmt.Errorf("%w: host %s: unknown transport %q", ErrInvalidPlan, h.Name, h.Transport)
	}

	switch h.Transport {
	case TransportSSH:
		if h.Address == "" {
			return fmt.Errorf("%w: host %s: ssh transport requires an address", ErrInvalidPlan, h.Name)
		}
		if h.Username == "" {
			return fmt.Errorf("%w: host %s: ssh transport requires a username", ErrInvalidPlan, h.Name)
		}
		if h.Password == "" && h.KeyPath == "" {
			return fmt.Errorf("%w: host %s: ssh transport requires a password or key_path", ErrInvalidPlan, h.Name)
		}
	case TransportWinRM:
		if h.Address == "" {
			return fmt.Errorf("%w: host %s: winrm transport requires an address", ErrInvalidPlan, h.Name)
		}
		if h.Port != 0 {
			if h.UseHTTPS && h.Port != 5986 {
				return fmt.Errorf("%w: host %s: winrm HTTPS requires port 5986, got %d", ErrInvalidPlan, h.Name, h.Port)
			}
			if !h.UseHTTPS && h.Port != 5985 {
				return fmt.Errorf("%w: host %s: winrm HTTP requires port 5985, got %d", ErrInvalidPlan, h.Name, h.Port)
			}
		}
	}

	return nil
}

// PhaseSpec describes one command to run for a phase on a host.
type PhaseSpec struct {
	// Command is the command line handed to the transport's shell.
	Command string `yaml:"command"`

	// Env holds KEY=VALUE pairs added to the process environment.
	Env []string `yaml:"env,omitempty"`

	// Timeout bounds the phase. Zero means no deadline.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Validate validates the phase spec.
func (p *PhaseSpec) Validate() error {
	if p.Command == "" {
		return fmt.Errorf("%w: phase command is required", ErrInvalidPlan)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%w: phase timeout must be non-negative", ErrInvalidPlan)
	}
	return nil
}

// WorkloadSpec describes one benchmark workload.
type WorkloadSpec struct {
	// Name is the workload name used in events and the summary.
	Name string `yaml:"name"`

	// Repetitions overrides the plan-level repetition count when positive.
	Repetitions int `yaml:"repetitions,omitempty"`

	// Setup runs once per host before the workload's repetitions.
	Setup *PhaseSpec `yaml:"setup,omitempty"`

	// Run is the workload itself, executed once per repetition.
	Run PhaseSpec `yaml:"run"`

	// Teardown runs once per host after the repetitions, also when setup
	// or a repetition failed.
	Teardown *PhaseSpec `yaml:"teardown,omitempty"`
}

// Validate validates the workload spec.
func (w *WorkloadSpec) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: workload name is required", ErrInvalidPlan)
	}
	if w.Repetitions < 0 {
		return fmt.Errorf("%w: workload %s: repetitions must be non-negative", ErrInvalidPlan, w.Name)
	}
	if err := w.Run.Validate(); err != nil {
		return fmt.Errorf("workload %s: run: %w", w.Name, err)
	}
	if w.Setup != nil {
		if err := w.Setup.Validate(); err != nil {
			return fmt.Errorf("workload %s: setup: %w", w.Name, err)
		}
	}
	if w.Teardown != nil {
		if err := w.Teardown.Validate(); err != nil {
			return fmt.Errorf("workload %s: teardown: %w", w.Name, err)
		}
	}
	return nil
}

// RepetitionsFor resolves the effective repetition count for this workload
// given the plan-level default.
func (w *WorkloadSpec) RepetitionsFor(planDefault int) int {
	if w.Repetitions > 0 {
		return w.Repetitions
	}
	return planDefault
}

// StopPollSafetyFactor relates the sentinel poll interval to the stop
// timeout: runners must poll at least every StopTimeout / StopPollSafetyFactor
// for the cooperative protocol to have a chance of completing in time.
const StopPollSafetyFactor = 12

// Default stop-protocol timing. The poll interval default of 5s pairs with
// timeouts on the order of minutes.
const (
	DefaultRepetitions      = 1
	DefaultStopTimeout      = Duration(5 * time.Minute)
	DefaultStopPollInterval = Duration(5 * time.Second)
	DefaultStopGrace        = Duration(30 * time.Second)
	DefaultEventBuffer      = 256
)

// RunConfig is the immutable input for one run.
type RunConfig struct {
	// Name labels the run in logs and the archive.
	Name string `yaml:"name,omitempty"`

	// Hosts are the ordered target hosts.
	Hosts []HostSpec `yaml:"hosts"`

	// Workloads are the ordered workloads.
	Workloads []WorkloadSpec `yaml:"workloads"`

	// Repetitions is the default repetition count per workload.
	Repetitions int `yaml:"repetitions,omitempty"`

	// GlobalSetup runs once per host before any workload.
	GlobalSetup *PhaseSpec `yaml:"global_setup,omitempty"`

	// GlobalTeardown runs once per host after all workloads, unless the stop
	// protocol failed.
	GlobalTeardown *PhaseSpec `yaml:"global_teardown,omitempty"`

	// StopTimeout bounds how long a stop request waits for every host to
	// confirm before the protocol is marked failed.
	StopTimeout Duration `yaml:"stop_timeout,omitempty"`

	// StopPollInterval is the documented interval at which runners poll for
	// the stop sentinel. Part of the wire contract.
	StopPollInterval Duration `yaml:"stop_poll_interval,omitempty"`

	// StopGrace is how long the adapter waits after requesting cooperative
	// termination before escalating to a forceful kill.
	StopGrace Duration `yaml:"stop_grace,omitempty"`

	// Cooldown is an optional pause between workloads on each host.
	Cooldown Duration `yaml:"cooldown,omitempty"`

	// EventBuffer sizes the progress channel handed to the presentation
	// layer. Oldest events are dropped when the consumer lags.
	EventBuffer int `yaml:"event_buffer,omitempty"`

	// DryRun logs the commands each phase would execute without launching
	// anything.
	DryRun bool `yaml:"dry_run,omitempty"`
}

// ApplyDefaults fills unset optional fields.
func (c *RunConfig) ApplyDefaults() {
	if c.Repetitions == 0 {
		c.Repetitions = DefaultRepetitions
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.StopPollInterval == 0 {
		c.StopPollInterval = DefaultStopPollInterval
	}
	if c.StopGrace == 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	for i := range c.Hosts {
		h := &c.Hosts[i]
		if h.Transport == "" {
			h.Transport = TransportLocal
		}
		if h.Port == 0 {
			switch h.Transport {
			case TransportSSH:
				h.Port = 22
			case TransportWinRM:
				if h.UseHTTPS {
					h.Port = 5986
				} else {
					h.Port = 5985
				}
			}
		}
	}
}

// Validate validates the whole plan. ApplyDefaults should run first.
func (c *RunConfig) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("%w: at least one host is required", ErrInvalidPlan)
	}
	if len(c.Workloads) == 0 {
		return fmt.Errorf("%w: at least one workload is required", ErrInvalidPlan)
	}
	if c.Repetitions < 1 {
		return fmt.Errorf("%w: repetitions must be at least 1", ErrInvalidPlan)
	}

	seenHosts := make(map[string]struct{}, len(c.Hosts))
	for i := range c.Hosts {
		h := &c.Hosts[i]
		if err := h.Validate(); err != nil {
			return err
		}
		if _, dup := seenHosts[h.Name]; dup {
			return fmt.Errorf("%w: duplicate host name %q", ErrInvalidPlan, h.Name)
		}
		seenHosts[h.Name] = struct{}{}
	}

	seenWorkloads := make(map[string]struct{}, len(c.Workloads))
	for i := range c.Workloads {
		w := &c.Workloads[i]
		if err := w.Validate(); err != nil {
			return err
		}
		if _, dup := seenWorkloads[w.Name]; dup {
			return fmt.Errorf("%w: duplicate workload name %q", ErrInvalidPlan, w.Name)
		}
		seenWorkloads[w.Name] = struct{}{}
	}

	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop_timeout must be positive", ErrInvalidPlan)
	}
	if c.StopPollInterval <= 0 {
		return fmt.Errorf("%w: stop_poll_interval must be positive", ErrInvalidPlan)
	}
	if c.StopGrace < 0 {
		return fmt.Errorf("%w: stop_grace must be non-negative", ErrInvalidPlan)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must be non-negative", ErrInvalidPlan)
	}

	// The runner contract requires polling no coarser than the stop timeout
	// divided by the safety factor.
	maxPoll := c.StopTimeout.Std() / StopPollSafetyFactor
	if maxPoll > 0 && c.StopPollInterval.Std() > maxPoll {
		return fmt.Errorf("%w: stop_poll_interval %s is coarser than stop_timeout/%d (%s)",
			ErrInvalidPlan, c.StopPollInterval.Std(), StopPollSafetyFactor, maxPoll)
	}

	return nil
}

// HostByName returns the host spec for a logical name.
func (c *RunConfig) HostByName(name string) (*HostSpec, bool) {
	for i := range c.Hosts {
		if c.Hosts[i].Name == name {
			return &c.Hosts[i], true
		}
	}
	return nil, false
}
