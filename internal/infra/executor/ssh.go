package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
)

// SSHExecutor runs phases on remote hosts over SSH. One client connection is
// held per host and reused across phases; each phase gets its own session.
type SSHExecutor struct {
	mu      sync.Mutex
	clients map[string]*ssh.Client

	// DialTimeout bounds the initial TCP/handshake. Defaults to 30s.
	DialTimeout time.Duration
}

// NewSSHExecutor creates an SSH executor.
func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{
		clients:     make(map[string]*ssh.Client),
		DialTimeout: 30 * time.Second,
	}
}

// Kind returns the transport kind this executor serves.
func (e *SSHExecutor) Kind() plan.TransportKind {
	return plan.TransportSSH
}

// buildClientConfig creates the SSH client config for a host.
func buildClientConfig(host *plan.HostSpec, dialTimeout time.Duration) (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            host.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	if host.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(host.Password))
	}

	if host.KeyPath != "" {
		keyData, err := os.ReadFile(host.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", host.KeyPath, err)
		}
		key, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", host.KeyPath, err)
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(key))
	}

	if len(config.Auth) == 0 {
		return nil, fmt.Errorf("host %s: ssh requires either a password or a private key", host.Name)
	}

	return config, nil
}

// client returns the cached connection for a host, dialing if needed.
func (e *SSHExecutor) client(host *plan.HostSpec) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[host.Name]; ok {
		return c, nil
	}

	config, err := buildClientConfig(host, e.DialTimeout)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", host.Address, host.Port)
	slog.Info("Executor: Dialing SSH host",
		"host", host.Name,
		"addr", addr,
		"username", host.Username)

	c, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", host.Name, addr, err)
	}

	e.clients[host.Name] = c
	return c, nil
}

// Ping verifies the host is reachable and a session can run a command.
func (e *SSHExecutor) Ping(ctx context.Context, host plan.HostSpec) error {
	c, err := e.client(&host)
	if err != nil {
		return err
	}

	session, err := c.NewSession()
	if err != nil {
		return fmt.Errorf("host %s: open session: %w", host.Name, err)
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return fmt.Errorf("host %s: probe command: %w", host.Name, err)
	}
	return nil
}

// Close closes all cached client connections.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for name, c := range e.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(e.clients, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing ssh clients: %v", errs)
	}
	return nil
}

// remoteCommand builds the full remote command line: contract environment,
// optional working directory, then the phase command.
func remoteCommand(spec *Spec) string {
	var b strings.Builder
	for _, kv := range spec.environ() {
		if key, val, ok := strings.Cut(kv, "="); ok {
			fmt.Fprintf(&b, "export %s=%s; ", key, shellQuote(val))
		}
	}
	if spec.Host.WorkDir != "" {
		fmt.Fprintf(&b, "mkdir -p %s && cd %s && ", shellQuote(spec.Host.WorkDir), shellQuote(spec.Host.WorkDir))
	}
	b.WriteString(spec.Command)
	return b.String()
}

// shellQuote single-quotes a value for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Start launches the phase in a new session on the host's cached connection.
func (e *SSHExecutor) Start(ctx context.Context, spec Spec) (Handle, error) {
	c, err := e.client(&spec.Host)
	if err != nil {
		// Connection failures are still an ExecutionResult for the
		// controller, but at this point there is nothing to stream; report
		// them as a start error and let the controller fold them in.
		return nil, err
	}

	session, err := c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("host %s: open session: %w", spec.Host.Name, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("host %s: stdout pipe: %w", spec.Host.Name, err)
	}

	var stderr bytes.Buffer
	session.Stderr = &stderr

	cmdLine := remoteCommand(&spec)
	start := time.Now()
	if err := session.Start(cmdLine); err != nil {
		session.Close()
		return nil, fmt.Errorf("host %s: start %s phase: %w", spec.Host.Name, spec.Phase, err)
	}

	slog.Info("Executor: Phase started",
		"transport", plan.TransportSSH,
		"host", spec.Host.Name,
		"workload", spec.Workload,
		"repetition", spec.Repetition,
		"phase", spec.Phase)

	h := &sshHandle{
		spec:    spec,
		client:  c,
		session: session,
		stderr:  &stderr,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	// The stdout pipe reaches EOF when the session ends, which is what
	// terminates the parser; no cancellation path is needed.
	parser := &event.StreamParser{}
	h.events = parser.Parse(ctx, stdout)

	waitErr := make(chan error, 1)
	go func() {
		err := session.Wait()
		close(h.exited)
		waitErr <- err
	}()

	if spec.Timeout > 0 {
		go func() {
			select {
			case <-h.exited:
			case <-time.After(spec.Timeout):
				slog.Warn("Executor: Phase timeout, terminating",
					"host", spec.Host.Name,
					"phase", spec.Phase,
					"timeout", spec.Timeout)
				h.markTimedOut()
				h.terminate()
			}
		}()
	}

	go h.finish(waitErr, start)

	return h, nil
}

// sshHandle is a live remote phase execution.
type sshHandle struct {
	spec    Spec
	client  *ssh.Client
	session *ssh.Session
	stderr  *bytes.Buffer
	events  <-chan event.RunEvent

	done   chan struct{}
	exited chan struct{}
	result journal.ExecutionResult

	stopOnce sync.Once

	mu       sync.Mutex
	timedOut bool
	stopped  bool
}

// Events returns the ordered, finite stream of parsed runner events.
func (h *sshHandle) Events() <-chan event.RunEvent {
	return h.events
}

// Stop creates the stop sentinel on the remote host in a separate session,
// then escalates via session signals after the grace period.
func (h *sshHandle) Stop() {
	h.stopOnce.Do(func() {
		if err := h.writeSentinel(); err != nil {
			slog.Warn("Executor: Failed to write remote stop sentinel",
				"host", h.spec.Host.Name,
				"path", h.spec.SentinelPath,
				"error", err)
		} else {
			h.mu.Lock()
			h.stopped = true
			h.mu.Unlock()
			slog.Info("Executor: Stop sentinel written",
				"host", h.spec.Host.Name,
				"path", h.spec.SentinelPath)
		}

		go func() {
			select {
			case <-h.exited:
				return
			case <-time.After(h.spec.StopGrace):
			}
			h.terminate()
		}()
	})
}

// writeSentinel touches the sentinel file over a fresh session.
func (h *sshHandle) writeSentinel() error {
	session, err := h.client.NewSession()
	if err != nil {
		return fmt.Errorf("open sentinel session: %w", err)
	}
	defer session.Close()

	dir := path.Dir(h.spec.SentinelPath)
	cmd := fmt.Sprintf("mkdir -p %s && touch %s", shellQuote(dir), shellQuote(h.spec.SentinelPath))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("touch sentinel: %w", err)
	}
	return nil
}

// sentinelCleanupCommand builds the command that removes the stop sentinel.
// Removal must never fail on an already-gone file.
func sentinelCleanupCommand(path string) string {
	return "rm -f " + shellQuote(path)
}

// removeSentinel deletes the sentinel over a fresh session. The sentinel path
// is shared by every phase of the run on this host, so leaving it behind
// would stop the next sentinel-polling phase immediately.
func (h *sshHandle) removeSentinel() {
	session, err := h.client.NewSession()
	if err != nil {
		slog.Warn("Executor: Failed to remove remote stop sentinel",
			"host", h.spec.Host.Name,
			"path", h.spec.SentinelPath,
			"error", err)
		return
	}
	defer session.Close()

	if err := session.Run(sentinelCleanupCommand(h.spec.SentinelPath)); err != nil {
		slog.Warn("Executor: Failed to remove remote stop sentinel",
			"host", h.spec.Host.Name,
			"path", h.spec.SentinelPath,
			"error", err)
	}
}

// terminate signals the remote process, politely first. Signal delivery over
// SSH is best-effort; closing the session is the final fallback.
func (h *sshHandle) terminate() {
	_ = h.session.Signal(ssh.SIGTERM)
	select {
	case <-h.exited:
		return
	case <-time.After(h.spec.StopGrace):
	}
	_ = h.session.Signal(ssh.SIGKILL)
	_ = h.session.Close()
}

func (h *sshHandle) markTimedOut() {
	h.mu.Lock()
	h.timedOut = true
	h.mu.Unlock()
}

// finish waits for session exit and builds the execution result.
func (h *sshHandle) finish(waitErr <-chan error, start time.Time) {
	err := <-waitErr

	res := h.spec.baseResult()
	res.Duration = time.Since(start)
	res.Succeeded = err == nil

	if err != nil {
		detail := err.Error()

		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
			if h.stderr.Len() > 0 {
				detail = fmt.Sprintf("exit status %d: %s", res.ExitCode, lastLines(h.stderr.String(), 5))
			}
		case errors.As(err, &missingErr):
			res.ExitCode = -1
			detail = "remote process ended without an exit status"
		default:
			res.ExitCode = -1
		}

		h.mu.Lock()
		if h.timedOut {
			detail = fmt.Sprintf("phase timeout after %s: %s", h.spec.Timeout, detail)
		}
		h.mu.Unlock()

		res.ErrorDetail = detail
	}

	h.result = res
	h.session.Close()

	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		h.removeSentinel()
	}

	close(h.done)

	slog.Info("Executor: Phase finished",
		"host", h.spec.Host.Name,
		"workload", h.spec.Workload,
		"repetition", h.spec.Repetition,
		"phase", h.spec.Phase,
		"succeeded", res.Succeeded,
		"exit_code", res.ExitCode,
		"duration", res.Duration)
}

// Result blocks until the phase completes and returns its outcome.
func (h *sshHandle) Result() journal.ExecutionResult {
	<-h.done
	return h.result
}
