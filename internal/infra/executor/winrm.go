package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/masterzen/winrm"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
)

// WinRMExecutor runs phases on Windows hosts over WinRM. One client is held
// per host; each phase gets its own shell.
type WinRMExecutor struct {
	mu      sync.Mutex
	clients map[string]*winrm.Client

	// ConnectTimeout bounds the WinRM endpoint timeout. Defaults to 60s.
	ConnectTimeout time.Duration
}

// NewWinRMExecutor creates a WinRM executor.
func NewWinRMExecutor() *WinRMExecutor {
	return &WinRMExecutor{
		clients:        make(map[string]*winrm.Client),
		ConnectTimeout: 60 * time.Second,
	}
}

// Kind returns the transport kind this executor serves.
func (e *WinRMExecutor) Kind() plan.TransportKind {
	return plan.TransportWinRM
}

// client returns the cached client for a host, creating it if needed.
func (e *WinRMExecutor) client(host *plan.HostSpec) (*winrm.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[host.Name]; ok {
		return c, nil
	}

	endpoint := winrm.NewEndpoint(
		host.Address,
		host.Port,
		host.UseHTTPS,
		false, // insecure
		nil,   // CA cert
		nil,   // cert
		nil,   // key
		e.ConnectTimeout,
	)

	// Empty username selects integrated Windows auth.
	c, err := winrm.NewClientWithParameters(endpoint, host.Username, host.Password, nil)
	if err != nil {
		return nil, fmt.Errorf("create winrm client for %s: %w", host.Name, err)
	}

	slog.Info("Executor: WinRM client created",
		"host", host.Name,
		"addr", host.Address,
		"port", host.Port,
		"https", host.UseHTTPS)

	e.clients[host.Name] = c
	return c, nil
}

// Ping verifies the host is reachable by running hostname in a throwaway
// shell.
func (e *WinRMExecutor) Ping(ctx context.Context, host plan.HostSpec) error {
	c, err := e.client(&host)
	if err != nil {
		return err
	}

	shell, err := c.CreateShell()
	if err != nil {
		return fmt.Errorf("host %s: create shell: %w", host.Name, err)
	}
	defer shell.Close()

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd, err := shell.ExecuteWithContext(probeCtx, "hostname")
	if err != nil {
		return fmt.Errorf("host %s: probe command: %w", host.Name, err)
	}
	cmd.Wait()
	cmd.Close()
	return nil
}

// winrmCommand builds the full cmd.exe command line: contract environment,
// optional working directory, then the phase command.
func winrmCommand(spec *Spec) string {
	var b strings.Builder
	for _, kv := range spec.environ() {
		if key, val, ok := strings.Cut(kv, "="); ok {
			fmt.Fprintf(&b, `set "%s=%s" && `, key, val)
		}
	}
	if spec.Host.WorkDir != "" {
		fmt.Fprintf(&b, `cd /d "%s" && `, spec.Host.WorkDir)
	}
	b.WriteString(spec.Command)
	return b.String()
}

// Start launches the phase in a new shell on the host's cached client.
func (e *WinRMExecutor) Start(ctx context.Context, spec Spec) (Handle, error) {
	c, err := e.client(&spec.Host)
	if err != nil {
		return nil, err
	}

	shell, err := c.CreateShell()
	if err != nil {
		return nil, fmt.Errorf("host %s: create shell: %w", spec.Host.Name, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), spec.Timeout)
	}

	cmdLine := winrmCommand(&spec)
	start := time.Now()
	cmd, err := shell.ExecuteWithContext(runCtx, cmdLine)
	if err != nil {
		shell.Close()
		cancel()
		return nil, fmt.Errorf("host %s: start %s phase: %w", spec.Host.Name, spec.Phase, err)
	}

	slog.Info("Executor: Phase started",
		"transport", plan.TransportWinRM,
		"host", spec.Host.Name,
		"workload", spec.Workload,
		"repetition", spec.Repetition,
		"phase", spec.Phase)

	h := &winrmHandle{
		spec:   spec,
		client: c,
		shell:  shell,
		cmd:    cmd,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		cancel: cancel,
	}

	// The command's stdout pipe reaches EOF when the command finishes,
	// which is what terminates the parser; it must not share the command
	// context or cancellation could race the tail of the stream.
	parser := &event.StreamParser{}
	h.events = parser.Parse(ctx, cmd.Stdout)

	go h.finish(start)

	return h, nil
}

// winrmHandle is a live WinRM phase execution.
type winrmHandle struct {
	spec   Spec
	client *winrm.Client
	shell  *winrm.Shell
	cmd    *winrm.Command
	events <-chan event.RunEvent
	cancel context.CancelFunc

	done   chan struct{}
	exited chan struct{}
	result journal.ExecutionResult

	stopOnce sync.Once

	mu      sync.Mutex
	stopped bool
}

// Events returns the ordered, finite stream of parsed runner events.
func (h *winrmHandle) Events() <-chan event.RunEvent {
	return h.events
}

// Stop creates the stop sentinel on the remote host in a separate shell,
// then escalates by terminating the command after the grace period.
func (h *winrmHandle) Stop() {
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
			// Closing the command sends a terminate signal through the
			// protocol; closing the shell tears down anything left.
			_ = h.cmd.Close()
			select {
			case <-h.exited:
			case <-time.After(h.spec.StopGrace):
				h.shell.Close()
			}
		}()
	})
}

// writeSentinel creates the sentinel file over a fresh shell.
func (h *winrmHandle) writeSentinel() error {
	shell, err := h.client.CreateShell()
	if err != nil {
		return fmt.Errorf("open sentinel shell: %w", err)
	}
	defer shell.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmdLine := fmt.Sprintf(`cmd.exe /c "echo stop > "%s""`, h.spec.SentinelPath)
	cmd, err := shell.ExecuteWithContext(ctx, cmdLine)
	if err != nil {
		return fmt.Errorf("touch sentinel: %w", err)
	}
	cmd.Wait()
	cmd.Close()
	return nil
}

// winrmSentinelCleanupCommand builds the command that removes the stop
// sentinel. Removal must never fail on an already-gone file.
func winrmSentinelCleanupCommand(path string) string {
	return fmt.Sprintf(`cmd.exe /c "del /f /q "%s""`, path)
}

// removeSentinel deletes the sentinel over a fresh shell. The sentinel path
// is shared by every phase of the run on this host, so leaving it behind
// would stop the next sentinel-polling phase immediately.
func (h *winrmHandle) removeSentinel() {
	shell, err := h.client.CreateShell()
	if err != nil {
		slog.Warn("Executor: Failed to remove remote stop sentinel",
			"host", h.spec.Host.Name,
			"path", h.spec.SentinelPath,
			"error", err)
		return
	}
	defer shell.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmd, err := shell.ExecuteWithContext(ctx, winrmSentinelCleanupCommand(h.spec.SentinelPath))
	if err != nil {
		slog.Warn("Executor: Failed to remove remote stop sentinel",
			"host", h.spec.Host.Name,
			"path", h.spec.SentinelPath,
			"error", err)
		return
	}
	cmd.Wait()
	cmd.Close()
}

// finish waits for command exit and builds the execution result.
func (h *winrmHandle) finish(start time.Time) {
	var stderr bytes.Buffer
	stderrDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(&stderr, h.cmd.Stderr)
		close(stderrDone)
	}()

	h.cmd.Wait()
	close(h.exited)

	select {
	case <-stderrDone:
	case <-time.After(2 * time.Second):
	}

	res := h.spec.baseResult()
	res.Duration = time.Since(start)
	res.ExitCode = h.cmd.ExitCode()
	res.Succeeded = res.ExitCode == 0

	if !res.Succeeded {
		detail := fmt.Sprintf("exit code %d", res.ExitCode)
		if stderr.Len() > 0 {
			detail = fmt.Sprintf("%s: %s", detail, lastLines(stderr.String(), 5))
		}
		res.ErrorDetail = detail
	}

	h.result = res
	h.cmd.Close()
	h.shell.Close()
	h.cancel()

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
func (h *winrmHandle) Result() journal.ExecutionResult {
	<-h.done
	return h.result
}
