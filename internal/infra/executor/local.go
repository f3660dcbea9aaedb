package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
)

// LocalExecutor runs phases as local subprocesses through the shell.
type LocalExecutor struct {
	// Shell is the shell binary used to interpret phase commands.
	// Defaults to /bin/sh.
	Shell string
}

// NewLocalExecutor creates a local executor.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{Shell: "/bin/sh"}
}

// Kind returns the transport kind this executor serves.
func (e *LocalExecutor) Kind() plan.TransportKind {
	return plan.TransportLocal
}

// Ping verifies the shell exists and the host's working directory is usable.
func (e *LocalExecutor) Ping(ctx context.Context, host plan.HostSpec) error {
	if _, err := exec.LookPath(e.shell()); err != nil {
		return fmt.Errorf("shell not available: %w", err)
	}
	if host.WorkDir != "" {
		if err := os.MkdirAll(host.WorkDir, 0o755); err != nil {
			return fmt.Errorf("work dir %s: %w", host.WorkDir, err)
		}
	}
	return nil
}

func (e *LocalExecutor) shell() string {
	if e.Shell != "" {
		return e.Shell
	}
	return "/bin/sh"
}

// Start launches the phase as a subprocess and returns a live handle.
func (e *LocalExecutor) Start(ctx context.Context, spec Spec) (Handle, error) {
	cmd := exec.Command(e.shell(), "-c", spec.Command)
	cmd.Dir = spec.Host.WorkDir
	cmd.Env = append(os.Environ(), spec.environ()...)

	// The process writes its event stream to a pipe we own, so the stream
	// reaches EOF exactly when the process exits.
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("start %s phase on %s: %w", spec.Phase, spec.Host.Name, err)
	}

	slog.Info("Executor: Phase started",
		"transport", plan.TransportLocal,
		"host", spec.Host.Name,
		"workload", spec.Workload,
		"repetition", spec.Repetition,
		"phase", spec.Phase,
		"pid", cmd.Process.Pid)

	h := &localHandle{
		spec:   spec,
		cmd:    cmd,
		stderr: &stderr,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	// The pipe writer closes at process exit, so the parser's stream ends
	// on EOF and no cancellation is needed to shut it down.
	parser := &event.StreamParser{}
	h.events = parser.Parse(ctx, pr)

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		close(h.exited)
		waitErr <- err
	}()

	// Phase timeout watchdog. Escalates the same way a stop does.
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

// localHandle is a live local phase execution.
type localHandle struct {
	spec   Spec
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	events <-chan event.RunEvent

	done   chan struct{}
	exited chan struct{}
	result journal.ExecutionResult

	stopOnce sync.Once

	mu       sync.Mutex
	timedOut bool
	stopped  bool
}

// Events returns the ordered, finite stream of parsed runner events.
func (h *localHandle) Events() <-chan event.RunEvent {
	return h.events
}

// Stop writes the stop sentinel for the runner to observe, then escalates:
// SIGTERM after the grace period, SIGKILL after a second grace period.
func (h *localHandle) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()

		if err := os.WriteFile(h.spec.SentinelPath, []byte("stop\n"), 0o644); err != nil {
			slog.Warn("Executor: Failed to write stop sentinel",
				"host", h.spec.Host.Name,
				"path", h.spec.SentinelPath,
				"error", err)
		} else {
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

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
func (h *localHandle) terminate() {
	if h.cmd.Process == nil {
		return
	}

	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-h.exited:
		return
	case <-time.After(h.spec.StopGrace):
	}
	_ = h.cmd.Process.Signal(syscall.SIGKILL)
}

func (h *localHandle) markTimedOut() {
	h.mu.Lock()
	h.timedOut = true
	h.mu.Unlock()
}

// finish waits for process exit and builds the execution result.
func (h *localHandle) finish(waitErr <-chan error, start time.Time) {
	err := <-waitErr

	res := h.spec.baseResult()
	res.Duration = time.Since(start)
	res.Succeeded = err == nil
	res.ExitCode = h.cmd.ProcessState.ExitCode()

	if err != nil {
		detail := err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && h.stderr.Len() > 0 {
			detail = fmt.Sprintf("%v: %s", err, lastLines(h.stderr.String(), 5))
		}

		h.mu.Lock()
		if h.timedOut {
			detail = fmt.Sprintf("phase timeout after %s: %s", h.spec.Timeout, detail)
		}
		h.mu.Unlock()

		res.ErrorDetail = detail
	}

	// A non-zero exit caused by a requested stop is the expected shape of
	// cooperative termination, not a silent success; the journal's stopped
	// event is what classifies the key.
	h.result = res

	// Sentinel files are per-run scratch state; remove ours if we wrote it.
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		_ = os.Remove(h.spec.SentinelPath)
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
func (h *localHandle) Result() journal.ExecutionResult {
	<-h.done
	return h.result
}

// lastLines returns the trailing n lines of s for error detail.
func lastLines(s string, n int) string {
	if s == "" {
		return s
	}
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("; ")))
}
