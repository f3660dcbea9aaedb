// Package usecase provides the benchmark controller: the state machine that
// drives a run through global setup, the per-workload execution loop, and
// global teardown, owning the run journal and the stop coordinator and
// delegating host-level work to the execution adapters.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benchfleet/benchfleet/internal/domain/event"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
	"github.com/benchfleet/benchfleet/internal/domain/stop"
	"github.com/benchfleet/benchfleet/internal/infra/executor"
)

var (
	// ErrPreCheckFailed is returned when the run configuration fails
	// validation before anything is launched.
	ErrPreCheckFailed = errors.New("pre-check failed")
)

// PhaseNotification tells the presentation layer that the run moved between
// phases. Host is empty for run-global transitions.
type PhaseNotification struct {
	Stage    string
	Workload string
	Host     string
}

// Notification stage names.
const (
	StagePreCheck       = "pre_check"
	StageGlobalSetup    = "global_setup"
	StageWorkloadSetup  = "workload_setup"
	StageWorkloadRun    = "workload_run"
	StageWorkloadTidy   = "workload_teardown"
	StageGlobalTeardown = "global_teardown"
	StageFinished       = "finished"
)

// PhaseCallback receives phase-transition notifications. Invoked
// asynchronously; a slow callback never blocks the run.
type PhaseCallback func(runID string, n PhaseNotification)

// RunUseCase starts benchmark runs. It holds no per-run state: every
// invocation returns its own RunHandle with its own journal and stop
// coordinator.
type RunUseCase struct {
	executors *executor.Registry

	phaseCallback   PhaseCallback
	phaseCallbackMu sync.RWMutex
}

// NewRunUseCase creates the controller entry point.
func NewRunUseCase(executors *executor.Registry) *RunUseCase {
	return &RunUseCase{executors: executors}
}

// SetPhaseCallback sets a callback invoked on every phase transition.
func (uc *RunUseCase) SetPhaseCallback(cb PhaseCallback) {
	uc.phaseCallbackMu.Lock()
	defer uc.phaseCallbackMu.Unlock()
	uc.phaseCallback = cb
}

// StartRun validates the configuration and starts the run in the background,
// returning a handle for stop requests, live progress, and the final summary.
func (uc *RunUseCase) StartRun(ctx context.Context, cfg *plan.RunConfig) (*RunHandle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil run config", ErrPreCheckFailed)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreCheckFailed, err)
	}

	// Every host must have a registered transport before anything launches.
	for i := range cfg.Hosts {
		if _, err := uc.executors.ForHost(&cfg.Hosts[i]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPreCheckFailed, err)
		}
	}

	h := &RunHandle{
		ID:        uuid.New().String(),
		cfg:       cfg,
		uc:        uc,
		journal:   journal.New(),
		events:    make(chan event.RunEvent, cfg.EventBuffer),
		done:      make(chan struct{}),
		active:    make(map[string]executor.Handle),
		startedAt: time.Now(),
	}
	h.coord = stop.NewCoordinator(cfg.StopTimeout.Std(), h.broadcastStop)

	slog.Info("Controller: Run starting",
		"run_id", h.ID,
		"name", cfg.Name,
		"hosts", len(cfg.Hosts),
		"workloads", len(cfg.Workloads),
		"repetitions", cfg.Repetitions,
		"dry_run", cfg.DryRun)

	go h.run(context.Background())

	return h, nil
}

// notifyPhase delivers a phase transition to the registered callback.
func (uc *RunUseCase) notifyPhase(runID string, n PhaseNotification) {
	uc.phaseCallbackMu.RLock()
	cb := uc.phaseCallback
	uc.phaseCallbackMu.RUnlock()

	if cb == nil {
		return
	}
	go cb(runID, n)
}

// RunHandle is one run in flight. It owns the journal and the stop
// coordinator for the lifetime of the run.
type RunHandle struct {
	ID string

	cfg   *plan.RunConfig
	uc    *RunUseCase
	coord *stop.Coordinator

	journal *journal.Journal
	events  chan event.RunEvent
	done    chan struct{}
	summary *journal.RunExecutionSummary

	startedAt time.Time

	mu      sync.Mutex
	active  map[string]executor.Handle
	results []journal.ExecutionResult
}

// RequestStop requests a graceful stop of the run. Safe to call concurrently
// and repeatedly; the first call arms the stop protocol, a second call while
// stopping escalates to "give up waiting". Returns the coordinator state
// after the request.
func (h *RunHandle) RequestStop() stop.State {
	return h.coord.Request()
}

// StopState returns the coordinator's current state.
func (h *RunHandle) StopState() stop.State {
	return h.coord.State()
}

// Summary blocks until the run ends and returns the final report.
func (h *RunHandle) Summary() *journal.RunExecutionSummary {
	<-h.done
	return h.summary
}

// Done is closed when the run ends.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Events returns the live progress stream. Delivery is lossy under a slow
// consumer: when the buffer is full the oldest event is dropped, never the
// run itself blocked. The channel closes at run end.
func (h *RunHandle) Events() <-chan event.RunEvent {
	return h.events
}

// broadcastStop fans the stop signal out to every active handle. Installed as
// the coordinator's broadcast hook.
func (h *RunHandle) broadcastStop() {
	h.mu.Lock()
	handles := make([]executor.Handle, 0, len(h.active))
	for _, ah := range h.active {
		handles = append(handles, ah)
	}
	h.mu.Unlock()

	slog.Info("Controller: Broadcasting stop to active hosts",
		"run_id", h.ID,
		"active", len(handles))
	for _, ah := range handles {
		ah.Stop()
	}
}

// trackActive registers a live handle for stop broadcast. If a stop was
// requested before the handle was tracked, the stop is delivered immediately
// so the broadcast cannot race a just-started run phase. Setup and teardown
// phases launched after the stop was requested are cleanup work and must run
// to completion, so the catch-up never targets them.
func (h *RunHandle) trackActive(host string, phase event.Phase, ah executor.Handle) {
	h.mu.Lock()
	h.active[host] = ah
	stopping := h.coord.Stopping()
	h.mu.Unlock()

	if stopping && phase == event.PhaseRun {
		ah.Stop()
	}
}

// untrackActive removes a finished handle.
func (h *RunHandle) untrackActive(host string) {
	h.mu.Lock()
	delete(h.active, host)
	h.mu.Unlock()
}

// addResult records a per-host, per-phase execution result.
func (h *RunHandle) addResult(res journal.ExecutionResult) {
	h.mu.Lock()
	h.results = append(h.results, res)
	h.mu.Unlock()
}

// forwardEvent records an event in the journal and offers it to the progress
// channel, dropping the oldest buffered event when the consumer lags.
func (h *RunHandle) forwardEvent(ev event.RunEvent) {
	// Journal drops invalid/late events itself, with a warning. The
	// progress stream still sees them: the presentation layer shows what
	// the runner said, the journal decides what counts.
	_ = h.journal.Record(ev)

	select {
	case h.events <- ev:
		return
	default:
	}

	select {
	case <-h.events:
	default:
	}
	select {
	case h.events <- ev:
	default:
	}
}

// sentinelPathFor builds the per-run, per-host stop sentinel path.
func (h *RunHandle) sentinelPathFor(host *plan.HostSpec) string {
	name := fmt.Sprintf("benchfleet-%.8s-%s.stop", h.ID, host.Name)

	base := host.WorkDir
	if base == "" {
		switch host.Transport {
		case plan.TransportWinRM:
			return `C:\Windows\Temp\` + name
		case plan.TransportSSH:
			return "/tmp/" + name
		default:
			base = os.TempDir()
		}
	}

	if host.Transport == plan.TransportWinRM {
		return base + `\` + name
	}
	return filepath.Join(base, name)
}

// specFor builds an execution spec for one phase on one host.
func (h *RunHandle) specFor(host *plan.HostSpec, workload string, repetition int, phase event.Phase, ps *plan.PhaseSpec) executor.Spec {
	return executor.Spec{
		Host:             *host,
		Workload:         workload,
		Repetition:       repetition,
		Phase:            phase,
		Command:          ps.Command,
		Env:              ps.Env,
		Timeout:          ps.Timeout.Std(),
		SentinelPath:     h.sentinelPathFor(host),
		StopPollInterval: h.cfg.StopPollInterval.Std(),
		StopGrace:        h.cfg.StopGrace.Std(),
	}
}

// executePhase launches one phase on one host, streams its events into the
// journal, and blocks until its result. Launch failures (unreachable host,
// auth failure) are folded into a failed ExecutionResult rather than lost.
func (h *RunHandle) executePhase(ctx context.Context, host *plan.HostSpec, spec executor.Spec) journal.ExecutionResult {
	ex, err := h.uc.executors.ForHost(host)
	if err != nil {
		res := journal.ExecutionResult{
			Host: host.Name, Workload: spec.Workload, Repetition: spec.Repetition,
			Phase: spec.Phase, Succeeded: false, ExitCode: -1, ErrorDetail: err.Error(),
		}
		h.addResult(res)
		return res
	}

	start := time.Now()
	ah, err := ex.Start(ctx, spec)
	if err != nil {
		slog.Warn("Controller: Phase failed to launch",
			"run_id", h.ID,
			"host", host.Name,
			"phase", spec.Phase,
			"error", err)
		res := journal.ExecutionResult{
			Host: host.Name, Workload: spec.Workload, Repetition: spec.Repetition,
			Phase: spec.Phase, Succeeded: false, ExitCode: -1,
			Duration: time.Since(start), ErrorDetail: err.Error(),
		}
		h.addResult(res)
		return res
	}

	h.trackActive(host.Name, spec.Phase, ah)
	defer h.untrackActive(host.Name)

	// Drain incrementally so the journal is current while the phase runs;
	// this is what lets the stop coordinator see "stopped" confirmations in
	// near-real-time.
	for ev := range ah.Events() {
		h.forwardEvent(ev)
	}

	res := ah.Result()
	h.addResult(res)
	return res
}

// run is the controller's coordination loop. Runs in its own goroutine; the
// handle's done channel closes when it returns.
func (h *RunHandle) run(ctx context.Context) {
	defer h.finish()

	h.registerAllKeys()

	// Observer: advances the stop coordinator from journal confirmations
	// and the timeout while the loop below is blocked joining hosts.
	observerDone := make(chan struct{})
	defer close(observerDone)
	go h.observeStops(observerDone)

	if h.cfg.DryRun {
		h.dryRun()
		return
	}

	hosts := h.preCheckHosts(ctx)
	if len(hosts) == 0 {
		slog.Error("Controller: No reachable hosts, aborting run", "run_id", h.ID)
		h.resolveAllPending(event.StatusFailed, "skipped: no reachable hosts")
		return
	}

	if !h.globalSetup(ctx, hosts) {
		// Global setup failure aborts the run before any workload; the
		// setup's teardown still runs so half-created state is not leaked.
		h.resolveAllPending(event.StatusFailed, "skipped: global setup failed")
		h.globalTeardown(ctx, hosts)
		return
	}

	h.workloadLoop(ctx, hosts)

	if h.coord.Stopping() {
		h.awaitStopOutcome()
	}

	if h.coord.State() == stop.StateStopFailed {
		// Deliberate: tearing down hosts that never confirmed could destroy
		// resources that are still in use. Leave everything allocated and
		// flag the run for manual inspection.
		slog.Error("Controller: Stop protocol failed, skipping global teardown",
			"run_id", h.ID)
		return
	}

	h.globalTeardown(ctx, hosts)
}

// finish builds the summary, closes the progress stream, and releases
// Summary waiters.
func (h *RunHandle) finish() {
	h.mu.Lock()
	results := append([]journal.ExecutionResult(nil), h.results...)
	h.mu.Unlock()

	h.summary = h.journal.BuildSummary(journal.SummaryInfo{
		RunID:       h.ID,
		StartedAt:   h.startedAt,
		FinishedAt:  time.Now(),
		Results:     results,
		StopOutcome: h.stopOutcome(),
	})

	h.uc.notifyPhase(h.ID, PhaseNotification{Stage: StageFinished})
	slog.Info("Controller: Run finished",
		"run_id", h.ID,
		"succeeded", h.summary.Succeeded,
		"stopped_by_user", h.summary.StoppedByUser,
		"stop_outcome", h.summary.StopOutcome,
		"duration", h.summary.Duration)

	close(h.events)
	close(h.done)
}

// stopOutcome maps the coordinator's final state onto the summary vocabulary.
// A request can land after the coordination loop's last check, leaving the
// coordinator non-terminal here; that gets one final confirmation check so a
// stop no host confirmed is never reported as clean.
func (h *RunHandle) stopOutcome() journal.StopOutcome {
	switch h.coord.State() {
	case stop.StateIdle:
		return journal.StopNotRequested
	case stop.StateStopFailed:
		return journal.StopFailed
	case stop.StateStoppingWorkloads:
		if h.coord.Observe(h.journal.AllInFlightTerminal()) == stop.StateTeardownReady {
			return journal.StopClean
		}
		return journal.StopFailed
	default:
		return journal.StopClean
	}
}

// registerAllKeys registers every scheduled (host, workload, repetition) so
// the final summary enumerates all of them even when the run aborts early.
func (h *RunHandle) registerAllKeys() {
	for wi := range h.cfg.Workloads {
		w := &h.cfg.Workloads[wi]
		reps := w.RepetitionsFor(h.cfg.Repetitions)
		for hi := range h.cfg.Hosts {
			for rep := 0; rep < reps; rep++ {
				h.journal.Register(journal.Key{
					Host:       h.cfg.Hosts[hi].Name,
					Workload:   w.Name,
					Repetition: rep,
				})
			}
		}
	}
}

// resolveAllPending terminalizes every non-terminal key with the given note.
func (h *RunHandle) resolveAllPending(status event.Status, note string) {
	for _, key := range h.journal.Keys() {
		h.journal.Resolve(key, status, note)
	}
}

// observeStops periodically feeds journal confirmations into the stop
// coordinator until the run ends. This keeps the timeout ticking even while
// the coordination loop is blocked joining per-host goroutines.
func (h *RunHandle) observeStops(done <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if h.coord.Stopping() && !h.coord.State().IsTerminal() {
				h.coord.Observe(h.journal.AllInFlightTerminal())
			}
		}
	}
}

// awaitStopOutcome blocks until the coordinator reaches a terminal state.
// Bounded: the coordinator's own timeout forces STOP_FAILED eventually.
func (h *RunHandle) awaitStopOutcome() {
	for !h.coord.State().IsTerminal() {
		h.coord.Observe(h.journal.AllInFlightTerminal())
		if h.coord.State().IsTerminal() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	slog.Info("Controller: Stop protocol resolved",
		"run_id", h.ID,
		"state", h.coord.State())
}

// preCheckHosts pings every host concurrently and returns the reachable
// ones. Unreachable hosts get a failed setup result and their keys resolved;
// the rest of the run proceeds without them.
func (h *RunHandle) preCheckHosts(ctx context.Context) []*plan.HostSpec {
	h.uc.notifyPhase(h.ID, PhaseNotification{Stage: StagePreCheck})

	type pingOutcome struct {
		host *plan.HostSpec
		err  error
	}

	outcomes := make(chan pingOutcome, len(h.cfg.Hosts))
	for i := range h.cfg.Hosts {
		host := &h.cfg.Hosts[i]
		go func() {
			ex, err := h.uc.executors.ForHost(host)
			if err == nil {
				err = ex.Ping(ctx, *host)
			}
			outcomes <- pingOutcome{host: host, err: err}
		}()
	}

	var reachable []*plan.HostSpec
	for range h.cfg.Hosts {
		out := <-outcomes
		if out.err != nil {
			slog.Warn("Controller: Host failed pre-check, excluding from run",
				"run_id", h.ID,
				"host", out.host.Name,
				"error", out.err)
			h.addResult(journal.ExecutionResult{
				Host: out.host.Name, Phase: event.PhaseSetup,
				Succeeded: false, ExitCode: -1,
				ErrorDetail: fmt.Sprintf("pre-check: %v", out.err),
			})
			h.resolveHostKeys(out.host.Name, event.StatusFailed, "skipped: host unreachable")
			continue
		}
		reachable = append(reachable, out.host)
	}

	// Preserve the configured host order. The completion order above is
	// whatever order the pings returned in, so this must build a new slice
	// rather than reorder reachable in place.
	ordered := make([]*plan.HostSpec, 0, len(reachable))
	for i := range h.cfg.Hosts {
		for _, r := range reachable {
			if r.Name == h.cfg.Hosts[i].Name {
				ordered = append(ordered, r)
				break
			}
		}
	}
	return ordered
}

// resolveHostKeys terminalizes every pending key belonging to a host.
func (h *RunHandle) resolveHostKeys(host string, status event.Status, note string) {
	for _, key := range h.journal.Keys() {
		if key.Host == host {
			h.journal.Resolve(key, status, note)
		}
	}
}

// globalSetup runs the global setup phase on every host in parallel. Returns
// false if any host failed: global setup failure aborts the run as a whole.
func (h *RunHandle) globalSetup(ctx context.Context, hosts []*plan.HostSpec) bool {
	if h.cfg.GlobalSetup == nil {
		return true
	}

	h.uc.notifyPhase(h.ID, PhaseNotification{Stage: StageGlobalSetup})
	slog.Info("Controller: Global setup", "run_id", h.ID, "hosts", len(hosts))

	results := h.fanOut(ctx, hosts, func(host *plan.HostSpec) journal.ExecutionResult {
		return h.executePhase(ctx, host, h.specFor(host, "", 0, event.PhaseSetup, h.cfg.GlobalSetup))
	})

	ok := true
	for _, res := range results {
		if !res.Succeeded {
			slog.Error("Controller: Global setup failed",
				"run_id", h.ID,
				"host", res.Host,
				"detail", res.ErrorDetail)
			ok = false
		}
	}
	return ok
}

// globalTeardown runs the global teardown phase on every host in parallel.
// Failures are logged and recorded but never change control flow.
func (h *RunHandle) globalTeardown(ctx context.Context, hosts []*plan.HostSpec) {
	if h.cfg.GlobalTeardown == nil {
		return
	}

	h.uc.notifyPhase(h.ID, PhaseNotification{Stage: StageGlobalTeardown})
	slog.Info("Controller: Global teardown", "run_id", h.ID, "hosts", len(hosts))

	h.fanOut(ctx, hosts, func(host *plan.HostSpec) journal.ExecutionResult {
		return h.executePhase(ctx, host, h.specFor(host, "", 0, event.PhaseTeardown, h.cfg.GlobalTeardown))
	})
}

// fanOut runs fn once per host concurrently and joins before returning.
func (h *RunHandle) fanOut(ctx context.Context, hosts []*plan.HostSpec, fn func(*plan.HostSpec) journal.ExecutionResult) []journal.ExecutionResult {
	var wg sync.WaitGroup
	results := make([]journal.ExecutionResult, len(hosts))

	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host *plan.HostSpec) {
			defer wg.Done()
			results[i] = fn(host)
		}(i, host)
	}

	wg.Wait()
	return results
}

// workloadLoop drives the per-workload execution: for each workload, fan out
// across hosts, join, observe the stop coordinator, then advance. A stop
// request stops the advance to new workloads; in-flight hosts finish or
// abort per the adapter's stop contract.
func (h *RunHandle) workloadLoop(ctx context.Context, hosts []*plan.HostSpec) {
	for wi := range h.cfg.Workloads {
		w := &h.cfg.Workloads[wi]

		if h.coord.Stopping() {
			h.resolveAllPending(event.StatusStopped, "skipped: stop requested")
			return
		}

		slog.Info("Controller: Workload starting",
			"run_id", h.ID,
			"workload", w.Name,
			"hosts", len(hosts))

		h.fanOut(ctx, hosts, func(host *plan.HostSpec) journal.ExecutionResult {
			h.runHostWorkload(ctx, host, w)
			return journal.ExecutionResult{}
		})

		h.coord.Observe(h.journal.AllInFlightTerminal())

		if h.cfg.Cooldown > 0 && wi < len(h.cfg.Workloads)-1 && !h.coord.Stopping() {
			time.Sleep(h.cfg.Cooldown.Std())
		}
	}

	if h.coord.Stopping() {
		h.resolveAllPending(event.StatusStopped, "skipped: stop requested")
	}
}

// runHostWorkload executes one workload on one host: per-workload setup, the
// repetitions sequentially, then per-workload teardown. Failures here are
// isolated to this host/workload pair.
func (h *RunHandle) runHostWorkload(ctx context.Context, host *plan.HostSpec, w *plan.WorkloadSpec) {
	reps := w.RepetitionsFor(h.cfg.Repetitions)

	if w.Setup != nil {
		h.uc.notifyPhase(h.ID, PhaseNotification{Stage: StageWorkloadSetup, Workload: w.Name, Host: host.Name})

		res := h.executePhase(ctx, host, h.specFor(host, w.Name, 0, event.PhaseSetup, w.Setup))
		if !res.Succeeded {
			slog.Warn("Controller: Workload setup failed, skipping repetitions",
				"run_id", h.ID,
				"host", host.Name,
				"workload", w.Name,
				"detail", res.ErrorDetail)
			for rep := 0; rep < reps; rep++ {
				h.journal.Resolve(
					journal.Key{Host: host.Name, Workload: w.Name, Repetition: rep},
					event.StatusFailed,
					"skipped: workload setup failed",
				)
			}
			h.runWorkloadTeardown(ctx, host, w)
			return
		}
	}

	h.uc.notifyPhase(h.ID, PhaseNotification{Stage: StageWorkloadRun, Workload: w.Name, Host: host.Name})

	for rep := 0; rep < reps; rep++ {
		if h.coord.Stopping() {
			for r := rep; r < reps; r++ {
				h.journal.Resolve(
					journal.Key{Host: host.Name, Workload: w.Name, Repetition: r},
					event.StatusStopped,
					"skipped: stop requested",
				)
			}
			break
		}

		key := journal.Key{Host: host.Name, Workload: w.Name, Repetition: rep}
		res := h.executePhase(ctx, host, h.specFor(host, w.Name, rep, event.PhaseRun, &w.Run))

		// A runner that exits without a terminal event still needs the key
		// closed, or the stop coordinator and the summary would hang on it.
		if status, ok := h.journal.StatusOf(key.Host, key.Workload, key.Repetition); ok && !status.IsTerminal() {
			if res.Succeeded {
				h.journal.Resolve(key, event.StatusDone, "runner exited without terminal event")
			} else {
				h.journal.Resolve(key, event.StatusFailed, res.ErrorDetail)
			}
		}
	}

	h.runWorkloadTeardown(ctx, host, w)
}

// runWorkloadTeardown runs the per-workload teardown; its failure is logged
// and recorded but isolated.
func (h *RunHandle) runWorkloadTeardown(ctx context.Context, host *plan.HostSpec, w *plan.WorkloadSpec) {
	if w.Teardown == nil {
		return
	}

	h.uc.notifyPhase(h.ID, PhaseNotification{Stage: StageWorkloadTidy, Workload: w.Name, Host: host.Name})

	res := h.executePhase(ctx, host, h.specFor(host, w.Name, 0, event.PhaseTeardown, w.Teardown))
	if !res.Succeeded {
		slog.Warn("Controller: Workload teardown failed",
			"run_id", h.ID,
			"host", host.Name,
			"workload", w.Name,
			"detail", res.ErrorDetail)
	}
}

// dryRun logs every command each phase would execute, marks all keys done,
// and synthesizes successful results.
func (h *RunHandle) dryRun() {
	logCmd := func(host *plan.HostSpec, phase event.Phase, workload string, ps *plan.PhaseSpec) {
		slog.Info("Controller: Dry-run command",
			"run_id", h.ID,
			"host", host.Name,
			"phase", phase,
			"workload", workload,
			"command", ps.Command)
	}

	for hi := range h.cfg.Hosts {
		host := &h.cfg.Hosts[hi]
		if h.cfg.GlobalSetup != nil {
			logCmd(host, event.PhaseSetup, "", h.cfg.GlobalSetup)
		}
		for wi := range h.cfg.Workloads {
			w := &h.cfg.Workloads[wi]
			if w.Setup != nil {
				logCmd(host, event.PhaseSetup, w.Name, w.Setup)
			}
			logCmd(host, event.PhaseRun, w.Name, &w.Run)
			if w.Teardown != nil {
				logCmd(host, event.PhaseTeardown, w.Name, w.Teardown)
			}
		}
		if h.cfg.GlobalTeardown != nil {
			logCmd(host, event.PhaseTeardown, "", h.cfg.GlobalTeardown)
		}
	}

	h.resolveAllPending(event.StatusDone, "dry-run")
}
