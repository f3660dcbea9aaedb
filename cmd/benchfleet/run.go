package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benchfleet/benchfleet/internal/app/usecase"
	"github.com/benchfleet/benchfleet/internal/domain/journal"
	"github.com/benchfleet/benchfleet/internal/domain/plan"
	"github.com/benchfleet/benchfleet/internal/domain/stop"
	"github.com/benchfleet/benchfleet/internal/infra/executor"
	"github.com/benchfleet/benchfleet/internal/infra/history"
	"github.com/benchfleet/benchfleet/internal/infra/report"
)

func newRunCmd() *cobra.Command {
	var (
		dryRun      bool
		repetitions int
		jsonOut     string
		markdownOut string
	)

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a benchmark plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := plan.Load(args[0])
			if err != nil {
				return fmt.Errorf("load plan: %w", err)
			}
			if dryRun {
				cfg.DryRun = true
			}
			if repetitions > 0 {
				cfg.Repetitions = repetitions
			}
			return runPlan(cmd.Context(), cfg, jsonOut, markdownOut)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the commands each phase would run without executing anything")
	cmd.Flags().IntVar(&repetitions, "repetitions", 0, "override the plan-level repetition count")
	cmd.Flags().StringVar(&jsonOut, "out-json", "", "write the final summary as JSON to a file ('-' for stdout)")
	cmd.Flags().StringVar(&markdownOut, "out-markdown", "", "write a Markdown report to a file ('-' for stdout)")

	return cmd
}

func runPlan(ctx context.Context, cfg *plan.RunConfig, jsonOut, markdownOut string) error {
	registry := executor.NewRegistry()
	sshExec := executor.NewSSHExecutor()
	defer sshExec.Close()
	winrmExec := executor.NewWinRMExecutor()

	registry.Register(executor.NewLocalExecutor())
	registry.Register(sshExec)
	registry.Register(winrmExec)

	uc := usecase.NewRunUseCase(registry)

	handle, err := uc.StartRun(ctx, cfg)
	if err != nil {
		return err
	}

	// First signal requests a graceful stop; a second one escalates, which
	// makes the run give up waiting for confirmations and skip teardown.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			state := handle.RequestStop()
			slog.Info("Main: Stop requested", "signal", sig, "stop_state", state)
			if state == stop.StateStopFailed {
				slog.Warn("Main: Stop escalated, teardown will be skipped")
			}
		}
	}()

	for ev := range handle.Events() {
		slog.Info("Progress",
			"host", ev.Host,
			"workload", ev.Workload,
			"repetition", ev.Repetition,
			"phase", ev.Phase,
			"status", ev.Status,
			"message", ev.Message)
	}

	summary := handle.Summary()
	printSummary(summary)

	if historyPath != "" && !cfg.DryRun {
		if err := archiveSummary(ctx, cfg.Name, summary); err != nil {
			slog.Warn("Main: Failed to archive run", "error", err)
		}
	}

	if jsonOut != "" {
		if err := writeSummaryJSON(summary, jsonOut); err != nil {
			return err
		}
	}
	if markdownOut != "" {
		content, err := report.NewMarkdownGenerator().Generate(cfg.Name, summary)
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		if err := writeOutput(content, markdownOut); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if !summary.Succeeded {
		return fmt.Errorf("run %s did not succeed", summary.RunID)
	}
	return nil
}

func printSummary(s *journal.RunExecutionSummary) {
	fmt.Printf("\nRun %s\n", s.RunID)
	fmt.Printf("  Succeeded:  %v\n", s.Succeeded)
	fmt.Printf("  Duration:   %s\n", s.Duration.Round(0))
	if s.StoppedByUser {
		fmt.Printf("  Stopped by user (outcome: %s)\n", s.StopOutcome)
	}
	if s.ManualCleanupRequired {
		fmt.Printf("  WARNING: stop protocol failed, hosts may need manual cleanup\n")
	}
	fmt.Printf("  Outcomes:\n")
	for _, out := range s.Outcomes {
		line := fmt.Sprintf("    %-20s %-20s rep %-3d %s", out.Workload, out.Host, out.Repetition, out.Status)
		if out.Note != "" {
			line += " (" + out.Note + ")"
		}
		fmt.Println(line)
	}
}

func archiveSummary(ctx context.Context, name string, summary *journal.RunExecutionSummary) error {
	db, err := history.OpenSQLite(ctx, historyPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return history.NewArchive(db).Save(ctx, name, summary)
}

func writeSummaryJSON(summary *journal.RunExecutionSummary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := writeOutput(append(data, '\n'), path); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func writeOutput(data []byte, path string) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
