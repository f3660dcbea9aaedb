// Command benchfleet runs benchmark plans across a fleet of hosts.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is the current release version.
const Version = "0.1.0"

var (
	debug       bool
	historyPath string
)

var rootCmd = &cobra.Command{
	Use:     "benchfleet",
	Short:   "Fleet benchmark run orchestrator",
	Long:    "benchfleet executes benchmark plans across multiple hosts,\ncoordinating setup, repetitions, graceful stop, and teardown.",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", defaultHistoryPath(), "run history database path (empty disables archiving)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newHistoryCmd())
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.benchfleet/history.db"
}
