package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benchfleet/benchfleet/internal/infra/history"
	"github.com/benchfleet/benchfleet/internal/infra/report"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived runs",
	}
	cmd.AddCommand(newHistoryListCmd(), newHistoryShowCmd(), newHistoryReportCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeDB, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			records, err := archive.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no archived runs")
				return nil
			}

			for _, rec := range records {
				status := "ok"
				if !rec.Succeeded {
					status = "failed"
				}
				if rec.ManualCleanupRequired {
					status = "needs-cleanup"
				}
				fmt.Printf("%-36s  %-20s  %-13s  %s  %s\n",
					rec.ID, rec.Name, status,
					rec.StartedAt.Format("2006-01-02 15:04:05"),
					rec.Duration.Round(0))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print an archived run summary as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeDB, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			summary, err := archive.FindByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		},
	}
}

func newHistoryReportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Render an archived run as a Markdown report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeDB, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			summary, err := archive.FindByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			content, err := report.NewMarkdownGenerator().Generate("", summary)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = os.Stdout.Write(content)
				return err
			}
			return os.WriteFile(out, content, 0644)
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func openArchive(cmd *cobra.Command) (*history.Archive, func(), error) {
	if historyPath == "" {
		return nil, nil, fmt.Errorf("history is disabled (--history is empty)")
	}
	db, err := history.OpenSQLite(cmd.Context(), historyPath)
	if err != nil {
		return nil, nil, err
	}
	return history.NewArchive(db), func() { db.Close() }, nil
}
