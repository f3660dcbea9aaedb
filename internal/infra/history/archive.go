package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benchfleet/benchfleet/internal/domain/journal"
)

var (
	// ErrRunNotFound is returned when no archived run has the given ID.
	ErrRunNotFound = errors.New("run not found")
)

// RunRecord is one archived run as listed by the archive.
type RunRecord struct {
	ID                    string
	Name                  string
	Succeeded             bool
	StoppedByUser         bool
	StopOutcome           journal.StopOutcome
	ManualCleanupRequired bool
	StartedAt             time.Time
	FinishedAt            time.Time
	Duration              time.Duration
}

// Archive persists run summaries.
type Archive struct {
	db *sql.DB
}

// NewArchive creates an archive over an open history database.
func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// Save archives a finished run. Saving the same run ID again replaces the
// previous record.
func (a *Archive) Save(ctx context.Context, name string, summary *journal.RunExecutionSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, name, succeeded, stopped_by_user, stop_outcome,
			manual_cleanup_required, started_at, finished_at,
			duration_seconds, summary_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			succeeded = excluded.succeeded,
			stopped_by_user = excluded.stopped_by_user,
			stop_outcome = excluded.stop_outcome,
			manual_cleanup_required = excluded.manual_cleanup_required,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			duration_seconds = excluded.duration_seconds,
			summary_json = excluded.summary_json
	`,
		summary.RunID,
		name,
		summary.Succeeded,
		summary.StoppedByUser,
		string(summary.StopOutcome),
		summary.ManualCleanupRequired,
		summary.StartedAt.Format(time.RFC3339),
		summary.FinishedAt.Format(time.RFC3339),
		summary.Duration.Seconds(),
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_outcomes WHERE run_id = ?`, summary.RunID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}
	for _, out := range summary.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_outcomes (run_id, host, workload, repetition, status, note)
			VALUES (?, ?, ?, ?, ?, ?)
		`, summary.RunID, out.Host, out.Workload, out.Repetition, string(out.Status), out.Note)
		if err != nil {
			return fmt.Errorf("save outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (a *Archive) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, name, succeeded, stopped_by_user, stop_outcome,
		       manual_cleanup_required, started_at, finished_at, duration_seconds
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindByID loads the full archived summary for one run.
func (a *Archive) FindByID(ctx context.Context, id string) (*journal.RunExecutionSummary, error) {
	var summaryJSON string
	err := a.db.QueryRowContext(ctx,
		`SELECT summary_json FROM runs WHERE id = ?`, id,
	).Scan(&summaryJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("find run: %w", err)
	}

	var summary journal.RunExecutionSummary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &summary, nil
}

// Delete removes an archived run and its outcomes.
func (a *Archive) Delete(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM run_outcomes WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete outcomes: %w", err)
	}
	res, err := a.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func scanRecord(rows *sql.Rows) (RunRecord, error) {
	var (
		rec                   RunRecord
		stopOutcome           string
		startedAt, finishedAt string
		durationSeconds       float64
	)
	err := rows.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Succeeded,
		&rec.StoppedByUser,
		&stopOutcome,
		&rec.ManualCleanupRequired,
		&startedAt,
		&finishedAt,
		&durationSeconds,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	rec.StopOutcome = journal.StopOutcome(stopOutcome)
	rec.Duration = time.Duration(durationSeconds * float64(time.Second))
	if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return RunRecord{}, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
		return RunRecord{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return rec, nil
}
