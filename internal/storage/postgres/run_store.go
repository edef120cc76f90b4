package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hbarton/webharvest/internal/scrape"
)

// RunStore persists runs in the runs table.
//
// Expected schema:
//
//	CREATE TABLE runs (
//		id               TEXT PRIMARY KEY,
//		job_id           TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
//		status           TEXT NOT NULL,
//		attempt          INT NOT NULL DEFAULT 0,
//		created_at       TIMESTAMPTZ NOT NULL,
//		started_at       TIMESTAMPTZ,
//		finished_at      TIMESTAMPTZ,
//		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
//		pages_visited    INT NOT NULL DEFAULT 0,
//		items_created    INT NOT NULL DEFAULT 0,
//		duplicates       INT NOT NULL DEFAULT 0,
//		errors_count     INT NOT NULL DEFAULT 0,
//		error_text       TEXT NOT NULL DEFAULT '',
//		stats            JSONB NOT NULL DEFAULT '{}'
//	);
type RunStore struct {
	pool db
}

// NewRunStore constructs a RunStore on the shared pool.
func NewRunStore(pool db) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

const runColumns = `id, job_id, status, attempt, created_at, started_at, finished_at,
duration_seconds, pages_visited, items_created, duplicates, errors_count, error_text, stats`

// CreateRun inserts a run row.
func (s *RunStore) CreateRun(ctx context.Context, run scrape.Run) error {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	query := `INSERT INTO runs (` + runColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := s.pool.Exec(ctx, query,
		run.ID,
		run.JobID,
		string(run.Status),
		run.Attempt,
		run.Created,
		run.Started,
		run.Finished,
		run.DurationSeconds,
		run.PagesVisited,
		run.ItemsCreated,
		run.Duplicates,
		run.ErrorsCount,
		run.ErrorText,
		statsJSON,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (scrape.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return scrape.Run{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// MarkStarted transitions pending -> running. The status guard in the WHERE
// clause makes the transition atomic against a concurrent cancel.
func (s *RunStore) MarkStarted(ctx context.Context, runID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, started_at = $3 WHERE id = $1 AND status = $4`,
		runID, string(scrape.RunStatusRunning), at, string(scrape.RunStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark run started: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete persists the terminal status and statistics snapshot. Terminal
// states are final: a row that already left pending/running is not touched.
func (s *RunStore) Complete(ctx context.Context, run scrape.Run) error {
	if !run.Status.IsTerminal() {
		return fmt.Errorf("complete requires a terminal status, got %s", run.Status)
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, finished_at = $3, duration_seconds = $4,
pages_visited = $5, items_created = $6, duplicates = $7, errors_count = $8,
error_text = $9, stats = $10
WHERE id = $1 AND status IN ($11, $12)`,
		run.ID,
		string(run.Status),
		run.Finished,
		run.DurationSeconds,
		run.PagesVisited,
		run.ItemsCreated,
		run.Duplicates,
		run.ErrorsCount,
		run.ErrorText,
		statsJSON,
		string(scrape.RunStatusPending),
		string(scrape.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not completable", run.ID)
	}
	return nil
}

// CancelPending transitions pending -> cancelled without ever observing
// running.
func (s *RunStore) CancelPending(ctx context.Context, runID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, finished_at = $3 WHERE id = $1 AND status = $4`,
		runID, string(scrape.RunStatusCancelled), at, string(scrape.RunStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("cancel pending run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRuns returns a job's full run history, newest first.
func (s *RunStore) ListRuns(ctx context.Context, jobID string) ([]scrape.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE job_id = $1 ORDER BY created_at DESC`
	return s.listRuns(ctx, query, jobID)
}

// ListActiveRuns returns a job's pending and running runs.
func (s *RunStore) ListActiveRuns(ctx context.Context, jobID string) ([]scrape.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE job_id = $1 AND status IN ($2, $3)`
	return s.listRuns(ctx, query, jobID,
		string(scrape.RunStatusPending), string(scrape.RunStatusRunning))
}

// DeleteOlderThan removes terminal runs created before the cutoff.
func (s *RunStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM runs WHERE created_at < $1 AND status IN ($2, $3, $4, $5)`,
		cutoff,
		string(scrape.RunStatusSuccess),
		string(scrape.RunStatusPartial),
		string(scrape.RunStatusFailed),
		string(scrape.RunStatusCancelled),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *RunStore) listRuns(ctx context.Context, query string, args ...any) ([]scrape.Run, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	var runs []scrape.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (scrape.Run, error) {
	var (
		run       scrape.Run
		status    string
		statsJSON []byte
	)
	if err := row.Scan(
		&run.ID,
		&run.JobID,
		&status,
		&run.Attempt,
		&run.Created,
		&run.Started,
		&run.Finished,
		&run.DurationSeconds,
		&run.PagesVisited,
		&run.ItemsCreated,
		&run.Duplicates,
		&run.ErrorsCount,
		&run.ErrorText,
		&statsJSON,
	); err != nil {
		return scrape.Run{}, err
	}
	run.Status = scrape.RunStatus(status)
	if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
		return scrape.Run{}, fmt.Errorf("unmarshal run stats: %w", err)
	}
	return run, nil
}
