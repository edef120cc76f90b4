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

// JobStore persists jobs in the jobs table.
//
// Expected schema:
//
//	CREATE TABLE jobs (
//		id          TEXT PRIMARY KEY,
//		name        TEXT NOT NULL,
//		status      TEXT NOT NULL,
//		config      JSONB NOT NULL,
//		scheduled   BOOLEAN NOT NULL DEFAULT FALSE,
//		schedule    JSONB NOT NULL DEFAULT '{}',
//		next_run_at TIMESTAMPTZ,
//		last_run_at TIMESTAMPTZ,
//		stats       JSONB NOT NULL DEFAULT '{}',
//		created_at  TIMESTAMPTZ NOT NULL
//	);
type JobStore struct {
	pool db
}

// NewJobStore constructs a JobStore on the shared pool.
func NewJobStore(pool db) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

const jobColumns = `id, name, status, config, scheduled, schedule, next_run_at, last_run_at, stats, created_at`

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("marshal job schedule: %w", err)
	}
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Name,
		string(job.Status),
		configJSON,
		job.Scheduled,
		scheduleJSON,
		job.NextRunAt,
		job.LastRunAt,
		statsJSON,
		job.Created,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateJobStats replaces the cached aggregate counters.
func (s *JobStore) UpdateJobStats(ctx context.Context, jobID string, stats scrape.JobStats, lastRun time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET stats = $2, last_run_at = $3 WHERE id = $1`,
		jobID, statsJSON, lastRun,
	)
	if err != nil {
		return fmt.Errorf("update job stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// UpdateJobSchedule sets the scheduled flag and next fire time.
func (s *JobStore) UpdateJobSchedule(ctx context.Context, jobID string, scheduled bool, nextRun *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET scheduled = $2, next_run_at = $3 WHERE id = $1`,
		jobID, scheduled, nextRun,
	)
	if err != nil {
		return fmt.Errorf("update job schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// ListDueJobs returns active scheduled jobs whose fire time has passed.
func (s *JobStore) ListDueJobs(ctx context.Context, now time.Time) ([]scrape.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
WHERE status = $1 AND scheduled AND next_run_at IS NOT NULL AND next_run_at <= $2
ORDER BY next_run_at`
	rows, err := s.pool.Query(ctx, query, string(scrape.JobStatusActive), now)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scrape.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job; runs and items cascade via foreign keys.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (scrape.Job, error) {
	var (
		job          scrape.Job
		status       string
		configJSON   []byte
		scheduleJSON []byte
		statsJSON    []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&status,
		&configJSON,
		&job.Scheduled,
		&scheduleJSON,
		&job.NextRunAt,
		&job.LastRunAt,
		&statsJSON,
		&job.Created,
	); err != nil {
		return scrape.Job{}, err
	}
	job.Status = scrape.JobStatus(status)
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal job config: %w", err)
	}
	if err := json.Unmarshal(scheduleJSON, &job.Schedule); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal job schedule: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &job.Stats); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal job stats: %w", err)
	}
	return job, nil
}
