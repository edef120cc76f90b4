// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hbarton/webharvest/internal/scrape"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = scrape.ErrNotFound

// JobStore is a mutex-guarded map of jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scrape.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, ErrNotFound
	}
	return job, nil
}

// UpdateJobStats replaces the job's aggregate counters and last-run time.
func (s *JobStore) UpdateJobStats(_ context.Context, jobID string, stats scrape.JobStats, lastRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Stats = stats
	job.LastRunAt = &lastRun
	s.jobs[jobID] = job
	return nil
}

// UpdateJobSchedule sets the scheduling flag and next due time.
func (s *JobStore) UpdateJobSchedule(_ context.Context, jobID string, scheduled bool, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Scheduled = scheduled
	job.NextRunAt = nextRun
	s.jobs[jobID] = job
	return nil
}

// ListDueJobs returns active scheduled jobs whose next-run time has passed.
func (s *JobStore) ListDueJobs(_ context.Context, now time.Time) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []scrape.Job
	for _, job := range s.jobs {
		if job.Status != scrape.JobStatusActive || !job.Scheduled || job.NextRunAt == nil {
			continue
		}
		if !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

// DeleteJob removes a job.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}
