// Package service implements the job and run lifecycle operations shared by
// the HTTP API, the CLI, and the schedule sweeper.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/schedule"
	"github.com/hbarton/webharvest/internal/scrape"
)

// Lifecycle errors surfaced to callers.
var (
	// ErrJobNotRunnable is returned when triggering a paused or draft job.
	ErrJobNotRunnable = errors.New("job is not active")
	// ErrRunNotCancellable is returned when cancelling a run that has
	// already reached a terminal status.
	ErrRunNotCancellable = errors.New("run already finished")
)

// Service wires the stores and queue behind the lifecycle operations.
type Service struct {
	jobs   scrape.JobStore
	runs   scrape.RunStore
	queue  scrape.Queue
	clock  scrape.Clock
	ids    scrape.IDGenerator
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Service.
func New(
	jobs scrape.JobStore,
	runs scrape.RunStore,
	queue scrape.Queue,
	clock scrape.Clock,
	ids scrape.IDGenerator,
	logger *zap.Logger,
) *Service {
	return &Service{
		jobs:    jobs,
		runs:    runs,
		queue:   queue,
		clock:   clock,
		ids:     ids,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// CreateJob validates the configuration, assigns an ID, and computes the
// first fire time for scheduled jobs.
func (s *Service) CreateJob(ctx context.Context, job scrape.Job) (scrape.Job, error) {
	if err := job.Config.Validate(); err != nil {
		return scrape.Job{}, fmt.Errorf("invalid job config: %w", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generating job id: %w", err)
	}
	job.ID = id
	job.Created = s.clock.Now()
	job.Stats = scrape.JobStats{}
	if job.Status == "" {
		job.Status = scrape.JobStatusActive
	}
	if job.Scheduled {
		if next, ok := schedule.NextRun(job.Schedule, job.Created, s.logger); ok {
			job.NextRunAt = &next
		} else {
			job.NextRunAt = nil
		}
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return scrape.Job{}, err
	}
	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.Bool("scheduled", job.Scheduled),
	)
	return job, nil
}

// GetJob returns a stored job.
func (s *Service) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// RunNow creates a pending run for an active job and enqueues it. The run
// executes asynchronously; the returned run ID can be polled.
func (s *Service) RunNow(ctx context.Context, jobID string) (string, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != scrape.JobStatusActive {
		return "", fmt.Errorf("%w: job %s is %s", ErrJobNotRunnable, jobID, job.Status)
	}

	runID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generating run id: %w", err)
	}
	run := scrape.Run{
		ID:      runID,
		JobID:   jobID,
		Status:  scrape.RunStatusPending,
		Created: s.clock.Now(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", err
	}

	if err := s.queue.Enqueue(ctx, scrape.QueueItem{JobID: jobID, RunID: runID}); err != nil {
		// The pending row must not dangle if it never reaches a worker.
		if _, cerr := s.runs.CancelPending(ctx, runID, s.clock.Now()); cerr != nil {
			s.logger.Error("cancelling unenqueued run failed",
				zap.String("run_id", runID),
				zap.Error(cerr),
			)
		}
		return "", fmt.Errorf("enqueueing run: %w", err)
	}

	s.logger.Info("run enqueued", zap.String("job_id", jobID), zap.String("run_id", runID))
	return runID, nil
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, runID string) (scrape.Run, error) {
	return s.runs.GetRun(ctx, runID)
}

// ListRuns returns a job's run history.
func (s *Service) ListRuns(ctx context.Context, jobID string) ([]scrape.Run, error) {
	return s.runs.ListRuns(ctx, jobID)
}

// CancelRun cancels a run. A pending run is cancelled in the store and never
// executes; a running run has its context cancelled and finishes
// cooperatively. Terminal runs return ErrRunNotCancellable.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	cancelled, err := s.runs.CancelPending(ctx, runID, s.clock.Now())
	if err != nil {
		return err
	}
	if cancelled {
		s.logger.Info("pending run cancelled", zap.String("run_id", runID))
		return nil
	}

	s.mu.Lock()
	cancel, running := s.cancels[runID]
	s.mu.Unlock()
	if running {
		cancel()
		s.logger.Info("running run cancellation requested", zap.String("run_id", runID))
		return nil
	}

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is %s", ErrRunNotCancellable, runID, run.Status)
	}
	// Running but owned by another process; nothing to signal from here.
	return fmt.Errorf("run %s is executing elsewhere and cannot be cancelled from this instance", runID)
}

// DeleteJob cancels every active run of the job, then removes the job.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	active, err := s.runs.ListActiveRuns(ctx, jobID)
	if err != nil {
		return err
	}
	for _, run := range active {
		if err := s.CancelRun(ctx, run.ID); err != nil {
			s.logger.Warn("cancelling run during job delete failed",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
	}
	if err := s.jobs.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job deleted", zap.String("job_id", jobID), zap.Int("runs_cancelled", len(active)))
	return nil
}

// RegisterCancel makes a running run's context cancel function reachable by
// CancelRun. Workers register before executing and unregister after.
func (s *Service) RegisterCancel(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()
}

// UnregisterCancel removes the run's cancel function.
func (s *Service) UnregisterCancel(runID string) {
	s.mu.Lock()
	delete(s.cancels, runID)
	s.mu.Unlock()
}
