package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/metrics"
	"github.com/hbarton/webharvest/internal/scrape"
)

// Trigger starts a run for a job. Satisfied by the service layer.
type Trigger interface {
	RunNow(ctx context.Context, jobID string) (string, error)
}

// Sweeper periodically lists jobs whose next fire time has passed, triggers
// a run for each, and advances their schedules. It also prunes terminal runs
// older than the retention window.
type Sweeper struct {
	jobs    scrape.JobStore
	runs    scrape.RunStore
	trigger Trigger
	clock   scrape.Clock
	logger  *zap.Logger

	interval  time.Duration
	retention time.Duration
}

// NewSweeper builds a Sweeper. retention <= 0 disables run pruning.
func NewSweeper(
	jobs scrape.JobStore,
	runs scrape.RunStore,
	trigger Trigger,
	clock scrape.Clock,
	logger *zap.Logger,
	interval, retention time.Duration,
) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		jobs:      jobs,
		runs:      runs,
		trigger:   trigger,
		clock:     clock,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Start blocks, sweeping on a fixed interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("schedule sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("schedule sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
			s.prune(ctx)
		}
	}
}

// Sweep triggers every due job exactly once and advances its next fire time.
// The schedule is advanced before the run is triggered so a slow or failing
// trigger cannot cause the same fire time to be picked up twice.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.jobs.ListDueJobs(ctx, now)
	if err != nil {
		s.logger.Error("listing due jobs failed", zap.Error(err))
		return
	}

	for _, job := range due {
		next, recurs := NextRun(job.Schedule, now, s.logger)
		var nextPtr *time.Time
		if recurs {
			nextPtr = &next
		}
		if err := s.jobs.UpdateJobSchedule(ctx, job.ID, recurs, nextPtr); err != nil {
			s.logger.Error("advancing job schedule failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			continue
		}

		runID, err := s.trigger.RunNow(ctx, job.ID)
		if err != nil {
			s.logger.Error("scheduled trigger failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveScheduledTrigger()
		s.logger.Info("scheduled run triggered",
			zap.String("job_id", job.ID),
			zap.String("run_id", runID),
			zap.Bool("recurs", recurs),
		)
	}
}

func (s *Sweeper) prune(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-s.retention)
	n, err := s.runs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("pruning old runs failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pruned old runs", zap.Int("deleted", n))
	}
}
