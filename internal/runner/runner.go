// Package runner executes queued runs: it builds the per-run fetch client,
// drives the crawl, persists items, and finalizes run and job state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/crawl"
	"github.com/hbarton/webharvest/internal/dedup"
	"github.com/hbarton/webharvest/internal/domainstats"
	"github.com/hbarton/webharvest/internal/extract"
	"github.com/hbarton/webharvest/internal/fetch"
	"github.com/hbarton/webharvest/internal/metrics"
	"github.com/hbarton/webharvest/internal/ratelimit"
	"github.com/hbarton/webharvest/internal/scrape"
)

// CancelRegistry exposes a running run's cancel function to the service
// layer so an API cancel request can reach it.
type CancelRegistry interface {
	RegisterCancel(runID string, cancel context.CancelFunc)
	UnregisterCancel(runID string)
}

// RendererFactory builds a JS renderer for a run that needs one. The
// renderer is closed when the run finishes.
type RendererFactory func(timeout time.Duration) fetch.Renderer

// FetcherFactory builds the per-run fetcher and a release function. The
// default factory assembles a fetch.Client; tests substitute fakes.
type FetcherFactory func(cfg scrape.JobConfig) (scrape.Fetcher, func())

// Config carries process-wide execution settings.
type Config struct {
	UserAgent      string
	DefaultTimeout time.Duration
	BackoffBase    time.Duration
	// MaxRunAttempts bounds automatic re-runs after infrastructure
	// failures. Configuration errors never retry.
	MaxRunAttempts int
	RetryBackoff   time.Duration
	EventTopic     string
}

// Runner executes one run at a time per call; the dispatcher provides the
// concurrency.
type Runner struct {
	cfg       Config
	jobs      scrape.JobStore
	runs      scrape.RunStore
	items     scrape.ItemStore
	queue     scrape.Queue
	registry  CancelRegistry
	robots    fetch.RobotsPolicy
	stats     *domainstats.Registry
	blobs     scrape.BlobStore
	publisher scrape.Publisher
	clock     scrape.Clock
	ids       scrape.IDGenerator
	logger    *zap.Logger

	newRenderer RendererFactory
	newFetcher  FetcherFactory
}

// New builds a Runner. robots, stats, blobs, publisher, and newRenderer may
// be nil to disable the corresponding behavior.
func New(
	cfg Config,
	jobs scrape.JobStore,
	runs scrape.RunStore,
	items scrape.ItemStore,
	queue scrape.Queue,
	registry CancelRegistry,
	robots fetch.RobotsPolicy,
	stats *domainstats.Registry,
	blobs scrape.BlobStore,
	publisher scrape.Publisher,
	clock scrape.Clock,
	ids scrape.IDGenerator,
	logger *zap.Logger,
	newRenderer RendererFactory,
) *Runner {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "webharvest/1.0"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxRunAttempts <= 0 {
		cfg.MaxRunAttempts = 1
	}
	r := &Runner{
		cfg:         cfg,
		jobs:        jobs,
		runs:        runs,
		items:       items,
		queue:       queue,
		registry:    registry,
		robots:      robots,
		stats:       stats,
		blobs:       blobs,
		publisher:   publisher,
		clock:       clock,
		ids:         ids,
		logger:      logger,
		newRenderer: newRenderer,
	}
	r.newFetcher = r.buildFetcher
	return r
}

// Execute processes one dequeued run to a terminal state. It returns an
// error only for failures that left no terminal record behind.
func (r *Runner) Execute(ctx context.Context, item scrape.QueueItem) error {
	logger := r.logger.With(
		zap.String("job_id", item.JobID),
		zap.String("run_id", item.RunID),
	)

	job, err := r.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		// The job may have been deleted while the run sat queued; the
		// run row, if any survives, was cancelled by the cascade.
		logger.Warn("dequeued run for missing job", zap.Error(err))
		return nil
	}

	startedAt := r.clock.Now()
	started, err := r.runs.MarkStarted(ctx, item.RunID, startedAt)
	if err != nil {
		return fmt.Errorf("marking run started: %w", err)
	}
	if !started {
		logger.Info("run no longer pending, skipping")
		return nil
	}

	metrics.RunStarted()
	defer metrics.RunFinished()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.registry != nil {
		r.registry.RegisterCancel(item.RunID, cancel)
		defer r.registry.UnregisterCancel(item.RunID)
	}

	run := scrape.Run{
		ID:      item.RunID,
		JobID:   item.JobID,
		Attempt: item.Attempt,
		Created: startedAt,
		Started: &startedAt,
	}
	if existing, err := r.runs.GetRun(ctx, item.RunID); err == nil {
		run.Created = existing.Created
	}

	if err := job.Config.Validate(); err != nil {
		logger.Error("run failed on invalid config", zap.Error(err))
		run.Status = scrape.RunStatusFailed
		run.ErrorText = fmt.Sprintf("invalid job config: %v", err)
		return r.finalize(ctx, job, run, startedAt, logger)
	}

	fetcher, release := r.newFetcher(job.Config)
	defer release()

	crawler := crawl.New(fetcher, extract.New(logger), dedup.New(r.items), r.blobs, logger)
	result, crawlErr := crawler.Crawl(runCtx, job, item.RunID)

	run.PagesVisited = result.PagesVisited
	run.Duplicates = result.Duplicates
	run.ErrorsCount = result.PageErrors
	run.Stats = scrape.RunStats{TotalFound: result.TotalFound, VisitedURLs: result.VisitedURLs}

	created, persistErr := r.persistItems(ctx, job.ID, item.RunID, result.Survivors)
	run.ItemsCreated = created

	switch {
	case crawlErr != nil && errors.Is(crawlErr, context.Canceled) && runCtx.Err() != nil:
		run.Status = scrape.RunStatusCancelled
		run.ErrorText = "run cancelled"
	case crawlErr != nil:
		run.Status = scrape.RunStatusFailed
		run.ErrorText = crawlErr.Error()
		r.maybeRetry(item, logger)
	case persistErr != nil:
		run.Status = scrape.RunStatusFailed
		run.ErrorText = fmt.Sprintf("persisting items: %v", persistErr)
		r.maybeRetry(item, logger)
	case result.PagesVisited == 0:
		run.Status = scrape.RunStatusFailed
		run.ErrorText = "no pages were fetched"
	case result.PageErrors > 0:
		run.Status = scrape.RunStatusPartial
	default:
		run.Status = scrape.RunStatusSuccess
	}

	return r.finalize(ctx, job, run, startedAt, logger)
}

func (r *Runner) persistItems(ctx context.Context, jobID, runID string, survivors []crawl.Survivor) (int, error) {
	created := 0
	for _, sv := range survivors {
		id, err := r.ids.NewID()
		if err != nil {
			return created, fmt.Errorf("generating item id: %w", err)
		}
		item := scrape.Item{
			ID:          id,
			JobID:       jobID,
			RunID:       runID,
			Fields:      sv.Record.Fields,
			SourceURL:   sv.Record.SourceURL,
			Fingerprint: sv.Fingerprint,
			Created:     r.clock.Now(),
		}
		if err := r.items.CreateItem(ctx, item); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// finalize persists the terminal run, refreshes job aggregates from run
// history, and publishes the completion event.
func (r *Runner) finalize(ctx context.Context, job scrape.Job, run scrape.Run, startedAt time.Time, logger *zap.Logger) error {
	finishedAt := r.clock.Now()
	run.Finished = &finishedAt
	run.DurationSeconds = finishedAt.Sub(startedAt).Seconds()

	if err := r.runs.Complete(ctx, run); err != nil {
		return fmt.Errorf("completing run: %w", err)
	}

	metrics.ObserveRunCompleted(string(run.Status))
	metrics.AddItemsCreated(run.ItemsCreated)
	metrics.AddDuplicates(run.Duplicates)

	if err := r.reconcileJobStats(ctx, job.ID, finishedAt); err != nil {
		logger.Error("updating job stats failed", zap.Error(err))
	}

	r.publish(ctx, job, run)

	logger.Info("run completed",
		zap.String("status", string(run.Status)),
		zap.Int("pages_visited", run.PagesVisited),
		zap.Int("items_created", run.ItemsCreated),
		zap.Int("duplicates", run.Duplicates),
		zap.Int("errors", run.ErrorsCount),
		zap.Float64("duration_seconds", run.DurationSeconds),
	)
	return nil
}

// reconcileJobStats rebuilds the job's cached counters from run history.
// Runs are the authoritative record, so recomputing heals any drift.
func (r *Runner) reconcileJobStats(ctx context.Context, jobID string, lastRun time.Time) error {
	runs, err := r.runs.ListRuns(ctx, jobID)
	if err != nil {
		return err
	}
	var stats scrape.JobStats
	for _, run := range runs {
		switch run.Status {
		case scrape.RunStatusSuccess, scrape.RunStatusPartial:
			stats.TotalRuns++
			stats.SuccessfulRuns++
			stats.TotalItems += run.ItemsCreated
		case scrape.RunStatusFailed:
			stats.TotalRuns++
			stats.FailedRuns++
		}
	}
	return r.jobs.UpdateJobStats(ctx, jobID, stats, lastRun)
}

// maybeRetry re-enqueues a fresh run after an infrastructure failure, up to
// the attempt ceiling. The retry is a new pending run; the failed one keeps
// its terminal record.
func (r *Runner) maybeRetry(item scrape.QueueItem, logger *zap.Logger) {
	next := item.Attempt + 1
	if next >= r.cfg.MaxRunAttempts {
		return
	}
	runID, err := r.ids.NewID()
	if err != nil {
		logger.Error("generating retry run id failed", zap.Error(err))
		return
	}
	retry := scrape.Run{
		ID:      runID,
		JobID:   item.JobID,
		Status:  scrape.RunStatusPending,
		Attempt: next,
		Created: r.clock.Now(),
	}
	if err := r.runs.CreateRun(context.Background(), retry); err != nil {
		logger.Error("creating retry run failed", zap.Error(err))
		return
	}

	delay := r.cfg.RetryBackoff
	if delay > 0 {
		delay = delay * time.Duration(1<<item.Attempt)
	}
	enqueue := func() {
		if err := r.queue.Enqueue(context.Background(), scrape.QueueItem{
			JobID:   item.JobID,
			RunID:   runID,
			Attempt: next,
		}); err != nil {
			logger.Error("enqueueing retry run failed", zap.Error(err))
		}
	}
	logger.Warn("scheduling run retry",
		zap.String("retry_run_id", runID),
		zap.Int("attempt", next),
		zap.Duration("delay", delay),
	)
	if delay > 0 {
		time.AfterFunc(delay, enqueue)
		return
	}
	enqueue()
}

func (r *Runner) publish(ctx context.Context, job scrape.Job, run scrape.Run) {
	if r.publisher == nil {
		return
	}
	event := map[string]any{
		"job_id":        job.ID,
		"job_name":      job.Name,
		"run_id":        run.ID,
		"status":        string(run.Status),
		"pages_visited": run.PagesVisited,
		"items_created": run.ItemsCreated,
		"duplicates":    run.Duplicates,
		"errors_count":  run.ErrorsCount,
		"finished_at":   run.Finished,
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.EventTopic, event); err != nil {
		r.logger.Warn("publishing run event failed",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

// buildFetcher assembles the per-run fetch client from the job's politeness
// settings.
func (r *Runner) buildFetcher(cfg scrape.JobConfig) (scrape.Fetcher, func()) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	var robots fetch.RobotsPolicy
	if cfg.RespectRobots {
		robots = r.robots
	}

	var renderer fetch.Renderer
	if cfg.RenderJS && r.newRenderer != nil {
		renderer = r.newRenderer(timeout)
	}

	client := fetch.NewClient(
		fetch.Config{
			UserAgent:   r.cfg.UserAgent,
			Timeout:     timeout,
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: r.cfg.BackoffBase,
			RenderJS:    cfg.RenderJS,
		},
		ratelimit.New(cfg.RequestsPerSecond),
		robots,
		renderer,
		r.stats,
		r.logger,
	)
	return client, client.Close
}
