package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	archivelocal "github.com/hbarton/webharvest/internal/archive/local"
	"github.com/hbarton/webharvest/internal/clock/system"
	"github.com/hbarton/webharvest/internal/config"
	"github.com/hbarton/webharvest/internal/domainstats"
	"github.com/hbarton/webharvest/internal/fetch"
	"github.com/hbarton/webharvest/internal/fetch/headless"
	"github.com/hbarton/webharvest/internal/id/uuid"
	"github.com/hbarton/webharvest/internal/logging"
	queuemem "github.com/hbarton/webharvest/internal/queue/memory"
	"github.com/hbarton/webharvest/internal/robots"
	"github.com/hbarton/webharvest/internal/runner"
	"github.com/hbarton/webharvest/internal/scrape"
	"github.com/hbarton/webharvest/internal/service"
	storagemem "github.com/hbarton/webharvest/internal/storage/memory"
)

type jobFile struct {
	Name   string           `json:"name"`
	Config scrape.JobConfig `json:"config"`
}

func newRunCmd() *cobra.Command {
	var snapshotDir string
	cmd := &cobra.Command{
		Use:   "run <job-file.json>",
		Short: "Execute one job from a file and print extracted items as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), args[0], snapshotDir)
		},
	}
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "archive fetched pages under this directory")
	return cmd
}

// runOnce executes a job synchronously against in-memory stores. It is the
// development path: same pipeline as serve, no database or queue workers.
func runOnce(parent context.Context, path, snapshotDir string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}
	var jf jobFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return fmt.Errorf("parse job file: %w", err)
	}
	if err := jf.Config.Validate(); err != nil {
		return fmt.Errorf("invalid job config: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	ids := uuid.NewGenerator()
	jobs := storagemem.NewJobStore()
	runs := storagemem.NewRunStore()
	items := storagemem.NewItemStore()
	queue := queuemem.New(1)
	svc := service.New(jobs, runs, queue, clock, ids, logger.Named("service"))

	var blobs scrape.BlobStore
	if snapshotDir != "" {
		store, err := archivelocal.New(archivelocal.Config{BaseDir: snapshotDir})
		if err != nil {
			return fmt.Errorf("init snapshot archive: %w", err)
		}
		blobs = store
	}

	var rendererFactory runner.RendererFactory
	if jf.Config.RenderJS {
		rendererFactory = func(timeout time.Duration) fetch.Renderer {
			return headless.New(headless.Config{
				UserAgent:   cfg.Fetch.UserAgent,
				NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
				SettleDelay: time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
			})
		}
	}

	robotsGate := robots.NewGate(
		time.Duration(cfg.Fetch.RobotsTTLMinutes)*time.Minute,
		logger.Named("robots"),
	)

	run := runner.New(
		runner.Config{
			UserAgent:      cfg.Fetch.UserAgent,
			DefaultTimeout: cfg.FetchTimeout(),
			BackoffBase:    time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
			EventTopic:     cfg.PubSub.TopicName,
		},
		jobs, runs, items, queue, svc,
		robotsGate, domainstats.NewRegistry(), blobs, nil,
		clock, ids, logger.Named("runner"), rendererFactory,
	)

	job, err := svc.CreateJob(ctx, scrape.Job{Name: jf.Name, Config: jf.Config})
	if err != nil {
		return err
	}
	runID, err := svc.RunNow(ctx, job.ID)
	if err != nil {
		return err
	}
	item, err := queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	if err := run.Execute(ctx, item); err != nil {
		return err
	}

	result, err := runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	extracted, err := items.ListItems(ctx, job.ID)
	if err != nil {
		return err
	}

	logger.Info("run finished",
		zap.String("status", string(result.Status)),
		zap.Int("pages_visited", result.PagesVisited),
		zap.Int("items_created", result.ItemsCreated),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("errors", result.ErrorsCount),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{"run": result, "items": extracted}); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if result.Status == scrape.RunStatusFailed {
		return fmt.Errorf("run failed: %s", result.ErrorText)
	}
	return nil
}
