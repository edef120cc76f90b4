package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/api"
	archivegcs "github.com/hbarton/webharvest/internal/archive/gcs"
	archivelocal "github.com/hbarton/webharvest/internal/archive/local"
	"github.com/hbarton/webharvest/internal/clock/system"
	"github.com/hbarton/webharvest/internal/config"
	"github.com/hbarton/webharvest/internal/dispatcher"
	"github.com/hbarton/webharvest/internal/domainstats"
	eventsmem "github.com/hbarton/webharvest/internal/events/memory"
	eventspubsub "github.com/hbarton/webharvest/internal/events/pubsub"
	"github.com/hbarton/webharvest/internal/extract"
	"github.com/hbarton/webharvest/internal/fetch"
	"github.com/hbarton/webharvest/internal/fetch/headless"
	"github.com/hbarton/webharvest/internal/id/uuid"
	"github.com/hbarton/webharvest/internal/logging"
	"github.com/hbarton/webharvest/internal/metrics"
	queuemem "github.com/hbarton/webharvest/internal/queue/memory"
	"github.com/hbarton/webharvest/internal/ratelimit"
	"github.com/hbarton/webharvest/internal/robots"
	"github.com/hbarton/webharvest/internal/runner"
	"github.com/hbarton/webharvest/internal/schedule"
	"github.com/hbarton/webharvest/internal/scrape"
	"github.com/hbarton/webharvest/internal/service"
	storagemem "github.com/hbarton/webharvest/internal/storage/memory"
	storagepg "github.com/hbarton/webharvest/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extraction service: HTTP API, workers, and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
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
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	ids := uuid.NewGenerator()
	stats := domainstats.NewRegistry()

	var (
		jobs  scrape.JobStore
		runs  scrape.RunStore
		items scrape.ItemStore
	)
	if cfg.DB.DSN != "" {
		pool, err := storagepg.Connect(ctx, storagepg.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		if jobs, err = storagepg.NewJobStore(pool); err != nil {
			return err
		}
		if runs, err = storagepg.NewRunStore(pool); err != nil {
			return err
		}
		if items, err = storagepg.NewItemStore(pool); err != nil {
			return err
		}
		logger.Info("using postgres stores")
	} else {
		jobs = storagemem.NewJobStore()
		runs = storagemem.NewRunStore()
		items = storagemem.NewItemStore()
		logger.Info("using in-memory stores")
	}

	var blobs scrape.BlobStore
	switch cfg.Archive.Backend {
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		blobs = store
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		blobs = store
	}

	var publisher scrape.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		pub, err := eventspubsub.New(client)
		if err != nil {
			return err
		}
		defer pub.Close()
		publisher = pub
	} else {
		publisher = eventsmem.New()
	}

	queue := queuemem.New(cfg.Worker.QueueDepth)
	svc := service.New(jobs, runs, queue, clock, ids, logger.Named("service"))

	robotsGate := robots.NewGate(
		time.Duration(cfg.Fetch.RobotsTTLMinutes)*time.Minute,
		logger.Named("robots"),
	)

	var rendererFactory runner.RendererFactory
	if cfg.Headless.Enabled {
		rendererFactory = func(timeout time.Duration) fetch.Renderer {
			return headless.New(headless.Config{
				UserAgent:   cfg.Fetch.UserAgent,
				NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
				SettleDelay: time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
			})
		}
	}

	run := runner.New(
		runner.Config{
			UserAgent:      cfg.Fetch.UserAgent,
			DefaultTimeout: cfg.FetchTimeout(),
			BackoffBase:    time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
			MaxRunAttempts: cfg.Worker.MaxRunAttempts,
			RetryBackoff:   time.Duration(cfg.Worker.RetryBackoffMs) * time.Millisecond,
			EventTopic:     cfg.PubSub.TopicName,
		},
		jobs, runs, items, queue, svc,
		robotsGate, stats, blobs, publisher,
		clock, ids, logger.Named("runner"), rendererFactory,
	)

	dispatch := dispatcher.New(queue, run, cfg.Worker.Concurrency, logger.Named("dispatcher"))
	sweeper := schedule.NewSweeper(jobs, runs, svc, clock, logger.Named("sweeper"),
		cfg.SweepInterval(), cfg.RunRetention())

	// Selector tests get a plain fetcher with modest limits.
	probe := fetch.NewClient(
		fetch.Config{UserAgent: cfg.Fetch.UserAgent, Timeout: cfg.FetchTimeout(), MaxRetries: 1},
		ratelimit.New(2),
		nil, nil, stats,
		logger.Named("probe"),
	)
	defer probe.Close()

	apiServer := api.NewServer(svc, probe, extract.New(logger.Named("extract")), stats,
		logger.Named("api"), api.Config{
			AuthEnabled: cfg.Auth.Enabled,
			APIKey:      cfg.Auth.APIKey,
		})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go dispatch.Start(ctx)
	go sweeper.Start(ctx)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
	return nil
}
