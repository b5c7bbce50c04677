// Package main wires together the storecrawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/agentpool"
	"github.com/hbkim/storecrawl/internal/api"
	"github.com/hbkim/storecrawl/internal/batch"
	"github.com/hbkim/storecrawl/internal/blob"
	blobgcs "github.com/hbkim/storecrawl/internal/blob/gcs"
	bloblocal "github.com/hbkim/storecrawl/internal/blob/local"
	"github.com/hbkim/storecrawl/internal/clock/system"
	"github.com/hbkim/storecrawl/internal/config"
	"github.com/hbkim/storecrawl/internal/crawl"
	"github.com/hbkim/storecrawl/internal/hash/sha256"
	"github.com/hbkim/storecrawl/internal/id/uuid"
	"github.com/hbkim/storecrawl/internal/logging"
	"github.com/hbkim/storecrawl/internal/metrics"
	"github.com/hbkim/storecrawl/internal/outbox"
	pubsubpublisher "github.com/hbkim/storecrawl/internal/publisher/pubsub"
	queuememory "github.com/hbkim/storecrawl/internal/queue/memory"
	"github.com/hbkim/storecrawl/internal/scheduler"
	"github.com/hbkim/storecrawl/internal/storage/backup"
	storagememory "github.com/hbkim/storecrawl/internal/storage/memory"
	"github.com/hbkim/storecrawl/internal/storage/postgres"
	"github.com/hbkim/storecrawl/internal/task"
	"github.com/hbkim/storecrawl/internal/worker"
)

type stores struct {
	tasks   task.Store
	sellers task.SellerStore
	items   task.ItemStore
	results task.ResultStore
	outbox  outbox.Store
	pinger  api.Pinger
	close   func()
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	st, err := buildStores(ctx, cfg, idGen, clock, logger)
	if err != nil {
		return err
	}
	defer st.close()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	results := backup.New(st.results, blobStore, backup.Config{
		Prefix:      cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	}, logger.Named("backup"))

	pool, err := agentpool.New(agentpool.Config{
		HourlyQuota: cfg.Agent.HourlyQuota,
		Validity:    time.Duration(cfg.Agent.ValidityMinutes) * time.Minute,
		Backoff:     time.Duration(cfg.Agent.BackoffMinutes) * time.Minute,
		RPS:         cfg.Agent.RPS,
		Burst:       cfg.Agent.Burst,
	}, clock, logger.Named("agentpool"))
	if err != nil {
		return fmt.Errorf("build agent pool: %w", err)
	}

	endpoints := task.Endpoints{
		BaseURL:  cfg.Crawler.BaseURL,
		PageSize: cfg.Crawler.PageSize,
	}
	fetcher := crawl.New(crawl.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.CrawlTimeout(),
		RPS:       cfg.Crawler.RPS,
		Burst:     cfg.Crawler.Burst,
	})

	strategies := task.NewStrategies(task.Deps{
		Store:     st.tasks,
		Sellers:   st.sellers,
		Items:     st.items,
		Results:   results,
		Pool:      pool,
		Crawler:   fetcher,
		Hasher:    hasher,
		IDs:       idGen,
		Clock:     clock,
		Endpoints: endpoints,
		Logger:    logger.Named("strategy"),
	})
	orchestrator := task.NewOrchestrator(st.tasks, clock, logger.Named("orchestrator"), strategies...)

	taskQueue := queuememory.NewQueue(cfg.Worker.QueueDepth)
	queuePublisher, closePublisher, err := buildQueuePublisher(ctx, cfg, taskQueue, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	publisher := outbox.NewPublisher(st.outbox, queuePublisher, st.tasks, clock, outbox.PublisherConfig{
		Topic:     cfg.PubSub.TopicName,
		BatchSize: cfg.Outbox.BatchSize,
	}, logger.Named("publisher"))
	outboxTimeouts := outbox.NewTimeoutRecoverer(st.outbox, clock, outbox.TimeoutRecovererConfig{
		BatchSize: cfg.Outbox.BatchSize,
		Timeout:   cfg.OutboxProcessingTimeout(),
	}, logger.Named("outbox_timeout"))
	outboxFailed := outbox.NewFailedRecoverer(st.outbox, clock, outbox.FailedRecovererConfig{
		BatchSize: cfg.Outbox.BatchSize,
		Delay:     cfg.OutboxFailedRetryDelay(),
		MaxRetry:  cfg.Outbox.MaxRetryCount,
	}, logger.Named("outbox_failed"))
	taskRecoverer := task.NewRecoverer(st.tasks, clock, task.RecovererConfig{
		BatchSize:    cfg.Task.BatchSize,
		StuckTimeout: cfg.TaskStuckTimeout(),
		FailedDelay:  cfg.TaskFailedRetryDelay(),
		MaxRetry:     cfg.Task.MaxRetryCount,
	}, logger.Named("task_recovery"))
	trigger := task.NewTriggerService(st.tasks, st.sellers, idGen, clock, endpoints, logger.Named("trigger"))

	sched := scheduler.New(cfg.Scheduler, logger.Named("scheduler"))
	if err := registerJobs(sched, publisher, outboxTimeouts, outboxFailed, taskRecoverer, trigger, pool); err != nil {
		return fmt.Errorf("register scheduled jobs: %w", err)
	}

	workers := worker.New(taskQueue, orchestrator, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
	}, logger.Named("worker"))

	apiServer := api.NewServer(trigger, st.tasks, st.pinger, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		logger.Info("workers started", zap.Int("concurrency", cfg.Worker.Concurrency))
		workers.Run(ctx)
	}()

	sched.Start()
	logger.Info("scheduler started")

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			// Trigger shutdown of the rest of the process.
			_ = srv.Close()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Stop()
	taskQueue.Close()
	<-workersDone
	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, idGen task.IDGenerator, clock task.Clock, logger *zap.Logger) (stores, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using in-memory stores")
		mem := storagememory.NewStore(idGen)
		return stores{
			tasks:   mem,
			sellers: mem,
			items:   mem,
			results: mem,
			outbox:  mem,
			close:   func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMinute) * time.Minute,
	})
	if err != nil {
		return stores{}, fmt.Errorf("connect database: %w", err)
	}
	taskStore, err := postgres.NewTaskStore(pool, idGen)
	if err != nil {
		return stores{}, err
	}
	outboxStore, err := postgres.NewOutboxStore(pool)
	if err != nil {
		return stores{}, err
	}
	resultStore, err := postgres.NewResultStore(pool, clock)
	if err != nil {
		return stores{}, err
	}
	return stores{
		tasks:   taskStore,
		sellers: taskStore,
		items:   taskStore,
		results: resultStore,
		outbox:  outboxStore,
		pinger:  pool,
		close:   pool.Close,
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return blobgcs.New(client, blobgcs.Config{Bucket: cfg.Storage.GCSBucket})
	case cfg.Storage.LocalDir != "":
		return bloblocal.New(bloblocal.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return blob.NoOp{}, nil
	}
}

// buildQueuePublisher selects the outbox delivery backend: Pub/Sub when a
// project is configured, otherwise the in-process queue the local workers
// consume.
func buildQueuePublisher(ctx context.Context, cfg config.Config, local *queuememory.Queue, logger *zap.Logger) (outbox.QueuePublisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("publishing tasks to in-process queue")
		return local, func() {}, nil
	}
	pub, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pubsub: %w", err)
	}
	closeFn := func() {
		if err := pub.Close(); err != nil {
			logger.Error("close pubsub publisher failed", zap.Error(err))
		}
	}
	return pub, closeFn, nil
}

func registerJobs(
	sched *scheduler.Scheduler,
	publisher *outbox.Publisher,
	outboxTimeouts *outbox.TimeoutRecoverer,
	outboxFailed *outbox.FailedRecoverer,
	taskRecoverer *task.Recoverer,
	trigger *task.TriggerService,
	pool *agentpool.Pool,
) error {
	if err := sched.RegisterPublisher(scheduler.BatchJobFunc(func(ctx context.Context) (batch.Result, error) {
		res, err := publisher.PublishPending(ctx)
		metrics.ObserveOutboxPass(res)
		return res, err
	})); err != nil {
		return err
	}
	if err := sched.RegisterOutboxTimeoutSweep(scheduler.BatchJobFunc(func(ctx context.Context) (batch.Result, error) {
		res, err := outboxTimeouts.Run(ctx)
		metrics.ObserveRecoveryPass("outbox_timeout", res)
		return res, err
	})); err != nil {
		return err
	}
	if err := sched.RegisterOutboxFailedSweep(scheduler.BatchJobFunc(func(ctx context.Context) (batch.Result, error) {
		res, err := outboxFailed.Run(ctx)
		metrics.ObserveRecoveryPass("outbox_failed", res)
		return res, err
	})); err != nil {
		return err
	}
	if err := sched.RegisterTaskRecovery(scheduler.BatchJobFunc(func(ctx context.Context) (batch.Result, error) {
		res, err := taskRecoverer.Run(ctx)
		metrics.ObserveRecoveryPass("task_recovery", res)
		return res, err
	})); err != nil {
		return err
	}
	if err := sched.RegisterDailyTrigger(trigger); err != nil {
		return err
	}
	return sched.RegisterAgentRecovery(pool)
}
