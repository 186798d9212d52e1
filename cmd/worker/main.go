package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"emailagent/internal/api"
	"emailagent/internal/classifier"
	"emailagent/internal/config"
	"emailagent/internal/mqhandler"
	"emailagent/internal/repository"
	"emailagent/internal/rules"
	"emailagent/internal/scheduler"
	"emailagent/internal/service"
	"emailagent/pkg/db"
	"emailagent/pkg/logger"
	"emailagent/pkg/mq"
	"emailagent/pkg/otel"
	"emailagent/pkg/outbox"
	redisclient "emailagent/pkg/redis"
	"emailagent/pkg/util"
)

const (
	classifyQueue   = "email.classify.q"
	actionQueue     = "email.classified.action.q"
	reclassifyQueue = "email.reclassify.q"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("Worker stopped with error", zap.Error(err))
	}
	zl.Info("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting classification worker...")

	shutdownOtel, err := otel.Init(cfg.Otel, logger)
	if err != nil {
		logger.Warn("OpenTelemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownOtel()
	}

	// 2. Init DB
	pool, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// 3. Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// 4. Init RabbitMQ publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// 5. Classification pipeline
	store := repository.NewStore(pool)
	gateway := classifier.NewOllamaGateway(classifier.GatewayConfig{
		Endpoint:          cfg.Model.Endpoint,
		Model:             cfg.Model.Name,
		Timeout:           cfg.Model.Timeout,
		Temperature:       cfg.Model.Temperature,
		TopP:              cfg.Model.TopP,
		RequestsPerSecond: cfg.Model.RequestsPerSecond,
		Burst:             cfg.Model.Burst,
	}, logger)
	orchestrator := service.NewOrchestrator(store, classifier.New(gateway, logger), rules.NewEngine(logger), cfg.Worker.StaleAfter, logger)
	reclassifier := service.NewReclassifier(store, 0, logger)
	maintenance := service.NewMaintenance(store, publisher, cfg.Worker.StaleAfter, cfg.Worker.QuarantineDays, logger)

	deduper := util.NewDeduper(rdb, cfg.Worker.DedupTTL, logger)
	retryCounter := util.NewRetryCounter(rdb, 24*time.Hour)

	classifyHandler := mqhandler.NewClassifyHandler(orchestrator, deduper, retryCounter, cfg.Worker.MaxRetries, logger)
	actionHandler := mqhandler.NewActionHandler(store, logger)
	reclassifyHandler := mqhandler.NewReclassifyHandler(reclassifier, deduper, logger)

	// 6. Consumers
	classifyConsumer, err := mq.NewConsumer(cfg.MQ.URL, classifyQueue, mq.RoutingEmailClassify, logger,
		mq.WithConcurrency(cfg.Worker.Concurrency))
	if err != nil {
		return err
	}
	defer classifyConsumer.Close()
	classifyConsumer.SetHandler(classifyHandler.Handle)

	actionConsumer, err := mq.NewConsumer(cfg.MQ.URL, actionQueue, mq.RoutingEmailClassified, logger)
	if err != nil {
		return err
	}
	defer actionConsumer.Close()
	actionConsumer.SetHandler(actionHandler.Handle)

	reclassifyConsumer, err := mq.NewConsumer(cfg.MQ.URL, reclassifyQueue, mq.RoutingReclassifyRequested, logger)
	if err != nil {
		return err
	}
	defer reclassifyConsumer.Close()
	reclassifyConsumer.SetHandler(reclassifyHandler.Handle)

	// 7. Outbox dispatcher
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(pool), publisher, logger).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)

	// 8. Scheduled maintenance
	sched := scheduler.New(logger)
	jobs := []scheduler.Job{
		{Name: "stale_sweep", Spec: cfg.Worker.SweepSchedule, Run: func(ctx context.Context) error {
			_, err := maintenance.SweepStale(ctx)
			return err
		}},
		{Name: "quarantine_purge", Spec: cfg.Worker.CleanupSchedule, Run: func(ctx context.Context) error {
			_, err := maintenance.PurgeQuarantine(ctx)
			return err
		}},
		{Name: "daily_stats", Spec: cfg.Worker.StatsSchedule, Run: func(ctx context.Context) error {
			_, err := maintenance.RecordStats(ctx)
			return err
		}},
		{Name: "optimize_db", Spec: cfg.Worker.OptimizeSchedule, Run: maintenance.OptimizeDatabase},
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	// 9. Health + metrics
	health := api.NewHealthHandler(api.HealthChecks{
		"database": db.PingCheck(pool, time.Second),
		"redis":    redisclient.PingCheck(rdb, time.Second),
		"rabbitmq": publisher.HealthCheck,
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           api.HealthMux(health, promhttp.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return classifyConsumer.Start(gctx) })
	g.Go(func() error { return actionConsumer.Start(gctx) })
	g.Go(func() error { return reclassifyConsumer.Start(gctx) })
	g.Go(func() error { return dispatcher.Start(gctx) })
	g.Go(func() error { return sched.Start(gctx) })
	g.Go(func() error { return api.Serve(gctx, metricsServer) })

	logger.Info("All consumers started, worker is ready to process messages",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.String("model", cfg.Model.Name),
	)

	return g.Wait()
}
