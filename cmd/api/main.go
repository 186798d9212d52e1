package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"emailagent/internal/api"
	"emailagent/internal/classifier"
	"emailagent/internal/config"
	"emailagent/internal/repository"
	"emailagent/internal/rules"
	"emailagent/internal/service"
	"emailagent/pkg/db"
	"emailagent/pkg/logger"
	"emailagent/pkg/mq"
	"emailagent/pkg/otel"
	"emailagent/pkg/outbox"
	redisclient "emailagent/pkg/redis"
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
		zl.Fatal("API server stopped with error", zap.Error(err))
	}
	zl.Info("API server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
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

	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// 3. Init RabbitMQ publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// 4. Services
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
	replay := outbox.NewReplayService(outbox.NewRepository(pool), publisher)

	// 5. Handlers + router
	health := api.NewHealthHandler(api.HealthChecks{
		"database": db.PingCheck(pool, time.Second),
		"redis":    redisclient.PingCheck(rdb, time.Second),
		"rabbitmq": publisher.HealthCheck,
	})
	router := api.NewRouter(
		api.NewClassificationHandler(orchestrator, store, publisher, logger),
		api.NewStatsHandler(store, logger),
		api.NewAdminHandler(replay, store.Logs, logger),
		health,
		cfg.JWT.Secret,
		logger,
	)

	logger.Info("Starting API server", zap.String("port", cfg.Server.Port))
	return router.Run(ctx, ":"+cfg.Server.Port)
}
