package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assess-api/internal/config"
	"github.com/noah-isme/gema-assess-api/internal/database"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/repository"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/internal/worker"
	"github.com/noah-isme/gema-assess-api/pkg/ai"
	"github.com/noah-isme/gema-assess-api/pkg/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, "gema-assess-worker")
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+" worker")
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create ai gateway: %v", err)
	}

	jobQueue := queue.NewRedisQueue(redisClient, queue.Config{
		Prefix:       cfg.QueuePrefix,
		ConsumerID:   cfg.WorkerConsumerID,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		Logger:       logger,
	})

	events := service.NewJobEventBus(redisClient, natsConn, cfg.EventsChannel, logger)

	syllabusRepo := repository.NewSyllabusRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	jobRepo := repository.NewAIJobRepository(db)

	jobService := service.NewJobService(db, jobRepo, jobQueue, events, service.JobServiceConfig{
		MaxAttempts:    cfg.JobMaxAttempts,
		InitialBackoff: cfg.JobInitialBackoff,
	}, logger)

	runner := worker.NewRunner(jobQueue, jobService, logger)
	runner.Register(models.JobTypeGeneration, worker.NewGenerationWorker(jobService, syllabusRepo, assessmentRepo, gateway, logger))
	runner.Register(models.JobTypeEvaluation, worker.NewEvaluationWorker(jobService, sessionRepo, gateway, logger))

	reconciler := worker.NewReconciler(jobService, cfg.ReconcileInterval, cfg.ReconcilePendingAfter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := fiber.New(fiber.Config{AppName: cfg.AppName + " worker", DisableStartupMessage: true})
	metrics.Get("/metrics", observability.MetricsHandler(logger, worker.QueueDepthRefresher(jobQueue)))
	go func() {
		if err := metrics.Listen(metricsAddress(cfg.WorkerMetricsPort)); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	logger.Info().
		Str("ai_provider", cfg.AIProvider).
		Str("consumer_id", cfg.WorkerConsumerID).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("worker started")

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	}

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metrics.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}

	logger.Info().Msg("worker stopped")
}

func newGateway(cfg config.Config, logger zerolog.Logger) (ai.Gateway, error) {
	if cfg.AIProvider != "openai" {
		logger.Warn().Str("ai_provider", cfg.AIProvider).Msg("using offline mock ai gateway")
		return ai.NewMockGateway(), nil
	}

	return ai.NewOpenAIGateway(ai.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.AIModel,
		MaxTokens:   cfg.AIMaxTokens,
		Temperature: 0.2,
		Timeout:     cfg.AITimeout,
		Logger:      logger,
	})
}

func metricsAddress(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}
