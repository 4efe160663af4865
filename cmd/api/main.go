package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/config"
	"github.com/noah-isme/gema-assess-api/internal/database"
	"github.com/noah-isme/gema-assess-api/internal/handler"
	"github.com/noah-isme/gema-assess-api/internal/middleware"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/repository"
	"github.com/noah-isme/gema-assess-api/internal/router"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/internal/worker"
	cloud "github.com/noah-isme/gema-assess-api/pkg/cloudinary"
	"github.com/noah-isme/gema-assess-api/pkg/pdftext"
	"github.com/noah-isme/gema-assess-api/pkg/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, "gema-assess-api")
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName+" api")
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var archive service.SourceArchive
	archiveCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if archiveCfg.Enabled() {
		uploader, err := cloud.New(archiveCfg, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		archive = uploader
	} else {
		logger.Warn().Msg("cloudinary not configured; syllabus sources are not archived")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	jobQueue := queue.NewRedisQueue(redisClient, queue.Config{
		Prefix:     cfg.QueuePrefix,
		ConsumerID: cfg.WorkerConsumerID,
		Logger:     logger,
	})

	events := service.NewJobEventBus(redisClient, natsConn, cfg.EventsChannel, logger)
	events.Start(ctx)

	syllabusRepo := repository.NewSyllabusRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	jobRepo := repository.NewAIJobRepository(db)

	jobService := service.NewJobService(db, jobRepo, jobQueue, events, service.JobServiceConfig{
		MaxAttempts:    cfg.JobMaxAttempts,
		InitialBackoff: cfg.JobInitialBackoff,
	}, logger)
	sessionService := service.NewSessionService(sessionRepo, assessmentRepo, repository.NewResourceLock(db), jobService, service.SessionServiceConfig{
		InactivityTimeout: cfg.SessionInactivityTimeout,
	}, logger)
	syllabusService := service.NewSyllabusService(syllabusRepo, pdftext.New(), archive, validate, service.SyllabusServiceConfig{
		MaxFiles: cfg.UploadMaxFiles,
	}, logger)
	generationService := service.NewGenerationService(syllabusRepo, assessmentRepo, jobRepo, jobService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    32 * 1024 * 1024,
	})

	middlewareCfg := middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins}
	if cfg.AccessLog {
		middlewareCfg.AccessLog = os.Stdout
	}
	middleware.Register(app, middlewareCfg)

	deps := router.Dependencies{
		SessionHandler: handler.NewSessionHandler(sessionService, validate, logger),
		AdminHandler:   handler.NewAdminHandler(syllabusService, generationService, logger),
		JobHandler:     handler.NewJobHandler(jobService, events, 30*time.Second, logger),
		HealthProbes:   healthProbes(db, redisClient, natsConn),
		Logger:         &logger,
	}
	deps.MetricsRefreshers = []observability.Refresher{worker.QueueDepthRefresher(jobQueue)}
	if cfg.AuthEnabled() {
		deps.JWTMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	} else {
		logger.Warn().Msg("jwt secret not set; user ids are taken from requests")
	}
	router.Register(app, cfg, deps)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Str("ai_provider", cfg.AIProvider).Msg("api started")
	waitForShutdown(ctx, app, logger)
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}
	return probes
}

func waitForShutdown(ctx context.Context, app *fiber.App, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
