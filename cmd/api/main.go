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

	"github.com/evalhub/assess-go-api/internal/config"
	"github.com/evalhub/assess-go-api/internal/database"
	"github.com/evalhub/assess-go-api/internal/grading"
	"github.com/evalhub/assess-go-api/internal/handler"
	"github.com/evalhub/assess-go-api/internal/middleware"
	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/internal/repository"
	"github.com/evalhub/assess-go-api/internal/router"
	"github.com/evalhub/assess-go-api/internal/service"
	"github.com/evalhub/assess-go-api/pkg/ai"
	"github.com/evalhub/assess-go-api/pkg/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Assessment{},
		&models.Question{},
		&models.RubricCriterion{},
		&models.Submission{},
		&models.GradeHistory{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis url not configured, statistics caching disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	} else {
		logger.Warn().Msg("nats url not configured, grading events disabled")
	}

	runner, err := buildSandbox(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise sandbox: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assessmentRepo := repository.NewAssessmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	codeRunner := grading.NewCodeRunner(runner, grading.CodeRunnerConfig{
		Workers:     cfg.CodeRunWorkers,
		CaseTimeout: cfg.ExecutionTimeout,
	}, logger)
	grader := grading.NewGrader(codeRunner, logger)
	resolver := grading.NewLatePolicyResolver(grading.DefaultLatePolicy())
	locks := service.NewSubmissionLocks()

	var events service.EventPublisher = service.NopPublisher{}
	if natsConn != nil {
		events = service.NewNATSPublisher(natsConn, "", logger)
	}

	var assistant ai.Assistant
	if cfg.OpenAIAPIKey != "" {
		assistant, err = ai.NewOpenAIAssistant(ai.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Logger: logger})
		if err != nil {
			log.Fatalf("failed to initialise feedback assistant: %v", err)
		}
	}

	statsService := service.NewStatsService(submissionRepo, assessmentRepo, redisClient, cfg.StatsCacheTTL, logger)
	attemptService := service.NewAttemptService(submissionRepo, assessmentRepo, resolver, locks, validate, events, logger)
	gradingService := service.NewGradingService(submissionRepo, assessmentRepo, grader, resolver, locks, validate, events, statsService, logger)
	reviewService := service.NewReviewService(submissionRepo, assessmentRepo, locks, validate, events, statsService, logger)
	suggestionService := service.NewSuggestionService(submissionRepo, assessmentRepo, assistant, logger)

	submissionHandler := handler.NewSubmissionHandler(attemptService, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, reviewService, suggestionService, logger)
	statsHandler := handler.NewStatsHandler(statsService, logger)
	eventsHandler := handler.NewEventsHandler(natsConn, "", logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: submissionHandler,
		GradingHandler:    gradingHandler,
		StatsHandler:      statsHandler,
		EventsHandler:     eventsHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func buildSandbox(cfg config.Config, logger zerolog.Logger) (sandbox.Runner, error) {
	switch cfg.SandboxBackend {
	case config.SandboxBackendPiston:
		return sandbox.NewPistonRunner(sandbox.PistonConfig{
			BaseURL: cfg.PistonURL,
			Timeout: cfg.ExecutionTimeout,
			Logger:  logger,
		})
	case config.SandboxBackendNone:
		logger.Warn().Msg("sandbox disabled, coding questions will score zero")
		return sandbox.Disabled{}, nil
	default:
		return sandbox.NewDockerRunner(sandbox.DockerConfig{
			Host:          cfg.DockerHost,
			Timeout:       cfg.ExecutionTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
	}
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
