package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/cache"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/config"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/events"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/handlers"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/realtime"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories/memory"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/services"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/validator"
	"github.com/SAP-F-2025/quiz-attempt-service/pkg"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("quiz-attempt-service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLogger(cfg.Environment, os.Stdout)
	log := logger.Slog()
	slog.SetDefault(log)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.CacheEnabled || cfg.LockDriver == "redis" {
		redisClient, err = pkg.NewRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	repo, err := openRepository(ctx, cfg, redisClient, log)
	if err != nil {
		return err
	}

	var locker cache.Locker
	if cfg.LockDriver == "redis" {
		locker = cache.NewRedisLocker(redisClient)
	} else {
		log.Info("Using in-process start lock; run a single replica")
		locker = cache.NewLocalLocker()
	}

	broker, err := cfg.Events.CreateEventPublisher(log)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	hub := realtime.NewHub(log)
	publisher := events.NewFanoutPublisher(broker, hub)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("Failed to close event publishers", "error", err)
		}
	}()

	v := validator.New()
	clock := services.SystemClock()
	attemptService := services.NewAttemptService(repo, locker, publisher, v, clock, cfg.Attempt, log)
	auditService := services.NewAuditService(repo, attemptService, v, clock, log)
	exportService := services.NewExportService(repo, clock, log)
	sweeper := services.NewDeadlineSweeper(attemptService, cfg.Attempt.SweepInterval, cfg.Attempt.SweepBatchSize, cfg.Attempt.OperationTimeout, log)

	checks := map[string]func(context.Context) error{"database": repo.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	manager := handlers.NewHandlerManager(
		handlers.NewAttemptHandler(attemptService, logger),
		handlers.NewReviewHandler(attemptService, exportService, logger),
		handlers.NewAuditHandler(auditService, logger),
		handlers.NewMonitorHandler(hub, checks, logger),
		handlers.NewTokenVerifier(cfg.JWTSecret),
		logger,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           manager.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openRepository picks the attempt store. The memory driver is seeded from
// FIXTURES_PATH and is meant for local runs and demos.
func openRepository(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *slog.Logger) (repositories.Repository, error) {
	switch cfg.StoreDriver {
	case "memory":
		store := memory.NewStore()
		if cfg.FixturesPath != "" {
			fx, err := repositories.LoadFixtures(cfg.FixturesPath)
			if err != nil {
				return nil, err
			}
			if err := repositories.Seed(ctx, store, fx); err != nil {
				return nil, err
			}
			log.Info("Seeded memory store", "quizzes", len(fx.Quizzes), "questions", len(fx.Questions))
		}
		return store, nil

	case "postgres":
		db, err := pkg.InitDatabase(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return nil, err
			}
		}

		var quizCache cache.CacheService
		if cfg.CacheEnabled && redisClient != nil {
			quizCache = cache.NewRedisCache(redisClient, log)
		}
		repo := postgres.NewRepository(db, quizCache, cfg.Attempt.QuizCacheTTL, log)

		if cfg.FixturesPath != "" {
			fx, err := repositories.LoadFixtures(cfg.FixturesPath)
			if err != nil {
				return nil, err
			}
			if err := repositories.Seed(ctx, repo, fx); err != nil {
				return nil, err
			}
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
