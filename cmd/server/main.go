package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/capture"
	"github.com/stemsi/clonearena-backend/internal/config"
	"github.com/stemsi/clonearena-backend/internal/database"
	"github.com/stemsi/clonearena-backend/internal/events"
	"github.com/stemsi/clonearena-backend/internal/grading"
	"github.com/stemsi/clonearena-backend/internal/handler"
	"github.com/stemsi/clonearena-backend/internal/logger"
	"github.com/stemsi/clonearena-backend/internal/repository"
	"github.com/stemsi/clonearena-backend/internal/router"
	"github.com/stemsi/clonearena-backend/internal/service"
	"github.com/stemsi/clonearena-backend/internal/store"
	"github.com/stemsi/clonearena-backend/internal/validator"
	"github.com/stemsi/clonearena-backend/internal/worker"
)

const reaperInterval = 5 * time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting CloneArena Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Load Challenge Catalog ────────────────────────────────────────
	challengeRepo, err := repository.LoadChallengeRepository(cfg.ChallengesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.ChallengesFile).Msg("Failed to load challenge catalog")
	}
	log.Info().Int("count", len(challengeRepo.List())).Msg("Challenge catalog loaded")

	// ─── Open Grade Audit Database ─────────────────────────────────────
	auditDB, err := database.OpenSQLite(ctx, cfg.AuditDBPath, repository.GradeAuditSchema, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open grade audit database")
	}
	defer auditDB.Close()
	auditRepo := repository.NewGradeAuditRepository(auditDB)

	// ─── Connect Session Store ─────────────────────────────────────────
	var (
		rdb       *redis.Client
		backend   store.Backend
		bus       events.Bus
		auditSink grading.AuditSink
	)
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		backend = store.NewRedisBackend(rdb)
		bus = events.NewRedisBus(rdb, log)
		auditSink = grading.NewRedisAuditSink(rdb)

	case config.StoreDriverSQLite:
		sessionDB, err := database.OpenSQLite(ctx, cfg.SQLitePath, store.SQLiteSchema, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open SQLite session store")
		}
		defer sessionDB.Close()
		sqliteBackend := store.NewSQLiteBackend(sessionDB)
		if n, err := sqliteBackend.PurgeExpired(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to purge expired session rows")
		} else if n > 0 {
			log.Info().Int64("count", n).Msg("Purged expired session rows")
		}
		backend = sqliteBackend
		bus = events.NewLocalBus(log)
		auditSink = grading.NewDirectAuditSink(auditRepo)

	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("Unknown STORE_DRIVER")
	}

	sessionStore := store.New(backend, log, store.Options{
		MaxAge:    cfg.SessionMaxAge,
		Retention: cfg.SessionRetention,
	})
	if n := sessionStore.ClearExpiredSessions(ctx); n > 0 {
		log.Info().Int("count", n).Msg("Cleared expired prompt score sessions")
	}

	// ─── Initialize Grading ────────────────────────────────────────────
	var visionModel grading.VisionModel
	if cfg.GeminiAPIKey != "" {
		m, err := grading.NewGenAIModel(ctx, cfg.GeminiAPIKey, cfg.GradingModel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create grading model client")
		}
		visionModel = m
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, every grading request will fall back")
	}
	grader := grading.NewGrader(visionModel, auditSink, log)
	gradingClient := grading.NewClient(grading.ClientConfig{
		GradeURL:     cfg.GradingURL,
		AssetBaseURL: cfg.AssetBaseURL,
		Timeout:      cfg.GradingTimeout,
	}, log)

	// ─── Initialize Services ──────────────────────────────────────────
	captureSource := capture.NewRodSource(capture.RodConfig{
		ControlURL: cfg.BrowserControlURL,
		Bin:        cfg.BrowserBin,
		Headless:   cfg.BrowserHeadless,
	}, log)

	tabService := service.NewTabService(cfg.JWTSecret, cfg.TabTokenExpiry)
	challengeService := service.NewChallengeService(challengeRepo, sessionStore, log)
	attemptService := service.NewAttemptService(challengeRepo, sessionStore, gradingClient, bus, captureSource, service.AttemptConfig{
		WorkbenchURL:  cfg.WorkbenchURL,
		ScreenshotDir: cfg.ScreenshotDir,
		DisplayDelay:  cfg.SubmitDisplayDelay,
		MaxAge:        cfg.SessionMaxAge,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Tab:       handler.NewTabHandler(tabService, log),
		Challenge: handler.NewChallengeHandler(challengeService),
		Attempt:   handler.NewAttemptHandler(attemptService, log),
		Grade:     handler.NewGradeHandler(grader, cfg.MaxUploadBytes, log),
		WS:        handler.NewWSHandler(attemptService, bus, log, cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(rdb, attemptService, cfg.StoreDriver, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	go func() {
		defer close(workersDone)
		if rdb == nil {
			return
		}
		worker.NewAuditWorker(auditRepo, rdb, log).Start(workerCtx)
	}()
	go attemptService.RunReaper(workerCtx, reaperInterval)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, tabService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close every attempt: timers stop and browsers are released.
	attemptService.Shutdown()

	// 3. Stop background workers and wait for the audit queue to drain.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(6 * time.Second):
		log.Warn().Msg("Audit worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
