package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/config"
	"github.com/stemsi/exstem-groupexam/internal/database"
	"github.com/stemsi/exstem-groupexam/internal/handler"
	"github.com/stemsi/exstem-groupexam/internal/logger"
	"github.com/stemsi/exstem-groupexam/internal/middleware"
	"github.com/stemsi/exstem-groupexam/internal/repository"
	"github.com/stemsi/exstem-groupexam/internal/router"
	"github.com/stemsi/exstem-groupexam/internal/service"
	"github.com/stemsi/exstem-groupexam/internal/upstream"
	"github.com/stemsi/exstem-groupexam/internal/validator"
	"github.com/stemsi/exstem-groupexam/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Bool("monitor", cfg.MonitorEnabled).
		Msg("Starting ExStem group exam agent")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	var pool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		p, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer p.Close()
		pool = p
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		c, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer c.Close()
		rdb = c
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	var states repository.StateRepository
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		states = repository.NewRedisStateRepository(rdb, cfg.StateTTL)
	case config.StoreDriverPostgres:
		states = repository.NewPostgresStateRepository(pool)
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory state store; progress is lost on restart")
		states = repository.NewMemoryStateRepository()
	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("Unknown STORE_DRIVER")
	}

	// ─── Upstream Client ───────────────────────────────────────────────
	base := upstream.NewBaseClient(cfg.BackendURL, cfg.BackendTimeout)
	client := upstream.NewGroupTestClient(base, cfg.BackendToken, log)

	var credentialsExpiry time.Time
	if cfg.BackendToken != "" {
		exp, err := upstream.TokenExpiry(cfg.BackendToken)
		if err != nil {
			log.Warn().Err(err).Msg("Could not read backend token expiry")
		} else {
			credentialsExpiry = exp
			log.Info().Time("expires_at", exp).Msg("Backend token loaded")
		}
	}

	// ─── Initialize Services ──────────────────────────────────────────
	clock := clockwork.NewRealClock()
	manager := service.NewGroupTestManager(service.Deps{
		Clock:             clock,
		Fetcher:           client,
		Submitter:         client,
		States:            states,
		SubmitTimeout:     cfg.SubmitTimeout,
		CredentialsExpiry: credentialsExpiry,
		Log:               log,
	})

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	if cfg.MonitorEnabled {
		publisher := service.NewMonitorPublisher(rdb, clock, service.DefaultMonitorBuffer, log)
		manager.OnOpen(publisher.Attach)
		go publisher.Run(workerCtx)

		if pool != nil {
			eventWorker := worker.NewEventWorker(repository.NewGroupTestEventRepository(pool), rdb, log)
			go eventWorker.Start(workerCtx)
		}
	}

	limiter := middleware.NewRateLimiter(clock, 20, time.Second)
	go func() {
		ticker := clock.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.Chan():
				limiter.Sweep(5 * time.Minute)
			}
		}
	}()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		GroupTest: handler.NewGroupTestHandler(manager, log),
		WS:        handler.NewWSHandler(manager, log, cfg.AllowedOrigins),
	}
	if cfg.MonitorEnabled {
		handlers.Monitor = handler.NewMonitorHandler(rdb, manager, log)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	// 2. Stop countdowns. Persisted answers survive for the next start.
	manager.CloseAll()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
