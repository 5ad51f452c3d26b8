package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/api"
	"github.com/notifyhub/modqueue-notifier/internal/api/handler"
	"github.com/notifyhub/modqueue-notifier/internal/buffer"
	"github.com/notifyhub/modqueue-notifier/internal/cache"
	"github.com/notifyhub/modqueue-notifier/internal/config"
	"github.com/notifyhub/modqueue-notifier/internal/db"
	"github.com/notifyhub/modqueue-notifier/internal/dedup"
	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
	"github.com/notifyhub/modqueue-notifier/internal/metrics"
	"github.com/notifyhub/modqueue-notifier/internal/overflow"
	"github.com/notifyhub/modqueue-notifier/internal/provider"
	"github.com/notifyhub/modqueue-notifier/internal/ratelimiter"
	"github.com/notifyhub/modqueue-notifier/internal/service"
	"github.com/notifyhub/modqueue-notifier/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// A missing .env is normal in production; the environment is used as is.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to read .env", zap.Error(err))
	}

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	settings := cfg.Settings
	if len(settings().EnabledPlatforms()) == 0 {
		logger.Warn("no platform enabled; flushes will be dropped")
	}

	// ---- store ----
	ctx := context.Background()
	var (
		store   kvstore.Store
		pinger  handler.Pinger
		runners []worker.Runner
	)

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")

		pg := kvstore.NewPgStore(pool)
		store, pinger = pg, pool
		runners = append(runners, worker.NewSweepWorker(pg, cfg.SweepInterval, logger))
	default:
		store = kvstore.NewMemoryStore()
		logger.Warn("using in-memory store; dedup marks and buffer are lost on restart")
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	titles := provider.NewRedditTitleFetcher(cfg.RedditBaseURL, cfg.UserAgent, cfg.ProviderTimeout)
	gifs := provider.NewGiphyClient(cfg.GiphyBaseURL, cfg.GiphyEndpoint, cfg.ProviderTimeout)

	pipeline := service.NewPipeline(service.Deps{
		Store:      store,
		Dedup:      dedup.NewTracker(store, logger),
		Cache:      cache.New(store, titles, gifs, logger),
		Buffer:     buffer.New(store, cfg.BufferTTL, logger),
		Gate:       overflow.NewGate(store, logger),
		Dispatcher: provider.NewWebhookDispatcher(cfg.ProviderTimeout, logger),
		Limiter:    ratelimiter.New(cfg.InterBatchDelay),
		Hooks:      m.PipelineHooks(),
	}, logger)

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	runners = append(runners, worker.NewFlushWorker(pipeline, settings, cfg.FlushInterval, logger))
	workers := worker.NewPool(runners...)
	workers.Start(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Pipeline: pipeline,
		Settings: settings,
		Backend:  cfg.StoreBackend,
		Store:    pinger,
		Gatherer: reg,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreBackend),
			zap.Duration("flush_interval", cfg.FlushInterval),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP triggers.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the tickers.
	cancelWorkers()

	// 3. Wait for an in-flight flush or sweep to return.
	workers.Wait()

	logger.Info("server stopped cleanly")
}
