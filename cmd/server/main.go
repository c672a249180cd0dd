package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perkapp/settlement-service/internal/api"
	"github.com/perkapp/settlement-service/internal/channel"
	"github.com/perkapp/settlement-service/internal/config"
	"github.com/perkapp/settlement-service/internal/cooldown"
	"github.com/perkapp/settlement-service/internal/ledger"
	"github.com/perkapp/settlement-service/internal/lock"
	"github.com/perkapp/settlement-service/internal/notify"
	"github.com/perkapp/settlement-service/internal/settle"
	"github.com/perkapp/settlement-service/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Cross-process coordination primitives.
	locks := lock.NewService(redisStore.Client(), cfg.LockTTL, logger)
	gate := cooldown.NewGate(redisStore.Client())
	channels := channel.NewPool(cfg.ChannelSeeds)
	logger.Info("channel pool ready", "slots", channels.Size())

	ledgerClient := ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerTimeout, logger)
	notifier := notify.NewNotifier(
		notify.NewLogSender(logger), gate,
		cfg.UpgradeCooldown, cfg.CountryCooldown, logger,
	)

	// Background settlement pipeline.
	queue := settle.NewQueue(redisStore.Client(), logger)
	settler := settle.NewSettler(
		pgStore, settle.NewStoreAmounts(pgStore), ledgerClient,
		channels, locks, notifier, cfg.ChannelAcquireTimeout, logger,
	)
	pool := settle.NewPool(cfg.NumWorkers, settler, logger)
	dispatcher := settle.NewDispatcher(queue, pool, logger)

	workCtx, stopWork := context.WithCancel(ctx)
	pool.Start(workCtx)
	go dispatcher.Start(workCtx)

	router := api.NewRouter(api.Handlers{
		Users: api.NewUserHandler(
			pgStore, locks, ledgerClient, channels,
			cfg.ChannelAcquireTimeout, cfg.StartingBalance, logger,
		),
		Tasks:     api.NewTaskHandler(pgStore, pgStore, queue, logger),
		Offers:    api.NewOfferHandler(pgStore, locks, logger),
		Reconcile: api.NewReconcileHandler(pgStore, queue, logger),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop claiming new jobs, then let in-flight settlements finish.
	stopWork()
	pool.Stop()

	logger.Info("server stopped")
}
