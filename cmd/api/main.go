package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trybe-fintech/reconciler-backend/internal/anomaly"
	"github.com/trybe-fintech/reconciler-backend/internal/api"
	"github.com/trybe-fintech/reconciler-backend/internal/config"
	"github.com/trybe-fintech/reconciler-backend/internal/db"
	"github.com/trybe-fintech/reconciler-backend/internal/logger"
	"github.com/trybe-fintech/reconciler-backend/internal/metrics"
	"github.com/trybe-fintech/reconciler-backend/internal/monitor"
	"github.com/trybe-fintech/reconciler-backend/internal/repository/postgres"
	"github.com/trybe-fintech/reconciler-backend/internal/services"
	"github.com/trybe-fintech/reconciler-backend/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	metrics.Init()

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(cfg.WorkerCount)
	defer wp.Stop()

	retrySvc := services.NewRetryService(repos.Transactions, cfg.MaxRetries)
	walletSvc := services.NewWalletService(repos.Wallets)
	reportSvc := services.NewReportService(repos.Reports)
	querySvc := services.NewQueryService(repos.Transactions)
	scorer := anomaly.NewRuleScorer(cfg.FloatingThresholdMinutes)
	reconcileSvc := services.NewReconcileService(
		repos.Transactions, retrySvc, walletSvc, reportSvc, scorer, log,
		cfg.RetryPollInterval, cfg.RetryPollTimeout, time.Now,
	)

	mon := monitor.New(repos.Transactions, reconcileSvc, wp, log,
		cfg.MonitorInterval, cfg.MonitorBatchSize, time.Now)
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		mon.Run(ctx)
	}()

	r := api.NewRouter(api.RouterDeps{
		Cfg:       cfg,
		Queries:   querySvc,
		Reconcile: reconcileSvc,
		Wallets:   walletSvc,
		Reports:   reportSvc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "max_retries", cfg.MaxRetries)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// No Submit may race the pool close: the monitor must have returned
	// before the deferred wp.Stop() runs.
	<-monDone
}
