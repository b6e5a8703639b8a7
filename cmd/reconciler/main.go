package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercanta/mercanta-backend/internal/ledger"
	"github.com/mercanta/mercanta-backend/internal/notifications"
	"github.com/mercanta/mercanta-backend/internal/ops"
	"github.com/mercanta/mercanta-backend/internal/reconcile"
	"github.com/mercanta/mercanta-backend/internal/wallet"
	"github.com/mercanta/mercanta-backend/pkg/config"
	"github.com/mercanta/mercanta-backend/pkg/db"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/metrics"
	"github.com/mercanta/mercanta-backend/pkg/migrate"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
	"github.com/mercanta/mercanta-backend/pkg/redis"
)

const lockName = "reconcile"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "reconciler"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "reconciler"

	logg = logger.New(logger.Options{
		ServiceName: "reconciler",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	lock, err := reconcile.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Reconcile.LockTTL)
	requireResource(ctx, logg, "sweep lock", err)

	sweepJob, err := reconcile.NewLedgerSweepJob(reconcile.LedgerSweepJobParams{
		Logger:    logg,
		Wallets:   wallet.NewRepository(dbClient.DB()),
		Entries:   ledger.NewRepository(dbClient.DB()),
		Metrics:   ledgerMetrics,
		BatchSize: cfg.Reconcile.BatchSize,
	})
	requireResource(ctx, logg, "ledger sweep job", err)

	outboxJob, err := reconcile.NewOutboxRetentionJob(reconcile.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
	})
	requireResource(ctx, logg, "outbox retention job", err)

	cleanupJob, err := reconcile.NewNotificationCleanupJob(reconcile.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(dbClient.DB()),
	})
	requireResource(ctx, logg, "notification cleanup job", err)

	service, err := reconcile.NewService(reconcile.ServiceParams{
		Logger:   logg,
		Registry: reconcile.NewRegistry(sweepJob, outboxJob, cleanupJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Reconcile.Interval,
	})
	requireResource(ctx, logg, "reconcile service", err)

	opsServer, err := ops.NewServer(ops.ServerParams{
		Logger:   logg,
		Addr:     ":" + cfg.App.Port,
		Env:      cfg.App.Env,
		Gatherer: prometheus.DefaultGatherer,
	})
	requireResource(ctx, logg, "ops server", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	go func() {
		if err := opsServer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(runCtx, "ops server stopped unexpectedly", err)
		}
	}()

	logg.Info(runCtx, "starting reconciler")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "reconciler stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "reconciler shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
