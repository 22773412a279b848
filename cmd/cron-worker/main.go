package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/muzafey/storefront-backend/internal/coupons"
	"github.com/muzafey/storefront-backend/internal/cron"
	"github.com/muzafey/storefront-backend/internal/inventory"
	"github.com/muzafey/storefront-backend/internal/notifications"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/reconciliation"
	"github.com/muzafey/storefront-backend/internal/transactions"
	"github.com/muzafey/storefront-backend/pkg/config"
	"github.com/muzafey/storefront-backend/pkg/db"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/mailer"
	"github.com/muzafey/storefront-backend/pkg/metrics"
	"github.com/muzafey/storefront-backend/pkg/migrate"
	"github.com/muzafey/storefront-backend/pkg/outbox"
	"github.com/muzafey/storefront-backend/pkg/pesapal"
	"github.com/muzafey/storefront-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	reconcileMetrics := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)
	gateway, err := pesapal.NewClient(cfg.Pesapal, logg, pesapal.WithObserver(reconcileMetrics))
	if err != nil {
		logg.Error(context.Background(), "failed to create pesapal client", err)
		os.Exit(1)
	}
	orderLocks, err := redis.NewKeyedMutex(redisClient, "order", cfg.Reconcile.OrderLockTTL, 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create order lock", err)
		os.Exit(1)
	}
	notifier := notifications.NewNotifier(mailer.New(cfg.Email, logg), logg, cfg.Email.SendTimeout)
	defer notifier.Wait()

	gormDB := dbClient.DB()
	outboxRepo := outbox.NewRepository(gormDB)
	engine, err := reconciliation.NewEngine(reconciliation.Params{
		DB:           dbClient,
		Orders:       orders.NewRepository(gormDB),
		Inventory:    inventory.NewStore(gormDB),
		Coupons:      coupons.NewRepository(gormDB),
		Transactions: transactions.NewRepository(gormDB),
		Outbox:       outbox.NewService(outboxRepo, logg),
		Gateway:      gateway,
		Locker:       orderLocks,
		Notifier:     notifier,
		Metrics:      reconcileMetrics,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	expireJob, err := cron.NewExpirePendingJob(cron.ExpirePendingJobParams{
		Logger:  logg,
		Expirer: engine,
		TTL:     cfg.Reconcile.PendingOrderTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expire job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	registry, err := cron.NewRegistry(expireJob, retentionJob)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron registry", err)
		os.Exit(1)
	}

	lock, err := cron.NewLeaderLock(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"jobs": len(registry.Jobs()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
