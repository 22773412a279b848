package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/muzafey/storefront-backend/api/routes"
	"github.com/muzafey/storefront-backend/internal/coupons"
	"github.com/muzafey/storefront-backend/internal/inventory"
	"github.com/muzafey/storefront-backend/internal/notifications"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/reconciliation"
	"github.com/muzafey/storefront-backend/internal/transactions"
	pesapalwebhook "github.com/muzafey/storefront-backend/internal/webhooks/pesapal"
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

const (
	orderLockWait   = 10 * time.Second
	ipnDedupTTL     = 24 * time.Hour
	shutdownTimeout = 20 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	reconcileMetrics := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)

	gateway, err := pesapal.NewClient(cfg.Pesapal, logg, pesapal.WithObserver(reconcileMetrics))
	if err != nil {
		logg.Error(context.Background(), "failed to create pesapal client", err)
		os.Exit(1)
	}

	orderLocks, err := redis.NewKeyedMutex(redisClient, "order", cfg.Reconcile.OrderLockTTL, orderLockWait)
	if err != nil {
		logg.Error(context.Background(), "failed to create order lock", err)
		os.Exit(1)
	}

	notifier := notifications.NewNotifier(mailer.New(cfg.Email, logg), logg, cfg.Email.SendTimeout)

	gormDB := dbClient.DB()
	ordersRepo := orders.NewRepository(gormDB)
	transactionsRepo := transactions.NewRepository(gormDB)

	engine, err := reconciliation.NewEngine(reconciliation.Params{
		DB:           dbClient,
		Orders:       ordersRepo,
		Inventory:    inventory.NewStore(gormDB),
		Coupons:      coupons.NewRepository(gormDB),
		Transactions: transactionsRepo,
		Outbox:       outbox.NewService(outbox.NewRepository(gormDB), logg),
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

	ordersService, err := orders.NewService(ordersRepo, notifier, cfg.App.FrontendURL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	transactionsService, err := transactions.NewService(transactionsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create transactions service", err)
		os.Exit(1)
	}

	ipnGuard, err := pesapalwebhook.NewIdempotencyGuard(redisClient, ipnDedupTTL, "pesapal-ipn")
	if err != nil {
		logg.Error(context.Background(), "failed to create ipn guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			engine,
			ordersService,
			transactionsService,
			ipnGuard,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs := server.Shutdown(shutdownCtx)
	// Pending emails were accepted before shutdown and still go out.
	notifier.Wait()
	errs = multierr.Append(errs, redisClient.Close())
	errs = multierr.Append(errs, dbClient.Close())
	if errs != nil {
		logg.Error(ctx, "error during shutdown", errs)
		exitCode = 1
	}

	logg.Info(ctx, "api server stopped")
	os.Exit(exitCode)
}
