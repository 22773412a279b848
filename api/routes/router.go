package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muzafey/storefront-backend/api/controllers"
	ordercontrollers "github.com/muzafey/storefront-backend/api/controllers/orders"
	paymentcontrollers "github.com/muzafey/storefront-backend/api/controllers/payments"
	transactioncontrollers "github.com/muzafey/storefront-backend/api/controllers/transactions"
	webhookcontrollers "github.com/muzafey/storefront-backend/api/controllers/webhooks"
	"github.com/muzafey/storefront-backend/api/middleware"
	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/internal/transactions"
	"github.com/muzafey/storefront-backend/pkg/config"
	"github.com/muzafey/storefront-backend/pkg/db"
	"github.com/muzafey/storefront-backend/pkg/enums"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/redis"
)

// Engine is the reconciliation surface the HTTP layer drives.
type Engine interface {
	ordercontrollers.OrderEngine
	paymentcontrollers.PaymentEngine
	webhookcontrollers.CallbackHandler
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	engine Engine,
	ordersSvc orders.Service,
	transactionsSvc transactions.Service,
	ipnGuard webhookcontrollers.IPNGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.FrontendURL),
	)

	admin := middleware.RequireRole(string(enums.RoleAdmin), logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})
	r.Handle("/metrics", promhttp.Handler())

	callback := webhookcontrollers.PesapalCallback(engine, ipnGuard, cfg.App.FrontendURL, logg)
	r.Get("/api/pesapal/callback", callback)
	r.Post("/api/pesapal/callback", callback)

	// Routes stay flat so the idempotency middleware sees the full route pattern.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/api/orders", ordercontrollers.Create(engine, logg))
		r.Get("/api/orders/myorders", ordercontrollers.Mine(ordersSvc, logg))
		r.Get("/api/orders/reminders/all", ordercontrollers.Reminders(ordersSvc, logg))
		r.Put("/api/orders/reminders/mark-read", ordercontrollers.MarkReminderRead(ordersSvc, logg))
		r.Get("/api/orders/{orderId}", ordercontrollers.Detail(ordersSvc, logg))

		r.Post("/api/pesapal/initiate-payment", paymentcontrollers.InitiatePayment(engine, logg))
		r.Get("/api/pesapal/status/{orderTrackingId}", paymentcontrollers.TransactionStatus(engine, logg))

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Get("/api/orders", ordercontrollers.List(ordersSvc, logg))
			r.Put("/api/orders/{orderId}/status", ordercontrollers.UpdateStatus(engine, logg))
			r.Put("/api/orders/{orderId}/payment-status", ordercontrollers.UpdatePaymentStatus(engine, logg))
			r.Post("/api/orders/{orderId}/send-payment-reminder", ordercontrollers.SendPaymentReminder(ordersSvc, logg))
			r.Delete("/api/orders/{orderId}", ordercontrollers.Delete(engine, logg))

			r.Get("/api/admin/transactions", transactioncontrollers.List(transactionsSvc, logg))
			r.Get("/api/admin/transactions/trash", transactioncontrollers.Trash(transactionsSvc, logg))
			r.Get("/api/admin/transactions/{transactionId}", transactioncontrollers.Detail(transactionsSvc, logg))
			r.Delete("/api/admin/transactions/{transactionId}", transactioncontrollers.SoftDelete(transactionsSvc, logg))
			r.Post("/api/admin/transactions/{transactionId}/restore", transactioncontrollers.Restore(transactionsSvc, logg))
			r.Delete("/api/admin/transactions/{transactionId}/permanent", transactioncontrollers.HardDelete(transactionsSvc, logg))
		})
	})

	return r
}
