package api

import (
	"github.com/ayo6706/payment-aggregator/internal/api/handler"
	"github.com/ayo6706/payment-aggregator/internal/api/middleware"
	"github.com/ayo6706/payment-aggregator/internal/api/openapi"
	"github.com/ayo6706/payment-aggregator/internal/config"
	"github.com/ayo6706/payment-aggregator/internal/idempotency"
	"github.com/ayo6706/payment-aggregator/internal/notify"
	"github.com/ayo6706/payment-aggregator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles what the HTTP layer dispatches to.
type Services struct {
	Orders         *service.OrderService
	Callbacks      *service.CallbackService
	Reconciliation *service.ReconciliationService
	Forwarder      *notify.Forwarder
	Merchants      middleware.MerchantLookup
}

type Router struct {
	cfg         *config.Config
	logger      *zap.Logger
	svc         Services
	idempotency *idempotency.Store
	db          handler.Pinger
	redis       handler.Pinger
}

func NewRouter(cfg *config.Config, logger *zap.Logger, svc Services, idem *idempotency.Store, db, redis handler.Pinger) *Router {
	return &Router{
		cfg:         cfg,
		logger:      logger,
		svc:         svc,
		idempotency: idem,
		db:          db,
		redis:       redis,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	orderHandler := handler.NewOrderHandler(api.svc.Orders)
	callbackHandler := handler.NewCallbackHandler(api.svc.Callbacks)
	adminHandler := handler.NewAdminHandler(api.svc.Orders, api.svc.Forwarder, api.svc.Reconciliation)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", openapi.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Provider callbacks
	r.With(middleware.CallbackRateLimiter(api.cfg.CallbackRateLimitRPS)).
		Post("/callbacks/{channel}/{type}", callbackHandler.Handle)

	// Merchant API
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Use(middleware.MerchantAuth(api.svc.Merchants))
		r.Use(middleware.MerchantRateLimiter(api.cfg.PublicRateLimitRPS))

		r.With(middleware.IdempotencyMiddleware(api.idempotency, api.logger)).Post("/payins", orderHandler.CreatePayin)
		r.With(middleware.IdempotencyMiddleware(api.idempotency, api.logger)).Post("/payouts", orderHandler.CreatePayout)
		r.Get("/orders/{merchantOrderId}", orderHandler.GetOrder)
		r.Get("/balance", orderHandler.GetBalance)
	})

	// Operator API
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(middleware.NewJWTConfig(api.cfg.JWTSecret, api.cfg.JWTIssuer, api.cfg.JWTAudience)))
		r.Use(middleware.RequireRole(middleware.RoleAdmin))
		r.Use(middleware.MerchantRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Get("/orders/{id}", adminHandler.GetOrder)
		r.Post("/orders/{id}/notify", adminHandler.ResendNotification)
		r.Post("/orders/{id}/settlement-ref", adminHandler.SubmitSettlementRef)
		r.Get("/notifications/dead", adminHandler.ListDeadLetters)
		r.Get("/channels", adminHandler.ListChannels)
		r.Post("/reconciliation/run", adminHandler.RunReconciliation)
	})

	return r
}
