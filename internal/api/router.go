package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/api/handler"
	"github.com/nivapay/settlement/internal/api/middleware"
	"github.com/nivapay/settlement/internal/config"
	"github.com/nivapay/settlement/internal/idempotency"
	"github.com/nivapay/settlement/internal/service"
	"github.com/nivapay/settlement/internal/signature"
)

// Router assembles the HTTP surface from already-constructed services.
type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	redis      redis.Cmdable
	idemStore  *idempotency.Store
	ledger     *service.LedgerService
	deposits   *service.DepositService
	dispatcher *service.PaymentDispatcher
	vouchers   *service.VoucherService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	idemStore *idempotency.Store,
	ledger *service.LedgerService,
	deposits *service.DepositService,
	dispatcher *service.PaymentDispatcher,
	vouchers *service.VoucherService,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		idemStore:  idemStore,
		ledger:     ledger,
		deposits:   deposits,
		dispatcher: dispatcher,
		vouchers:   vouchers,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	walletHandler := handler.NewWalletHandler(api.ledger)
	depositHandler := handler.NewDepositHandler(api.dispatcher, api.deposits)
	voucherHandler := handler.NewVoucherHandler(api.vouchers)
	webhookHandler := handler.NewWebhookHandler(
		api.dispatcher,
		signature.NewVerifier(api.cfg.CryptoCallbackSecret),
		signature.NewVerifier(api.cfg.QRCallbackSecret),
	)

	// Operational endpoints
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Provider callbacks: authenticated by HMAC, not JWT.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/invoice", webhookHandler.Invoice)
		r.Post("/v1/webhooks/payment-link", webhookHandler.PaymentLink)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Post("/v1/wallets", walletHandler.Provision)
		r.Get("/v1/wallets/me/balance", walletHandler.Balance)
		r.Delete("/v1/wallets/me", walletHandler.Close)
		r.Get("/v1/wallets/me/transactions", walletHandler.Transactions)
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/wallets/me/payments", walletHandler.Pay)

		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/deposits", depositHandler.Create)
		r.Get("/v1/deposits/{orderID}", depositHandler.Get)

		r.Get("/v1/vouchers/{voucherID}", voucherHandler.Get)
		r.With(middleware.RequireRole("admin")).
			Post("/v1/vouchers", voucherHandler.Create)
	})

	return r
}
