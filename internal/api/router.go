package api

import (
	"net/http"

	"github.com/ayo6706/custodial-ledger/internal/api/handler"
	"github.com/ayo6706/custodial-ledger/internal/api/middleware"
	"github.com/ayo6706/custodial-ledger/internal/api/spec"
	"github.com/ayo6706/custodial-ledger/internal/config"
	"github.com/ayo6706/custodial-ledger/internal/idempotency"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/ayo6706/custodial-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the domain services exposed over HTTP. Wallets may be nil when
// no encryption key is configured.
type Services struct {
	Ledger      *service.LedgerService
	Deposits    *service.DepositService
	Withdrawals *service.WithdrawalService
	Reconciler  *service.ReconciliationService
	Platform    *service.PlatformWalletService
	Audit       *service.AuditService
	Wallets     handler.WalletEnsurer
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	db     handler.Pinger
	repo   *repository.Repository
	idem   *idempotency.Store
	redis  redis.Cmdable
	svcs   Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, repo *repository.Repository, idem *idempotency.Store, redis redis.Cmdable, svcs Services) *Router {
	if logger == nil {
		logger = zap.L()
	}
	return &Router{cfg: cfg, logger: logger, db: db, repo: repo, idem: idem, redis: redis, svcs: svcs}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	userHandler := handler.NewUserHandler(api.repo)
	depositHandler := handler.NewDepositHandler(api.svcs.Deposits)
	withdrawalHandler := handler.NewWithdrawalHandler(api.svcs.Withdrawals, api.cfg.WithdrawalPollInterval)
	balanceHandler := handler.NewBalanceHandler(api.svcs.Ledger)
	adminHandler := handler.NewAdminHandler(api.svcs.Ledger, api.svcs.Reconciler, api.svcs.Platform, api.svcs.Audit)
	walletHandler := handler.NewWalletHandler(api.svcs.Wallets)

	// Operational endpoints
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/users", userHandler.CreateUser)
		r.Get("/v1/deposit-address", depositHandler.GetDepositAddress)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/me", userHandler.Me)

		// Balances and history
		r.Get("/v1/balance", balanceHandler.GetBalance)
		r.Get("/v1/balance/onchain", balanceHandler.GetOnchainBalance)
		r.Get("/v1/transactions", balanceHandler.ListTransactions)

		// Deposits
		r.Post("/v1/deposits", depositHandler.SubmitDeposit)

		// Withdrawals
		r.With(
			middleware.WithdrawalRateLimiter(api.cfg.WithdrawalRateLimitRPM),
			middleware.IdempotencyMiddleware(api.idem, api.logger),
		).Post("/v1/withdrawals", withdrawalHandler.CreateWithdrawal)
		r.Get("/v1/withdrawals", withdrawalHandler.ListWithdrawals)
		r.Get("/v1/withdrawals/{id}", withdrawalHandler.GetWithdrawal)
		r.Post("/v1/withdrawals/{id}/cancel", withdrawalHandler.CancelWithdrawal)

		// Custodial wallet. Not idempotency-wrapped: the response carries the mnemonic.
		r.Post("/v1/custodial-wallet", walletHandler.EnsureWallet)

		// Admin
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/deposits", depositHandler.ListPendingDeposits)
			r.Post("/deposits/{id}/approve", depositHandler.ApproveDeposit)
			r.Post("/deposits/{id}/reject", depositHandler.RejectDeposit)
			r.Post("/withdrawals/process", withdrawalHandler.ProcessWithdrawals)
			r.With(middleware.IdempotencyMiddleware(api.idem, api.logger)).Post("/balances/adjust", adminHandler.AdjustBalance)
			r.With(middleware.IdempotencyMiddleware(api.idem, api.logger)).Post("/ledger-entries", adminHandler.RecordEntry)
			r.Post("/reconcile", adminHandler.Reconcile)
			r.Get("/reconciliations", adminHandler.ListReconciliations)
			r.Post("/limits/reset", adminHandler.ResetLimits)
			r.Get("/platform-wallet", adminHandler.GetPlatformWallet)
			r.Post("/platform-wallet/rotate", adminHandler.RotatePlatformWallet)
			r.Get("/audit/{entity}/{id}", adminHandler.AuditTrail)
		})
	})

	return r
}
