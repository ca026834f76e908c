package handler

import (
	"tassiac-ledger/internal/adapter/http/middleware"
	redisStore "tassiac-ledger/internal/adapter/storage/redis"
	"tassiac-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc      ports.LedgerService
	WithdrawalSvc  ports.WithdrawalService
	ReconcileSvc   ports.ReconciliationService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	RateLimitRules map[string]middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.RequestContext())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := deps.RateLimitRules[group]
		if !ok || rule.Limit <= 0 {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	admin := middleware.RequireRole(middleware.RoleAdmin)
	staff := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTreasurer)

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	depositHandler := NewDepositHandler(deps.LedgerSvc)
	v1.POST("/deposits", rl(middleware.GroupDeposits),
		middleware.RequireRole(middleware.RoleSystem, middleware.RoleAdmin), depositHandler.ProcessDeposit)

	walletHandler := NewWalletHandler(deps.LedgerSvc)
	wallets := v1.Group("/wallets", rl(middleware.GroupDefault))
	{
		wallets.GET("", staff, walletHandler.GetSummary)
		wallets.GET("/detail", staff, walletHandler.GetWallet)
		wallets.GET("/history", staff, walletHandler.GetHistory)
		wallets.POST("/initialize", admin, walletHandler.Initialize)
		wallets.POST("/deactivate", admin, walletHandler.Deactivate)
	}

	withdrawalHandler := NewWithdrawalHandler(deps.WithdrawalSvc)
	withdrawals := v1.Group("/withdrawals", staff)
	{
		withdrawals.POST("", rl(middleware.GroupDefault), withdrawalHandler.Create)
		withdrawals.GET("", rl(middleware.GroupDefault), withdrawalHandler.List)
		withdrawals.GET("/:id", rl(middleware.GroupDefault), withdrawalHandler.Get)
		withdrawals.POST("/:id/approvals", rl(middleware.GroupApprovals), withdrawalHandler.Approve)
		withdrawals.POST("/:id/execute", rl(middleware.GroupApprovals), withdrawalHandler.Execute)
		withdrawals.POST("/:id/cancel", rl(middleware.GroupDefault), withdrawalHandler.Cancel)
	}

	reconcileHandler := NewReconciliationHandler(deps.ReconcileSvc)
	reconciliation := v1.Group("/reconciliation", rl(middleware.GroupDefault))
	{
		reconciliation.POST("/recalculate", admin, reconcileHandler.Recalculate)
		reconciliation.GET("/integrity", staff, reconcileHandler.Integrity)
	}

	return r
}
