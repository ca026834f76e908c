package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tassiac-ledger/config"
	httpHandler "tassiac-ledger/internal/adapter/http/handler"
	"tassiac-ledger/internal/adapter/http/middleware"
	memStorage "tassiac-ledger/internal/adapter/storage/memory"
	pgStorage "tassiac-ledger/internal/adapter/storage/postgres"
	redisStorage "tassiac-ledger/internal/adapter/storage/redis"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/internal/service"
	"tassiac-ledger/pkg/logger"

	"github.com/rs/zerolog"
)

// repositories is the storage backend selected by storage.driver.
type repositories struct {
	wallets     ports.WalletRepository
	payments    ports.PaymentEventRepository
	offerings   ports.SpecialOfferingRepository
	withdrawals ports.WithdrawalRepository
	approvals   ports.ApprovalRepository
	postings    ports.PostingRepository
	audit       ports.AuditRepository
	transactor  ports.DBTransactor
	locker      ports.KeyLocker
	health      ports.HealthChecker
	close       func()
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	switch cfg.Storage.Driver {
	case "memory":
		store := memStorage.NewStore(cfg.Ledger.LockTimeout)
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return &repositories{
			wallets:     memStorage.NewWalletRepo(store),
			payments:    memStorage.NewPaymentRepo(store),
			offerings:   memStorage.NewOfferingRepo(store),
			withdrawals: memStorage.NewWithdrawalRepo(store),
			approvals:   memStorage.NewApprovalRepo(store),
			postings:    memStorage.NewPostingRepo(store),
			audit:       memStorage.NewAuditRepo(store),
			transactor:  memStorage.NewTransactor(store),
			locker:      memStorage.NewLocker(),
			health:      store,
			close:       func() {},
		}, nil
	default:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		return &repositories{
			wallets:     pgStorage.NewWalletRepo(pool),
			payments:    pgStorage.NewPaymentRepo(pool),
			offerings:   pgStorage.NewOfferingRepo(pool),
			withdrawals: pgStorage.NewWithdrawalRepo(pool),
			approvals:   pgStorage.NewApprovalRepo(pool),
			postings:    pgStorage.NewPostingRepo(pool),
			audit:       pgStorage.NewAuditRepo(pool),
			transactor:  pgStorage.NewTransactor(pool, cfg.Ledger.LockTimeout),
			locker:      pgStorage.NewLocker(),
			health:      pgStorage.NewHealthCheck(pool),
			close:       pool.Close,
		}, nil
	}
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting church fund ledger")

	ctx := context.Background()

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger storage")
	}
	defer repos.close()

	healthCheckers := []ports.HealthChecker{repos.health}

	// Redis is optional: it backs the read cache and rate limiting.
	var (
		cache          ports.Cache
		rateLimitStore *redisStorage.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		cache = redisStorage.NewCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Info().Msg("Redis disabled, caching and rate limiting are off")
	}

	var crypter ports.EncryptionService
	if cfg.AES.Key != "" {
		enc, err := service.NewAESEncryptionService(cfg.AES.Key)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize encryption service")
		}
		crypter = enc
	}

	minAmount, maxAmount, err := cfg.Withdrawal.Bounds()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid withdrawal bounds")
	}

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(repos.audit, log)

	updater := service.NewUpdater(repos.transactor, repos.locker, repos.wallets, service.RetryPolicy{
		MaxAttempts: cfg.Ledger.MaxAttempts,
		BaseDelay:   cfg.Ledger.RetryBaseDelay,
	}, log)

	ledgerSvc := service.NewLedgerService(
		updater,
		repos.wallets,
		repos.payments,
		repos.offerings,
		repos.postings,
		repos.transactor,
		cache,
		auditSvc,
		service.CacheTTLs{Summary: cfg.Ledger.SummaryCacheTTL, Payment: cfg.Ledger.PaymentCacheTTL},
		log,
	)
	withdrawalSvc := service.NewWithdrawalService(
		updater,
		repos.withdrawals,
		repos.approvals,
		repos.wallets,
		repos.payments,
		repos.postings,
		cache,
		crypter,
		auditSvc,
		service.WithdrawalPolicy{
			RequiredApprovals: cfg.Withdrawal.RequiredApprovals,
			MinAmount:         minAmount,
			MaxAmount:         maxAmount,
		},
		log,
	)
	reconcileSvc := service.NewReconciliationService(
		updater,
		repos.wallets,
		repos.payments,
		repos.offerings,
		repos.withdrawals,
		repos.postings,
		cache,
		auditSvc,
		cfg.Ledger.ReconcileWorkers,
		log,
	)

	if n, err := ledgerSvc.InitializeWallets(ctx, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize wallets")
	} else if n > 0 {
		log.Info().Int("created", n).Msg("Wallets initialized")
	}

	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:      ledgerSvc,
		WithdrawalSvc:  withdrawalSvc,
		ReconcileSvc:   reconcileSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		RateLimitRules: middleware.RateLimitRules(cfg.RateLimit),
		HealthCheckers: healthCheckers,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
