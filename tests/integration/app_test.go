package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tassiac-ledger/config"
	httpHandler "tassiac-ledger/internal/adapter/http/handler"
	"tassiac-ledger/internal/adapter/http/middleware"
	"tassiac-ledger/internal/adapter/storage/memory"
	redisStorage "tassiac-ledger/internal/adapter/storage/redis"
	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// testApp wires the real HTTP layer, services and updater over the
// in-memory store, with miniredis behind the cache and rate limiter.
type testApp struct {
	server   *httptest.Server
	redis    *miniredis.Miniredis
	store    *memory.Store
	tokenSvc ports.TokenService
}

const requiredApprovals = 2

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	log := zerolog.Nop()
	store := memory.NewStore(5 * time.Second)

	wallets := memory.NewWalletRepo(store)
	payments := memory.NewPaymentRepo(store)
	offerings := memory.NewOfferingRepo(store)
	withdrawals := memory.NewWithdrawalRepo(store)
	approvals := memory.NewApprovalRepo(store)
	postings := memory.NewPostingRepo(store)
	transactor := memory.NewTransactor(store)

	encSvc, err := service.NewAESEncryptionService("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", time.Hour, "test-issuer")
	cache := redisStorage.NewCache(rdb)
	auditSvc := service.NewAuditService(memory.NewAuditRepo(store), log)

	updater := service.NewUpdater(transactor, memory.NewLocker(), wallets,
		service.RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond}, log)

	ledgerSvc := service.NewLedgerService(updater, wallets, payments, offerings, postings, transactor,
		cache, auditSvc, service.CacheTTLs{Summary: time.Minute, Payment: time.Hour}, log)
	withdrawalSvc := service.NewWithdrawalService(updater, withdrawals, approvals, wallets, payments, postings,
		cache, encSvc, auditSvc, service.WithdrawalPolicy{
			RequiredApprovals: requiredApprovals,
			MinAmount:         decimal.RequireFromString("1.00"),
			MaxAmount:         decimal.RequireFromString("100000.00"),
		}, log)
	reconcileSvc := service.NewReconciliationService(updater, wallets, payments, offerings, withdrawals, postings,
		cache, auditSvc, 4, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:      ledgerSvc,
		WithdrawalSvc:  withdrawalSvc,
		ReconcileSvc:   reconcileSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: redisStorage.NewRateLimitStore(rdb),
		RateLimitRules: middleware.RateLimitRules(config.RateLimitConfig{
			Window:        time.Minute,
			DepositLimit:  1000,
			ApprovalLimit: 1000,
			DefaultLimit:  1000,
		}),
		HealthCheckers: []ports.HealthChecker{store, redisStorage.NewHealthCheck(rdb)},
		Logger:         log,
	})

	return &testApp{
		server:   httptest.NewServer(router),
		redis:    mr,
		store:    store,
		tokenSvc: tokenSvc,
	}
}

func (a *testApp) close() {
	a.server.Close()
	a.redis.Close()
}

// user is an authenticated caller with a fixed role.
type user struct {
	id    uuid.UUID
	token string
}

func (a *testApp) login(t *testing.T, role string) user {
	t.Helper()
	id := uuid.New()
	token, _, err := a.tokenSvc.Generate(id, role)
	require.NoError(t, err)
	return user{id: id, token: token}
}

// apiResponse is the decoded envelope of one call.
type apiResponse struct {
	Status    int
	Data      map[string]interface{}
	ErrorCode string
}

func (a *testApp) call(t *testing.T, u user, method, path string, body interface{}) apiResponse {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		Data      map[string]interface{} `json:"data"`
		ErrorCode string                 `json:"error_code"`
	}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &envelope), "body: %s", raw)
	}
	return apiResponse{Status: resp.StatusCode, Data: envelope.Data, ErrorCode: envelope.ErrorCode}
}

func (a *testApp) addPayment(paymentType domain.PaymentType, amount string, distribution string, offering *uuid.UUID) uuid.UUID {
	p := domain.PaymentEvent{
		ID:                uuid.New(),
		Amount:            decimal.RequireFromString(amount),
		Type:              paymentType,
		SpecialOfferingID: offering,
		IsCompleted:       true,
		CreatedAt:         time.Now().UTC(),
	}
	if distribution != "" {
		p.TitheDistribution = json.RawMessage(distribution)
	}
	a.store.AddPayment(p)
	return p.ID
}

func (a *testApp) balance(t *testing.T, u user, key string) string {
	t.Helper()
	resp := a.call(t, u, http.MethodGet, "/api/v1/wallets/detail?key="+key, nil)
	require.Equal(t, http.StatusOK, resp.Status, "wallet %s: %s", key, resp.ErrorCode)
	return resp.Data["balance"].(string)
}
