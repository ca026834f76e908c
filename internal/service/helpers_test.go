package service

import (
	"context"
	"io"
	"testing"
	"time"

	"tassiac-ledger/internal/adapter/storage/memory"
	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual.StringFixed(2))
}

// ledgerFixture wires the real services over the in-memory store.
type ledgerFixture struct {
	store       *memory.Store
	wallets     *memory.WalletRepo
	payments    *memory.PaymentRepo
	offerings   *memory.OfferingRepo
	withdrawals *memory.WithdrawalRepo
	approvals   *memory.ApprovalRepo
	postings    *memory.PostingRepo
	updater     *Updater

	ledger    *LedgerServiceImpl
	withdraw  *WithdrawalServiceImpl
	reconcile *ReconciliationServiceImpl
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	return newLedgerFixtureWithLockTimeout(t, 2*time.Second)
}

func newLedgerFixtureWithLockTimeout(t *testing.T, lockTimeout time.Duration) *ledgerFixture {
	t.Helper()
	store := memory.NewStore(lockTimeout)
	f := &ledgerFixture{
		store:       store,
		wallets:     memory.NewWalletRepo(store),
		payments:    memory.NewPaymentRepo(store),
		offerings:   memory.NewOfferingRepo(store),
		withdrawals: memory.NewWithdrawalRepo(store),
		approvals:   memory.NewApprovalRepo(store),
		postings:    memory.NewPostingRepo(store),
	}
	transactor := memory.NewTransactor(store)
	log := newTestLogger()
	audit := NewAuditService(memory.NewAuditRepo(store), log)

	f.updater = NewUpdater(transactor, memory.NewLocker(), f.wallets, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, log)
	f.ledger = NewLedgerService(f.updater, f.wallets, f.payments, f.offerings, f.postings, transactor, nil, audit,
		CacheTTLs{Summary: time.Minute, Payment: time.Hour}, log)
	f.withdraw = NewWithdrawalService(f.updater, f.withdrawals, f.approvals, f.wallets, f.payments, f.postings, nil, nil, audit,
		WithdrawalPolicy{RequiredApprovals: 3, MinAmount: dec("1"), MaxAmount: dec("1000000")}, log)
	f.reconcile = NewReconciliationService(f.updater, f.wallets, f.payments, f.offerings, f.withdrawals, f.postings, nil, audit, 4, log)
	return f
}

// addPayment records a completed payment and returns it.
func (f *ledgerFixture) addPayment(typ domain.PaymentType, amount string, distribution string) domain.PaymentEvent {
	p := domain.PaymentEvent{
		ID:          uuid.New(),
		Amount:      dec(amount),
		Type:        typ,
		IsCompleted: true,
		CreatedAt:   time.Now().UTC(),
	}
	if distribution != "" {
		p.TitheDistribution = []byte(distribution)
	}
	f.store.AddPayment(p)
	return p
}

// deposit records a payment and applies it.
func (f *ledgerFixture) deposit(t *testing.T, typ domain.PaymentType, amount string, distribution string) domain.PaymentEvent {
	t.Helper()
	p := f.addPayment(typ, amount, distribution)
	_, err := f.ledger.ProcessPayment(context.Background(), p.ID)
	require.NoError(t, err)
	return p
}

func (f *ledgerFixture) balance(t *testing.T, key domain.WalletKey) decimal.Decimal {
	t.Helper()
	w, err := f.wallets.GetByKey(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, w, "wallet %s missing", key)
	return w.Balance
}
