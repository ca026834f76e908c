package service

import (
	"context"
	"testing"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// corrupt overwrites a wallet's stored totals, simulating drift.
func (f *ledgerFixture) corrupt(t *testing.T, key domain.WalletKey, balance, deposits, withdrawals string) {
	t.Helper()
	ctx := context.Background()
	err := f.updater.Run(ctx, []domain.WalletKey{key}, func(ctx context.Context, tx pgx.Tx) error {
		w, err := f.wallets.GetByKeyForUpdate(ctx, tx, key)
		if err != nil {
			return err
		}
		w.Balance = dec(balance)
		w.TotalDeposits = dec(deposits)
		w.TotalWithdrawals = dec(withdrawals)
		return f.wallets.UpdateTotals(ctx, tx, w)
	})
	require.NoError(t, err)
}

func resultFor(report *domain.ReconcileReport, key domain.WalletKey) *domain.ReconcileResult {
	for i := range report.Wallets {
		if report.Wallets[i].WalletKey == key.String() {
			return &report.Wallets[i]
		}
	}
	return nil
}

func TestReconciliationService_Idempotent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.deposit(t, domain.PaymentTypeTithe, "1000", `{"welfare": 300, "development": 200}`)
	f.deposit(t, domain.PaymentTypeOffering, "500", "")
	w, _ := f.request(t, offeringKey, "120")
	f.approve(t, w.ID, 3)
	_, err := f.withdraw.ExecuteWithdrawal(ctx, w.ID, uuid.New())
	require.NoError(t, err)

	for run := 0; run < 2; run++ {
		report, err := f.reconcile.RecalculateBalances(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, report.Wallets, 4)
		assert.Zero(t, report.Updated)
		assert.Zero(t, report.Failed)
	}

	assertDecimal(t, "380", f.balance(t, offeringKey))
	assertDecimal(t, "500", f.balance(t, titheGeneral))
}

func TestReconciliationService_CorrectsDrift(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.deposit(t, domain.PaymentTypeOffering, "200", "")
	f.deposit(t, domain.PaymentTypeOffering, "50.25", "")
	f.corrupt(t, offeringKey, "999", "999", "0")

	report, err := f.reconcile.RecalculateBalances(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	res := resultFor(report, offeringKey)
	require.NotNil(t, res)
	assert.True(t, res.Changed)
	assertDecimal(t, "999", res.PreviousBalance)
	assertDecimal(t, "250.25", res.Balance)

	wallet, err := f.ledger.GetWallet(ctx, offeringKey)
	require.NoError(t, err)
	assertDecimal(t, "250.25", wallet.Balance)
	assertDecimal(t, "250.25", wallet.TotalDeposits)
	assertDecimal(t, "0", wallet.TotalWithdrawals)
}

func TestReconciliationService_BackfillsMissedDeposit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.deposit(t, domain.PaymentTypeDonation, "10", "")
	missed := f.addPayment(domain.PaymentTypeDonation, "15", "")

	report, err := f.reconcile.RecalculateBalances(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	donation := domain.WalletKey{Category: domain.CategoryDonation}
	assertDecimal(t, "25", f.balance(t, donation))

	// the late delivery must not double count
	res, err := f.ledger.ProcessPayment(ctx, missed.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)
	assertDecimal(t, "25", f.balance(t, donation))
}

func TestReconciliationService_CountsClosedOfferings(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	offering := domain.SpecialOffering{ID: uuid.New(), Code: "CHOIR", IsActive: true}
	f.store.AddOffering(offering)
	p := f.addPayment(domain.PaymentTypeSpecialOffering, "80", "")
	p.SpecialOfferingID = &offering.ID
	f.store.AddPayment(p)
	_, err := f.ledger.ProcessPayment(ctx, p.ID)
	require.NoError(t, err)

	f.store.SetOfferingActive(offering.ID, false)
	key := domain.WalletKey{Category: domain.CategorySpecialOffering, Subcategory: "CHOIR"}
	f.corrupt(t, key, "0", "0", "0")

	report, err := f.reconcile.RecalculateBalances(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assertDecimal(t, "80", f.balance(t, key))
}

func TestReconciliationService_NegativeRecomputeNotWritten(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.deposit(t, domain.PaymentTypeOffering, "100", "")
	now := time.Now().UTC()
	require.NoError(t, f.withdrawals.Create(ctx, &domain.WithdrawalRequest{
		ID:        uuid.New(),
		Reference: domain.NewWithdrawalReference(now),
		WalletKey: offeringKey,
		Amount:    dec("150"),
		Status:    domain.WithdrawalStatusCompleted,
		CreatedAt: now,
	}))

	report, err := f.reconcile.RecalculateBalances(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Updated)

	res := resultFor(report, offeringKey)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Error)
	assert.False(t, res.Changed)
	assertDecimal(t, "-50", res.Balance)
	assertDecimal(t, "100", f.balance(t, offeringKey))
}

func TestReconciliationService_SkipsInactiveWallets(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.deposit(t, domain.PaymentTypeOffering, "40", "")
	f.corrupt(t, offeringKey, "1", "1", "0")
	require.NoError(t, f.ledger.DeactivateWallet(ctx, offeringKey, uuid.New()))

	report, err := f.reconcile.RecalculateBalances(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Wallets)
	assertDecimal(t, "1", f.balance(t, offeringKey))
}

func TestReconciliationService_InvalidatesSummaryCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newLedgerFixture(t)
	cache := mocks.NewMockCache(ctrl)
	f.reconcile.cache = cache
	cache.EXPECT().Delete(gomock.Any(), summaryCacheKey).Return(nil)

	_, err := f.reconcile.RecalculateBalances(context.Background(), nil)
	require.NoError(t, err)
}

// ==================== ValidateIntegrity Tests ====================

func TestReconciliationService_ValidateIntegrity(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	donation := domain.WalletKey{Category: domain.CategoryDonation}
	f.deposit(t, domain.PaymentTypeOffering, "100", "")
	f.deposit(t, domain.PaymentTypeDonation, "100", "")
	f.deposit(t, domain.PaymentTypeTithe, "100", "")

	report, err := f.reconcile.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, 3, report.WalletsTotal)

	f.corrupt(t, offeringKey, "90", "100", "0")
	f.corrupt(t, donation, "-5", "0", "5")

	before := f.balance(t, offeringKey)
	report, err = f.reconcile.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	require.Len(t, report.Issues, 2)

	kinds := map[string]domain.IntegrityIssueKind{}
	for _, issue := range report.Issues {
		kinds[issue.WalletKey] = issue.Kind
	}
	assert.Equal(t, domain.IssueTotalsMismatch, kinds[offeringKey.String()])
	assert.Equal(t, domain.IssueNegativeBalance, kinds[donation.String()])

	// read-only
	assert.True(t, before.Equal(f.balance(t, offeringKey)))
}

func TestReconciliationService_ValidateIntegrity_WithinTolerance(t *testing.T) {
	f := newLedgerFixture(t)
	f.deposit(t, domain.PaymentTypeOffering, "100", "")
	f.corrupt(t, offeringKey, "100.01", "100", "0")

	report, err := f.reconcile.ValidateIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}
