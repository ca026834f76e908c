package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tassiac-ledger/internal/adapter/storage/memory"
	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *ledgerFixture) request(t *testing.T, key domain.WalletKey, amount string) (*domain.WithdrawalRequest, uuid.UUID) {
	t.Helper()
	requester := uuid.New()
	w, err := f.withdraw.CreateWithdrawal(context.Background(), ports.CreateWithdrawalRequest{
		WalletKey:   key,
		Amount:      dec(amount),
		Purpose:     "Hall electricity",
		Method:      domain.WithdrawalMethodBankTransfer,
		RequestedBy: requester,
	})
	require.NoError(t, err)
	return w, requester
}

func (f *ledgerFixture) approve(t *testing.T, id uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.withdraw.ApproveWithdrawal(context.Background(), ports.ApproveWithdrawalRequest{
			WithdrawalID: id,
			ApproverID:   uuid.New(),
			Approved:     true,
		})
		require.NoError(t, err)
	}
}

func TestWithdrawalService_CreateWithdrawal(t *testing.T) {
	f := newLedgerFixture(t)
	f.deposit(t, domain.PaymentTypeOffering, "500", "")

	w, _ := f.request(t, offeringKey, "120")
	assert.Equal(t, domain.WithdrawalStatusPending, w.Status)
	assert.Equal(t, 3, w.RequiredApprovals)
	assert.Zero(t, w.CurrentApprovals)
	assert.Regexp(t, `^WD-\d{8}-[0-9A-F]{8}$`, w.Reference)
}

func TestWithdrawalService_CreateWithdrawal_AboveBalanceStillPending(t *testing.T) {
	f := newLedgerFixture(t)
	f.deposit(t, domain.PaymentTypeOffering, "50", "")

	w, _ := f.request(t, offeringKey, "5000")
	assert.Equal(t, domain.WithdrawalStatusPending, w.Status)
}

func TestWithdrawalService_CreateWithdrawal_Invalid(t *testing.T) {
	f := newLedgerFixture(t)
	f.deposit(t, domain.PaymentTypeOffering, "50", "")
	_, err := f.ledger.InitializeWallets(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, f.ledger.DeactivateWallet(context.Background(), domain.WalletKey{Category: domain.CategoryOther}, uuid.New()))

	base := ports.CreateWithdrawalRequest{
		WalletKey:   offeringKey,
		Amount:      dec("10"),
		Purpose:     "Supplies",
		Method:      domain.WithdrawalMethodCash,
		RequestedBy: uuid.New(),
	}

	tests := []struct {
		name   string
		mutate func(r *ports.CreateWithdrawalRequest)
		code   string
	}{
		{"below minimum", func(r *ports.CreateWithdrawalRequest) { r.Amount = dec("0.50") }, apperror.CodeAmountOutOfBounds},
		{"above maximum", func(r *ports.CreateWithdrawalRequest) { r.Amount = dec("1000000.01") }, apperror.CodeAmountOutOfBounds},
		{"negative", func(r *ports.CreateWithdrawalRequest) { r.Amount = dec("-5") }, apperror.CodeAmountOutOfBounds},
		{"sub-cent amount", func(r *ports.CreateWithdrawalRequest) { r.Amount = dec("10.005") }, apperror.CodeAmountOutOfBounds},
		{"missing purpose", func(r *ports.CreateWithdrawalRequest) { r.Purpose = "  " }, apperror.CodeValidation},
		{"unknown method", func(r *ports.CreateWithdrawalRequest) { r.Method = "CRYPTO" }, apperror.CodeValidation},
		{"missing requester", func(r *ports.CreateWithdrawalRequest) { r.RequestedBy = uuid.Nil }, apperror.CodeValidation},
		{"missing wallet", func(r *ports.CreateWithdrawalRequest) { r.WalletKey = domain.WalletKey{Category: domain.CategorySpecialOffering, Subcategory: "NONE"} }, apperror.CodeNotFound},
		{"inactive wallet", func(r *ports.CreateWithdrawalRequest) { r.WalletKey = domain.WalletKey{Category: domain.CategoryOther} }, apperror.CodeWalletInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.withdraw.CreateWithdrawal(context.Background(), req)
			assertAppError(t, err, tt.code)
		})
	}
}

func TestWithdrawalService_Execute_Success(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "500", "")

	w, _ := f.request(t, offeringKey, "120.50")
	f.approve(t, w.ID, 3)

	executor := uuid.New()
	done, err := f.withdraw.ExecuteWithdrawal(ctx, w.ID, executor)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCompleted, done.Status)
	require.NotNil(t, done.ExpensePaymentID)
	assert.Equal(t, executor, *done.ExecutedBy)
	assert.NotNil(t, done.CompletedAt)

	wallet, err := f.ledger.GetWallet(ctx, offeringKey)
	require.NoError(t, err)
	assertDecimal(t, "379.50", wallet.Balance)
	assertDecimal(t, "120.50", wallet.TotalWithdrawals)
	assert.True(t, wallet.IsConsistent())

	expense, err := f.payments.GetByID(ctx, *done.ExpensePaymentID)
	require.NoError(t, err)
	require.NotNil(t, expense)
	assert.Equal(t, domain.PaymentTypeExpense, expense.Type)
	assert.True(t, expense.IsExpense)
	assert.Contains(t, expense.Description, w.Reference)

	withdrawal := domain.OperationWithdrawal
	history, _, err := f.ledger.GetWalletHistory(ctx, ports.HistoryParams{WalletKey: offeringKey, Operation: &withdrawal})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, w.ID, *history[0].WithdrawalID)

	_, err = f.withdraw.ExecuteWithdrawal(ctx, w.ID, executor)
	assertAppError(t, err, apperror.CodeNotPending)
	assertDecimal(t, "379.50", f.balance(t, offeringKey))
}

func TestWithdrawalService_Execute_InsufficientApprovals(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "500", "")

	w, _ := f.request(t, offeringKey, "100")
	f.approve(t, w.ID, 2)

	_, err := f.withdraw.ExecuteWithdrawal(ctx, w.ID, uuid.New())
	assertAppError(t, err, apperror.CodeInsufficientApprovals)

	got, _, err := f.withdraw.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusPending, got.Status)
	assertDecimal(t, "500", f.balance(t, offeringKey))
}

func TestWithdrawalService_Execute_InsufficientFundsStaysPending(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "3000", "")

	w, _ := f.request(t, offeringKey, "5000")
	f.approve(t, w.ID, 3)

	_, err := f.withdraw.ExecuteWithdrawal(ctx, w.ID, uuid.New())
	assertAppError(t, err, apperror.CodeInsufficientFunds)

	got, _, err := f.withdraw.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusPending, got.Status)
	assert.Nil(t, got.ExpensePaymentID)
	assertDecimal(t, "3000", f.balance(t, offeringKey))

	// topping up the wallet makes the same request executable
	f.deposit(t, domain.PaymentTypeOffering, "2000", "")
	_, err = f.withdraw.ExecuteWithdrawal(ctx, w.ID, uuid.New())
	require.NoError(t, err)
	assertDecimal(t, "0", f.balance(t, offeringKey))
}

func TestWithdrawalService_Execute_ConcurrentOnlyOneWins(t *testing.T) {
	f := newLedgerFixture(t)
	f.deposit(t, domain.PaymentTypeOffering, "1000", "")

	w, _ := f.request(t, offeringKey, "700")
	f.approve(t, w.ID, 3)

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.withdraw.ExecuteWithdrawal(context.Background(), w.ID, uuid.New())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assertAppError(t, err, apperror.CodeNotPending)
	}
	assert.Equal(t, 1, succeeded)
	assertDecimal(t, "300", f.balance(t, offeringKey))
}

func TestWithdrawalService_Approve_Rules(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "500", "")

	w, requester := f.request(t, offeringKey, "100")

	_, err := f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{WithdrawalID: w.ID, ApproverID: requester, Approved: true})
	assertAppError(t, err, apperror.CodeSelfApproval)

	approver := uuid.New()
	got, err := f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{WithdrawalID: w.ID, ApproverID: approver, Approved: true})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentApprovals)

	_, err = f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{WithdrawalID: w.ID, ApproverID: approver, Approved: true})
	assertAppError(t, err, apperror.CodeDuplicateApproval)

	comment := "not budgeted"
	got, err = f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{WithdrawalID: w.ID, ApproverID: uuid.New(), Approved: false, Comment: &comment})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentApprovals)

	_, votes, err := f.withdraw.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 2)

	_, err = f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{WithdrawalID: uuid.New(), ApproverID: uuid.New(), Approved: true})
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestWithdrawalService_Approve_ConcurrentVotesCounted(t *testing.T) {
	f := newLedgerFixture(t)
	f.deposit(t, domain.PaymentTypeOffering, "500", "")
	w, _ := f.request(t, offeringKey, "100")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.withdraw.ApproveWithdrawal(context.Background(), ports.ApproveWithdrawalRequest{
				WithdrawalID: w.ID,
				ApproverID:   uuid.New(),
				Approved:     true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := f.withdraw.GetWithdrawal(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.CurrentApprovals)
}

func TestWithdrawalService_LockedRowSurfacesConcurrencyError(t *testing.T) {
	f := newLedgerFixtureWithLockTimeout(t, 50*time.Millisecond)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "500", "")
	w, _ := f.request(t, offeringKey, "100")

	holder, err := memory.NewTransactor(f.store).Begin(ctx)
	require.NoError(t, err)
	_, err = f.withdrawals.GetByIDForUpdate(ctx, holder, w.ID)
	require.NoError(t, err)

	_, err = f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{
		WithdrawalID: w.ID,
		ApproverID:   uuid.New(),
		Approved:     true,
	})
	assertAppError(t, err, apperror.CodeRetriesExhausted)
	assert.True(t, apperror.IsTransient(err))

	_, err = f.withdraw.CancelWithdrawal(ctx, w.ID, "duplicate request", uuid.New())
	assertAppError(t, err, apperror.CodeRetriesExhausted)

	require.NoError(t, holder.Rollback(ctx))

	got, err := f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{
		WithdrawalID: w.ID,
		ApproverID:   uuid.New(),
		Approved:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentApprovals)
}

func TestWithdrawalService_Cancel(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "500", "")
	w, _ := f.request(t, offeringKey, "100")

	_, err := f.withdraw.CancelWithdrawal(ctx, w.ID, " ", uuid.New())
	assertAppError(t, err, apperror.CodeValidation)

	actor := uuid.New()
	got, err := f.withdraw.CancelWithdrawal(ctx, w.ID, "duplicate request", actor)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCancelled, got.Status)
	assert.Equal(t, "duplicate request", *got.CancelReason)
	assert.Equal(t, actor, *got.CancelledBy)

	_, err = f.withdraw.CancelWithdrawal(ctx, w.ID, "again", actor)
	assertAppError(t, err, apperror.CodeNotPending)

	_, err = f.withdraw.ApproveWithdrawal(ctx, ports.ApproveWithdrawalRequest{WithdrawalID: w.ID, ApproverID: uuid.New(), Approved: true})
	assertAppError(t, err, apperror.CodeNotPending)

	_, err = f.withdraw.ExecuteWithdrawal(ctx, w.ID, uuid.New())
	assertAppError(t, err, apperror.CodeNotPending)
	assertDecimal(t, "500", f.balance(t, offeringKey))
}

func TestWithdrawalService_ListWithdrawals(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "500", "")

	first, _ := f.request(t, offeringKey, "10")
	f.request(t, offeringKey, "20")
	_, err := f.withdraw.CancelWithdrawal(ctx, first.ID, "typo", uuid.New())
	require.NoError(t, err)

	all, total, err := f.withdraw.ListWithdrawals(ctx, ports.WithdrawalListParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	pending := domain.WithdrawalStatusPending
	items, total, err := f.withdraw.ListWithdrawals(ctx, ports.WithdrawalListParams{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assertDecimal(t, "20", items[0].Amount)
}

func TestWithdrawalService_DestinationSealedAtRest(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.deposit(t, domain.PaymentTypeOffering, "500", "")

	crypter, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	f.withdraw.crypter = crypter

	destination := "KCB 1100223344"
	w, err := f.withdraw.CreateWithdrawal(ctx, ports.CreateWithdrawalRequest{
		WalletKey:   offeringKey,
		Amount:      dec("50"),
		Purpose:     "Choir robes",
		Method:      domain.WithdrawalMethodBankTransfer,
		Destination: &destination,
		RequestedBy: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, destination, *w.Destination)

	stored, err := f.withdrawals.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.NotEqual(t, destination, *stored.Destination)

	got, _, err := f.withdraw.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, destination, *got.Destination)

	cancelled, err := f.withdraw.CancelWithdrawal(ctx, w.ID, "wrong account", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, destination, *cancelled.Destination)
}
