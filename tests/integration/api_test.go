package integration

import (
	"net/http"
	"testing"

	"tassiac-ledger/internal/adapter/http/middleware"
	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	resp := app.call(t, user{}, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestIntegration_InitializeWallets(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	admin := app.login(t, middleware.RoleAdmin)

	first := app.call(t, admin, http.MethodPost, "/api/v1/wallets/initialize", nil)
	require.Equal(t, http.StatusOK, first.Status)
	created := int(first.Data["created"].(float64))
	assert.Equal(t, len(domain.GeneralCategories)+len(domain.TitheSubcategories), created)

	again := app.call(t, admin, http.MethodPost, "/api/v1/wallets/initialize", nil)
	require.Equal(t, http.StatusOK, again.Status)
	assert.Equal(t, float64(0), again.Data["created"])

	summary := app.call(t, admin, http.MethodGet, "/api/v1/wallets", nil)
	require.Equal(t, http.StatusOK, summary.Status)
	assert.Len(t, summary.Data["wallets"], created)
	assert.Equal(t, "0.00", summary.Data["total_balance"])
}

func TestIntegration_TitheDistribution(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	system := app.login(t, middleware.RoleSystem)
	treasurer := app.login(t, middleware.RoleTreasurer)

	paymentID := app.addPayment(domain.PaymentTypeTithe, "100.00", `{"welfare": 30, "development": 20.5}`, nil)

	resp := app.call(t, system, http.MethodPost, "/api/v1/deposits", map[string]string{"payment_id": paymentID.String()})
	require.Equal(t, http.StatusCreated, resp.Status)
	assert.Len(t, resp.Data["deposits"], 3)

	assert.Equal(t, "30.00", app.balance(t, treasurer, "TITHE/welfare"))
	assert.Equal(t, "20.50", app.balance(t, treasurer, "TITHE/development"))
	assert.Equal(t, "49.50", app.balance(t, treasurer, "TITHE"))
}

func TestIntegration_DepositIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	system := app.login(t, middleware.RoleSystem)
	treasurer := app.login(t, middleware.RoleTreasurer)

	paymentID := app.addPayment(domain.PaymentTypeOffering, "75.25", "", nil)
	body := map[string]string{"payment_id": paymentID.String()}

	first := app.call(t, system, http.MethodPost, "/api/v1/deposits", body)
	require.Equal(t, http.StatusCreated, first.Status)

	// Replays hit the cache first; after a flush they fall through to the journal.
	second := app.call(t, system, http.MethodPost, "/api/v1/deposits", body)
	require.Equal(t, http.StatusOK, second.Status)
	assert.Equal(t, true, second.Data["already_applied"])

	app.redis.FlushAll()
	third := app.call(t, system, http.MethodPost, "/api/v1/deposits", body)
	require.Equal(t, http.StatusOK, third.Status)
	assert.Equal(t, true, third.Data["already_applied"])

	assert.Equal(t, "75.25", app.balance(t, treasurer, "OFFERING"))
}

func TestIntegration_DepositRejections(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	system := app.login(t, middleware.RoleSystem)

	offeringID := uuid.New()
	app.store.AddOffering(domain.SpecialOffering{ID: offeringID, Code: "XMAS2025", Name: "Christmas", IsActive: false})

	tests := []struct {
		name      string
		paymentID uuid.UUID
		status    int
		code      string
	}{
		{"unknown payment", uuid.New(), http.StatusNotFound, apperror.CodeNotFound},
		{"unknown sub-category", app.addPayment(domain.PaymentTypeTithe, "10", `{"music": 5}`, nil), http.StatusBadRequest, apperror.CodeUnknownSubcategory},
		{"distribution exceeds amount", app.addPayment(domain.PaymentTypeTithe, "10", `{"welfare": 10.02}`, nil), http.StatusBadRequest, apperror.CodeDistributionExceeds},
		{"inactive offering", app.addPayment(domain.PaymentTypeSpecialOffering, "10", "", &offeringID), http.StatusBadRequest, apperror.CodeOfferingInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := app.call(t, system, http.MethodPost, "/api/v1/deposits", map[string]string{"payment_id": tt.paymentID.String()})
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.code, resp.ErrorCode)
		})
	}
}

func TestIntegration_WithdrawalLifecycle(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	system := app.login(t, middleware.RoleSystem)
	requester := app.login(t, middleware.RoleTreasurer)
	approverA := app.login(t, middleware.RoleTreasurer)
	approverB := app.login(t, middleware.RoleAdmin)

	paymentID := app.addPayment(domain.PaymentTypeBuildingFund, "500.00", "", nil)
	require.Equal(t, http.StatusCreated,
		app.call(t, system, http.MethodPost, "/api/v1/deposits", map[string]string{"payment_id": paymentID.String()}).Status)

	created := app.call(t, requester, http.MethodPost, "/api/v1/withdrawals", map[string]string{
		"wallet_key":  "BUILDING_FUND",
		"amount":      "120.00",
		"purpose":     "Roof repairs",
		"method":      "BANK_TRANSFER",
		"destination": "ACC-0042",
	})
	require.Equal(t, http.StatusCreated, created.Status)
	assert.Equal(t, "PENDING", created.Data["status"])
	assert.Equal(t, "ACC-0042", created.Data["destination"])
	id := created.Data["id"].(string)
	base := "/api/v1/withdrawals/" + id

	// Quorum not reached yet.
	early := app.call(t, approverA, http.MethodPost, base+"/execute", nil)
	assert.Equal(t, http.StatusConflict, early.Status)
	assert.Equal(t, apperror.CodeInsufficientApprovals, early.ErrorCode)

	self := app.call(t, requester, http.MethodPost, base+"/approvals", map[string]interface{}{"approved": true})
	assert.Equal(t, http.StatusForbidden, self.Status)
	assert.Equal(t, apperror.CodeSelfApproval, self.ErrorCode)

	voteA := app.call(t, approverA, http.MethodPost, base+"/approvals", map[string]interface{}{"approved": true})
	require.Equal(t, http.StatusOK, voteA.Status)
	assert.Equal(t, float64(1), voteA.Data["current_approvals"])

	dup := app.call(t, approverA, http.MethodPost, base+"/approvals", map[string]interface{}{"approved": true})
	assert.Equal(t, http.StatusConflict, dup.Status)
	assert.Equal(t, apperror.CodeDuplicateApproval, dup.ErrorCode)

	voteB := app.call(t, approverB, http.MethodPost, base+"/approvals", map[string]interface{}{"approved": true, "comment": "ok"})
	require.Equal(t, http.StatusOK, voteB.Status)
	assert.Equal(t, float64(requiredApprovals), voteB.Data["current_approvals"])

	executed := app.call(t, approverA, http.MethodPost, base+"/execute", nil)
	require.Equal(t, http.StatusOK, executed.Status)
	assert.Equal(t, "COMPLETED", executed.Data["status"])
	assert.NotEmpty(t, executed.Data["expense_payment_id"])

	assert.Equal(t, "380.00", app.balance(t, requester, "BUILDING_FUND"))

	again := app.call(t, approverA, http.MethodPost, base+"/execute", nil)
	assert.Equal(t, http.StatusConflict, again.Status)
	assert.Equal(t, apperror.CodeNotPending, again.ErrorCode)

	detail := app.call(t, requester, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, detail.Status)
	assert.Len(t, detail.Data["approvals"], 2)

	history := app.call(t, requester, http.MethodGet, "/api/v1/wallets/history?key=BUILDING_FUND&operation=WITHDRAWAL", nil)
	require.Equal(t, http.StatusOK, history.Status)
	assert.Equal(t, float64(1), history.Data["total"])

	integrity := app.call(t, approverB, http.MethodGet, "/api/v1/reconciliation/integrity", nil)
	require.Equal(t, http.StatusOK, integrity.Status)
	assert.Equal(t, true, integrity.Data["healthy"])
}

func TestIntegration_ExecuteWithoutFundsStaysPending(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	admin := app.login(t, middleware.RoleAdmin)
	requester := app.login(t, middleware.RoleTreasurer)
	require.Equal(t, http.StatusOK, app.call(t, admin, http.MethodPost, "/api/v1/wallets/initialize", nil).Status)

	created := app.call(t, requester, http.MethodPost, "/api/v1/withdrawals", map[string]string{
		"wallet_key": "DONATION",
		"amount":     "50.00",
		"purpose":    "Outreach",
		"method":     "CASH",
	})
	require.Equal(t, http.StatusCreated, created.Status)
	base := "/api/v1/withdrawals/" + created.Data["id"].(string)

	for i := 0; i < requiredApprovals; i++ {
		approver := app.login(t, middleware.RoleTreasurer)
		require.Equal(t, http.StatusOK,
			app.call(t, approver, http.MethodPost, base+"/approvals", map[string]interface{}{"approved": true}).Status)
	}

	resp := app.call(t, admin, http.MethodPost, base+"/execute", nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.Status)
	assert.Equal(t, apperror.CodeInsufficientFunds, resp.ErrorCode)

	detail := app.call(t, admin, http.MethodGet, base, nil)
	assert.Equal(t, "PENDING", detail.Data["status"])
	assert.Equal(t, "0.00", app.balance(t, admin, "DONATION"))
}

func TestIntegration_CancelWithdrawal(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	admin := app.login(t, middleware.RoleAdmin)
	require.Equal(t, http.StatusOK, app.call(t, admin, http.MethodPost, "/api/v1/wallets/initialize", nil).Status)

	created := app.call(t, admin, http.MethodPost, "/api/v1/withdrawals", map[string]string{
		"wallet_key": "OTHER",
		"amount":     "10.00",
		"purpose":    "Supplies",
		"method":     "CHEQUE",
	})
	require.Equal(t, http.StatusCreated, created.Status)
	base := "/api/v1/withdrawals/" + created.Data["id"].(string)

	cancelled := app.call(t, admin, http.MethodPost, base+"/cancel", map[string]string{"reason": "Raised in error"})
	require.Equal(t, http.StatusOK, cancelled.Status)
	assert.Equal(t, "CANCELLED", cancelled.Data["status"])

	approver := app.login(t, middleware.RoleTreasurer)
	vote := app.call(t, approver, http.MethodPost, base+"/approvals", map[string]interface{}{"approved": true})
	assert.Equal(t, http.StatusConflict, vote.Status)
	assert.Equal(t, apperror.CodeNotPending, vote.ErrorCode)

	list := app.call(t, admin, http.MethodGet, "/api/v1/withdrawals?status=CANCELLED", nil)
	require.Equal(t, http.StatusOK, list.Status)
	assert.Equal(t, float64(1), list.Data["total"])
}

func TestIntegration_DeactivatedWalletRejectsWithdrawals(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	admin := app.login(t, middleware.RoleAdmin)
	require.Equal(t, http.StatusOK, app.call(t, admin, http.MethodPost, "/api/v1/wallets/initialize", nil).Status)

	resp := app.call(t, admin, http.MethodPost, "/api/v1/wallets/deactivate", map[string]string{"wallet_key": "OTHER"})
	require.Equal(t, http.StatusOK, resp.Status)

	created := app.call(t, admin, http.MethodPost, "/api/v1/withdrawals", map[string]string{
		"wallet_key": "OTHER",
		"amount":     "10.00",
		"purpose":    "Supplies",
		"method":     "CASH",
	})
	assert.Equal(t, http.StatusConflict, created.Status)
	assert.Equal(t, apperror.CodeWalletInactive, created.ErrorCode)
}

func TestIntegration_RecalculateIsStable(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	system := app.login(t, middleware.RoleSystem)
	admin := app.login(t, middleware.RoleAdmin)

	for _, amount := range []string{"10.00", "20.00", "12.34"} {
		id := app.addPayment(domain.PaymentTypeDonation, amount, "", nil)
		require.Equal(t, http.StatusCreated,
			app.call(t, system, http.MethodPost, "/api/v1/deposits", map[string]string{"payment_id": id.String()}).Status)
	}

	report := app.call(t, admin, http.MethodPost, "/api/v1/reconciliation/recalculate", nil)
	require.Equal(t, http.StatusOK, report.Status)
	assert.Equal(t, float64(0), report.Data["updated"])
	assert.Equal(t, float64(0), report.Data["failed"])
	assert.Equal(t, "42.34", app.balance(t, admin, "DONATION"))
}

func TestIntegration_RolesAreEnforced(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	treasurer := app.login(t, middleware.RoleTreasurer)
	system := app.login(t, middleware.RoleSystem)

	assert.Equal(t, http.StatusUnauthorized, app.call(t, user{}, http.MethodGet, "/api/v1/wallets", nil).Status)
	assert.Equal(t, http.StatusUnauthorized,
		app.call(t, user{token: "garbage"}, http.MethodGet, "/api/v1/wallets", nil).Status)
	assert.Equal(t, http.StatusForbidden,
		app.call(t, treasurer, http.MethodPost, "/api/v1/reconciliation/recalculate", nil).Status)
	assert.Equal(t, http.StatusForbidden,
		app.call(t, treasurer, http.MethodPost, "/api/v1/wallets/initialize", nil).Status)
	assert.Equal(t, http.StatusForbidden,
		app.call(t, system, http.MethodGet, "/api/v1/withdrawals", nil).Status)
}
