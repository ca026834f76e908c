package postgres

import (
	"context"
	"testing"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "amount", "payment_type", "tithe_distribution", "special_offering_id",
		"is_completed", "is_expense", "description", "withdrawal_id", "created_at"})
}

func TestPaymentRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM payments WHERE id").
		WithArgs(id).
		WillReturnRows(paymentRows().AddRow(id, int64(100000), "TITHE", []byte(`{"welfare":300}`), nil,
			true, false, strPtr("January tithe"), nil, now))

	p, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, domain.PaymentTypeTithe, p.Type)
	assert.True(t, p.HasDistribution())
	assert.True(t, p.IsCompleted)
	assert.Equal(t, "January tithe", p.Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM payments WHERE id").
		WillReturnError(pgx.ErrNoRows)

	p, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestPaymentRepo_ListCompletedDeposits_Filters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	offeringID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM payments WHERE status = 'COMPLETED' AND NOT is_expense AND payment_type = \\$1 AND special_offering_id = \\$2 ORDER BY created_at").
		WithArgs("SPECIAL_OFFERING_CONTRIBUTION", offeringID).
		WillReturnRows(paymentRows().
			AddRow(uuid.New(), int64(5000), "SPECIAL_OFFERING_CONTRIBUTION", nil, &offeringID, true, false, nil, nil, now).
			AddRow(uuid.New(), int64(2550), "SPECIAL_OFFERING_CONTRIBUTION", nil, &offeringID, true, false, nil, nil, now))

	payments, err := repo.ListCompletedDeposits(context.Background(), nil, ports.PaymentFilter{
		Type:              domain.PaymentTypeSpecialOffering,
		SpecialOfferingID: &offeringID,
	})
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.True(t, payments[1].Amount.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, offeringID, *payments[0].SpecialOfferingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_CreateExpense(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	wid := uuid.New()
	p := &domain.PaymentEvent{
		ID:           uuid.New(),
		Amount:       decimal.RequireFromString("3000.00"),
		Description:  "Roof repair",
		WithdrawalID: &wid,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(p.ID, int64(300000), "EXPENSE", "Roof repair", &wid, p.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.CreateExpense(context.Background(), tx, p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferingRepo_GetByCodeAndListActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewOfferingRepo(mock)
	id := uuid.New()
	cols := []string{"id", "code", "name", "is_active"}

	mock.ExpectQuery("SELECT .+ FROM special_offerings WHERE code").
		WithArgs("EASTER").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(id, "EASTER", "Easter appeal", true))
	mock.ExpectQuery("SELECT .+ FROM special_offerings WHERE is_active ORDER BY code").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id, "EASTER", "Easter appeal", true).
			AddRow(uuid.New(), "ROOF", "Roof fund", true))

	o, err := repo.GetByCode(context.Background(), "EASTER")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, id, o.ID)

	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
