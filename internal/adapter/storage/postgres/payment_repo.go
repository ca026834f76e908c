package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Payments are written by the upstream payment system. The ledger only reads
// them, apart from the expense rows recorded when a withdrawal executes.
const paymentColumns = `id, amount, payment_type, tithe_distribution, special_offering_id,
	status = 'COMPLETED', is_expense, description, withdrawal_id, created_at`

// PaymentRepo implements ports.PaymentEventRepository.
type PaymentRepo struct {
	pool Pool
}

func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment by id: %w", err)
	}
	return p, nil
}

// ListCompletedDeposits returns completed non-expense payments, oldest first.
func (r *PaymentRepo) ListCompletedDeposits(ctx context.Context, tx pgx.Tx, filter ports.PaymentFilter) ([]domain.PaymentEvent, error) {
	conditions := []string{"status = 'COMPLETED'", "NOT is_expense"}
	var args []any
	argIdx := 1

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("payment_type = $%d", argIdx))
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.SpecialOfferingID != nil {
		conditions = append(conditions, fmt.Sprintf("special_offering_id = $%d", argIdx))
		args = append(args, *filter.SpecialOfferingID)
	}

	query := fmt.Sprintf(`SELECT %s FROM payments WHERE %s ORDER BY created_at`,
		paymentColumns, strings.Join(conditions, " AND "))

	rows, err := on(r.pool, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list completed deposits: %w", err)
	}
	defer rows.Close()

	var payments []domain.PaymentEvent
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

// CreateExpense records the expense payment of an executed withdrawal.
func (r *PaymentRepo) CreateExpense(ctx context.Context, tx pgx.Tx, p *domain.PaymentEvent) error {
	query := `INSERT INTO payments (id, amount, payment_type, status, is_expense, description, withdrawal_id, created_at)
		VALUES ($1, $2, $3, 'COMPLETED', TRUE, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		p.ID, domain.ToMinor(p.Amount), string(domain.PaymentTypeExpense),
		p.Description, p.WithdrawalID, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert expense payment: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.PaymentEvent, error) {
	var (
		p            domain.PaymentEvent
		amount       int64
		paymentType  string
		distribution []byte
		description  *string
	)
	err := row.Scan(
		&p.ID, &amount, &paymentType, &distribution, &p.SpecialOfferingID,
		&p.IsCompleted, &p.IsExpense, &description, &p.WithdrawalID, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Amount = domain.FromMinor(amount)
	p.Type = domain.PaymentType(paymentType)
	p.TitheDistribution = distribution
	if description != nil {
		p.Description = *description
	}
	return &p, nil
}

// OfferingRepo implements ports.SpecialOfferingRepository.
type OfferingRepo struct {
	pool Pool
}

func NewOfferingRepo(pool Pool) *OfferingRepo {
	return &OfferingRepo{pool: pool}
}

func (r *OfferingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SpecialOffering, error) {
	return r.get(ctx, `SELECT id, code, name, is_active FROM special_offerings WHERE id = $1`, id)
}

func (r *OfferingRepo) GetByCode(ctx context.Context, code string) (*domain.SpecialOffering, error) {
	return r.get(ctx, `SELECT id, code, name, is_active FROM special_offerings WHERE code = $1`, code)
}

func (r *OfferingRepo) get(ctx context.Context, query string, arg any) (*domain.SpecialOffering, error) {
	o := &domain.SpecialOffering{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(&o.ID, &o.Code, &o.Name, &o.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get special offering: %w", err)
	}
	return o, nil
}

func (r *OfferingRepo) ListActive(ctx context.Context) ([]domain.SpecialOffering, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, is_active FROM special_offerings WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list active offerings: %w", err)
	}
	defer rows.Close()

	var offerings []domain.SpecialOffering
	for rows.Next() {
		var o domain.SpecialOffering
		if err := rows.Scan(&o.ID, &o.Code, &o.Name, &o.IsActive); err != nil {
			return nil, fmt.Errorf("scan offering row: %w", err)
		}
		offerings = append(offerings, o)
	}
	return offerings, rows.Err()
}
