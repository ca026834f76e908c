package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, reference, wallet_key, amount, purpose, description, method, destination,
	requested_by, required_approvals, current_approvals, status, expense_payment_id, executed_by,
	cancelled_by, cancel_reason, created_at, updated_at, completed_at, cancelled_at`

// WithdrawalRepo implements ports.WithdrawalRepository.
type WithdrawalRepo struct {
	pool Pool
}

func NewWithdrawalRepo(pool Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

func (r *WithdrawalRepo) Create(ctx context.Context, w *domain.WithdrawalRequest) error {
	query := `INSERT INTO withdrawal_requests (id, reference, wallet_key, amount, purpose, description, method,
		destination, requested_by, required_approvals, current_approvals, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.Reference, w.WalletKey.String(), domain.ToMinor(w.Amount), w.Purpose, w.Description,
		string(w.Method), w.Destination, w.RequestedBy, w.RequiredApprovals, w.CurrentApprovals,
		string(w.Status), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get withdrawal by id: %w", err)
	}
	return w, nil
}

// GetByIDForUpdate fetches a withdrawal with a row lock.
// This MUST be called within a transaction.
func (r *WithdrawalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`
	w, err := scanWithdrawal(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get withdrawal for update: %w", err)
	}
	return w, nil
}

// IncrementApprovals bumps the approval counter in place and returns the
// new value.
func (r *WithdrawalRepo) IncrementApprovals(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	query := `UPDATE withdrawal_requests SET current_approvals = current_approvals + 1, updated_at = $1
		WHERE id = $2 RETURNING current_approvals`

	var count int
	if err := tx.QueryRow(ctx, query, time.Now().UTC(), id).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("withdrawal not found: %s", id)
		}
		return 0, fmt.Errorf("increment approvals: %w", err)
	}
	return count, nil
}

func (r *WithdrawalRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	query := `UPDATE withdrawal_requests SET status = $1, expense_payment_id = $2, executed_by = $3,
		completed_at = $4, updated_at = $5 WHERE id = $6`

	return r.exec(ctx, tx, "mark withdrawal completed", w.ID, query,
		string(domain.WithdrawalStatusCompleted), w.ExpensePaymentID, w.ExecutedBy,
		w.CompletedAt, w.UpdatedAt, w.ID,
	)
}

func (r *WithdrawalRepo) MarkCancelled(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	query := `UPDATE withdrawal_requests SET status = $1, cancelled_by = $2, cancel_reason = $3,
		cancelled_at = $4, updated_at = $5 WHERE id = $6`

	return r.exec(ctx, tx, "mark withdrawal cancelled", w.ID, query,
		string(domain.WithdrawalStatusCancelled), w.CancelledBy, w.CancelReason,
		w.CancelledAt, w.UpdatedAt, w.ID,
	)
}

func (r *WithdrawalRepo) exec(ctx context.Context, tx pgx.Tx, op string, id uuid.UUID, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("withdrawal not found: %s", id)
	}
	return nil
}

// SumCompleted totals executed withdrawals for key. tx may be nil.
func (r *WithdrawalRepo) SumCompleted(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM withdrawal_requests WHERE wallet_key = $1 AND status = $2`

	var total int64
	err := on(r.pool, tx).QueryRow(ctx, query, key.String(), string(domain.WithdrawalStatusCompleted)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum completed withdrawals: %w", err)
	}
	return domain.FromMinor(total), nil
}

// List fetches withdrawals newest first with filtering and pagination.
func (r *WithdrawalRepo) List(ctx context.Context, params ports.WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*params.Status))
		argIdx++
	}
	if params.WalletKey != nil {
		conditions = append(conditions, fmt.Sprintf("wallet_key = $%d", argIdx))
		args = append(args, params.WalletKey.String())
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM withdrawal_requests "+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count withdrawals: %w", err)
	}

	limit, offset := pageWindow(params.Page, params.PageSize)
	dataQuery := fmt.Sprintf(`SELECT %s FROM withdrawal_requests %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		withdrawalColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan withdrawal row: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate withdrawal rows: %w", err)
	}
	return out, total, nil
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var (
		w                         domain.WithdrawalRequest
		walletKey, method, status string
		amount                    int64
	)
	err := row.Scan(
		&w.ID, &w.Reference, &walletKey, &amount, &w.Purpose, &w.Description, &method, &w.Destination,
		&w.RequestedBy, &w.RequiredApprovals, &w.CurrentApprovals, &status, &w.ExpensePaymentID, &w.ExecutedBy,
		&w.CancelledBy, &w.CancelReason, &w.CreatedAt, &w.UpdatedAt, &w.CompletedAt, &w.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	key, err := domain.ParseWalletKey(walletKey)
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", w.ID, err)
	}
	w.WalletKey = key
	w.Amount = domain.FromMinor(amount)
	w.Method = domain.WithdrawalMethod(method)
	w.Status = domain.WithdrawalStatus(status)
	return &w, nil
}

// ApprovalRepo implements ports.ApprovalRepository.
type ApprovalRepo struct {
	pool Pool
}

func NewApprovalRepo(pool Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// Create records a vote. A second vote by the same approver violates the
// (withdrawal_id, approver_id) unique index and maps to WDR_003.
func (r *ApprovalRepo) Create(ctx context.Context, tx pgx.Tx, a *domain.Approval) error {
	query := `INSERT INTO withdrawal_approvals (id, withdrawal_id, approver_id, approved, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, a.ID, a.WithdrawalID, a.ApproverID, a.Approved, a.Comment, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicateApproval()
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (r *ApprovalRepo) ListByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]domain.Approval, error) {
	query := `SELECT id, withdrawal_id, approver_id, approved, comment, created_at
		FROM withdrawal_approvals WHERE withdrawal_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, withdrawalID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		var a domain.Approval
		if err := rows.Scan(&a.ID, &a.WithdrawalID, &a.ApproverID, &a.Approved, &a.Comment, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval row: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}
