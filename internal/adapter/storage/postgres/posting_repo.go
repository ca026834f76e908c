package postgres

import (
	"context"
	"fmt"
	"strings"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// PostingRepo implements ports.PostingRepository over the ledger_postings
// journal.
type PostingRepo struct {
	pool Pool
}

func NewPostingRepo(pool Pool) *PostingRepo {
	return &PostingRepo{pool: pool}
}

// Insert appends a posting. Deposit postings are unique per (payment,
// wallet); a duplicate is skipped and reported as false.
func (r *PostingRepo) Insert(ctx context.Context, tx pgx.Tx, p *domain.Posting) (bool, error) {
	query := `INSERT INTO ledger_postings (id, wallet_key, operation, amount, payment_id, withdrawal_id,
		description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_id, wallet_key) WHERE operation = 'DEPOSIT' AND payment_id IS NOT NULL
		DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		p.ID, p.WalletKey.String(), string(p.Operation), domain.ToMinor(p.Amount),
		p.PaymentID, p.WithdrawalID, p.Description, p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert posting: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByWallet returns a wallet's postings newest first.
func (r *PostingRepo) ListByWallet(ctx context.Context, params ports.HistoryParams) ([]domain.Posting, int64, error) {
	conditions := []string{"wallet_key = $1"}
	args := []any{params.WalletKey.String()}
	argIdx := 2

	if params.Operation != nil {
		conditions = append(conditions, fmt.Sprintf("operation = $%d", argIdx))
		args = append(args, string(*params.Operation))
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_postings "+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count postings: %w", err)
	}

	limit, offset := pageWindow(params.Page, params.PageSize)
	dataQuery := fmt.Sprintf(`SELECT id, wallet_key, operation, amount, payment_id, withdrawal_id, description, created_at
		FROM ledger_postings %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list postings: %w", err)
	}
	defer rows.Close()

	var postings []domain.Posting
	for rows.Next() {
		var (
			p                    domain.Posting
			walletKey, operation string
			amount               int64
			description          *string
		)
		err := rows.Scan(&p.ID, &walletKey, &operation, &amount, &p.PaymentID, &p.WithdrawalID, &description, &p.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan posting row: %w", err)
		}
		if p.WalletKey, err = domain.ParseWalletKey(walletKey); err != nil {
			return nil, 0, fmt.Errorf("posting %s: %w", p.ID, err)
		}
		p.Operation = domain.Operation(operation)
		p.Amount = domain.FromMinor(amount)
		if description != nil {
			p.Description = *description
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate posting rows: %w", err)
	}
	return postings, total, nil
}
