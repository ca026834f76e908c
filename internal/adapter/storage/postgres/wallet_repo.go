package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tassiac-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, category, subcategory, balance, total_deposits, total_withdrawals,
	is_active, last_updated, created_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Ensure creates an empty active wallet for key unless one exists. It
// reports whether a row was inserted.
func (r *WalletRepo) Ensure(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (bool, error) {
	query := `INSERT INTO wallets (id, wallet_key, category, subcategory, balance, total_deposits,
		total_withdrawals, is_active, last_updated, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, TRUE, $5, $5)
		ON CONFLICT (wallet_key) DO NOTHING`

	tag, err := on(r.pool, tx).Exec(ctx, query,
		uuid.New(), key.String(), string(key.Category), key.SubcategoryPtr(), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("ensure wallet %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByKey fetches a wallet without locking. Returns nil, nil when absent.
func (r *WalletRepo) GetByKey(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE wallet_key = $1`
	w, err := scanWallet(r.pool.QueryRow(ctx, query, key.String()))
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", key, err)
	}
	return w, nil
}

// GetByKeyForUpdate fetches a wallet with a row lock.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByKeyForUpdate(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE wallet_key = $1 FOR UPDATE`
	w, err := scanWallet(tx.QueryRow(ctx, query, key.String()))
	if err != nil {
		return nil, fmt.Errorf("get wallet for update %s: %w", key, err)
	}
	return w, nil
}

// UpdateTotals writes balance and running totals within a transaction.
func (r *WalletRepo) UpdateTotals(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `UPDATE wallets SET balance = $1, total_deposits = $2, total_withdrawals = $3, last_updated = $4
		WHERE wallet_key = $5`

	tag, err := tx.Exec(ctx, query,
		domain.ToMinor(w.Balance), domain.ToMinor(w.TotalDeposits), domain.ToMinor(w.TotalWithdrawals),
		w.LastUpdated, w.Key().String(),
	)
	if err != nil {
		return fmt.Errorf("update wallet totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", w.Key())
	}
	return nil
}

func (r *WalletRepo) SetActive(ctx context.Context, key domain.WalletKey, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE wallets SET is_active = $1, last_updated = $2 WHERE wallet_key = $3`,
		active, time.Now().UTC(), key.String(),
	)
	if err != nil {
		return fmt.Errorf("set wallet active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", key)
	}
	return nil
}

// List returns wallets ordered by key.
func (r *WalletRepo) List(ctx context.Context, activeOnly bool) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY wallet_key`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var (
		w                              domain.Wallet
		category                       string
		balance, deposits, withdrawals int64
	)
	err := row.Scan(
		&w.ID, &category, &w.Subcategory, &balance, &deposits, &withdrawals,
		&w.IsActive, &w.LastUpdated, &w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	w.Category = domain.Category(category)
	w.Balance = domain.FromMinor(balance)
	w.TotalDeposits = domain.FromMinor(deposits)
	w.TotalWithdrawals = domain.FromMinor(withdrawals)
	return &w, nil
}
