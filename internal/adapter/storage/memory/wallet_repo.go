package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tassiac-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(store *Store) *WalletRepo {
	return &WalletRepo{store: store}
}

func (r *WalletRepo) Ensure(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (bool, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return false, err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if _, ok := s.wallets[k]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	s.wallets[k] = &domain.Wallet{
		ID:               uuid.New(),
		Category:         key.Category,
		Subcategory:      key.SubcategoryPtr(),
		Balance:          decimal.Zero,
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		IsActive:         true,
		LastUpdated:      now,
		CreatedAt:        now,
	}
	mt.onRollback(func() { delete(s.wallets, k) })
	return true, nil
}

func (r *WalletRepo) GetByKey(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	w, ok := r.store.wallets[key.String()]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// GetByKeyForUpdate takes the wallet's lock for the rest of tx.
func (r *WalletRepo) GetByKeyForUpdate(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, walletLockName(key)); err != nil {
		return nil, err
	}
	return r.GetByKey(ctx, key)
}

func (r *WalletRepo) UpdateTotals(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	k := w.Key().String()
	cur, ok := s.wallets[k]
	if !ok {
		return fmt.Errorf("wallet not found: %s", k)
	}
	balance, deposits, withdrawals, updated := cur.Balance, cur.TotalDeposits, cur.TotalWithdrawals, cur.LastUpdated
	cur.Balance = w.Balance
	cur.TotalDeposits = w.TotalDeposits
	cur.TotalWithdrawals = w.TotalWithdrawals
	cur.LastUpdated = w.LastUpdated
	// IsActive is not covered by the key lock; leave it alone.
	mt.onRollback(func() {
		cur.Balance = balance
		cur.TotalDeposits = deposits
		cur.TotalWithdrawals = withdrawals
		cur.LastUpdated = updated
	})
	return nil
}

func (r *WalletRepo) SetActive(ctx context.Context, key domain.WalletKey, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	w, ok := r.store.wallets[key.String()]
	if !ok {
		return fmt.Errorf("wallet not found: %s", key)
	}
	w.IsActive = active
	w.LastUpdated = time.Now().UTC()
	return nil
}

func (r *WalletRepo) List(ctx context.Context, activeOnly bool) ([]domain.Wallet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]domain.Wallet, 0, len(r.store.wallets))
	for _, w := range r.store.wallets {
		if activeOnly && !w.IsActive {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}
