package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WithdrawalRepo implements ports.WithdrawalRepository.
type WithdrawalRepo struct {
	store *Store
}

// NewWithdrawalRepo creates a new WithdrawalRepo.
func NewWithdrawalRepo(store *Store) *WithdrawalRepo {
	return &WithdrawalRepo{store: store}
}

func (r *WithdrawalRepo) Create(ctx context.Context, w *domain.WithdrawalRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.withdrawals[w.ID]; ok {
		return fmt.Errorf("withdrawal %s already exists", w.ID)
	}
	cp := *w
	r.store.withdrawals[w.ID] = &cp
	return nil
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	w, ok := r.store.withdrawals[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// GetByIDForUpdate takes the row lock for the rest of tx.
func (r *WithdrawalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, withdrawalLockName(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *WithdrawalRepo) IncrementApprovals(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	var count int
	err := r.mutate(tx, id, func(w *domain.WithdrawalRequest) {
		w.CurrentApprovals++
		w.UpdatedAt = time.Now().UTC()
		count = w.CurrentApprovals
	})
	return count, err
}

func (r *WithdrawalRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	return r.mutate(tx, w.ID, func(cur *domain.WithdrawalRequest) {
		cur.Status = domain.WithdrawalStatusCompleted
		cur.ExpensePaymentID = w.ExpensePaymentID
		cur.ExecutedBy = w.ExecutedBy
		cur.CompletedAt = w.CompletedAt
		cur.UpdatedAt = w.UpdatedAt
	})
}

func (r *WithdrawalRepo) MarkCancelled(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error {
	return r.mutate(tx, w.ID, func(cur *domain.WithdrawalRequest) {
		cur.Status = domain.WithdrawalStatusCancelled
		cur.CancelledBy = w.CancelledBy
		cur.CancelReason = w.CancelReason
		cur.CancelledAt = w.CancelledAt
		cur.UpdatedAt = w.UpdatedAt
	})
}

func (r *WithdrawalRepo) mutate(tx pgx.Tx, id uuid.UUID, fn func(*domain.WithdrawalRequest)) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.withdrawals[id]
	if !ok {
		return fmt.Errorf("withdrawal not found: %s", id)
	}
	prev := *cur
	fn(cur)
	mt.onRollback(func() { *cur = prev })
	return nil
}

func (r *WithdrawalRepo) SumCompleted(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (decimal.Decimal, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sum := decimal.Zero
	for _, w := range r.store.withdrawals {
		if w.Status == domain.WithdrawalStatusCompleted && w.WalletKey == key {
			sum = sum.Add(w.Amount)
		}
	}
	return sum, nil
}

func (r *WithdrawalRepo) List(ctx context.Context, params ports.WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error) {
	r.store.mu.RLock()
	var all []domain.WithdrawalRequest
	for _, w := range r.store.withdrawals {
		if params.Status != nil && w.Status != *params.Status {
			continue
		}
		if params.WalletKey != nil && w.WalletKey != *params.WalletKey {
			continue
		}
		all = append(all, *w)
	}
	r.store.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	page, total := paginate(len(all), params.Page, params.PageSize)
	return all[page.from:page.to], total, nil
}

// ApprovalRepo implements ports.ApprovalRepository.
type ApprovalRepo struct {
	store *Store
}

// NewApprovalRepo creates a new ApprovalRepo.
func NewApprovalRepo(store *Store) *ApprovalRepo {
	return &ApprovalRepo{store: store}
}

func (r *ApprovalRepo) Create(ctx context.Context, tx pgx.Tx, a *domain.Approval) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.approvals {
		if existing.WithdrawalID == a.WithdrawalID && existing.ApproverID == a.ApproverID {
			return apperror.ErrDuplicateApproval()
		}
	}
	s.approvals = append(s.approvals, *a)
	mt.onRollback(func() {
		for i := range s.approvals {
			if s.approvals[i].ID == a.ID {
				s.approvals = append(s.approvals[:i], s.approvals[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *ApprovalRepo) ListByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]domain.Approval, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Approval
	for _, a := range r.store.approvals {
		if a.WithdrawalID == withdrawalID {
			out = append(out, a)
		}
	}
	return out, nil
}

type window struct{ from, to int }

func paginate(n, page, pageSize int) (window, int64) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	from := (page - 1) * pageSize
	if from > n {
		from = n
	}
	to := from + pageSize
	if to > n {
		to = n
	}
	return window{from: from, to: to}, int64(n)
}
