package memory

import (
	"context"
	"sort"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentRepo implements ports.PaymentEventRepository.
type PaymentRepo struct {
	store *Store
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(store *Store) *PaymentRepo {
	return &PaymentRepo{store: store}
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *PaymentRepo) ListCompletedDeposits(ctx context.Context, tx pgx.Tx, filter ports.PaymentFilter) ([]domain.PaymentEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []domain.PaymentEvent
	for _, p := range r.store.payments {
		if !p.IsCompleted || p.IsExpense {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if filter.SpecialOfferingID != nil && (p.SpecialOfferingID == nil || *p.SpecialOfferingID != *filter.SpecialOfferingID) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PaymentRepo) CreateExpense(ctx context.Context, tx pgx.Tx, p *domain.PaymentEvent) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
	mt.onRollback(func() { delete(s.payments, p.ID) })
	return nil
}

// OfferingRepo implements ports.SpecialOfferingRepository.
type OfferingRepo struct {
	store *Store
}

// NewOfferingRepo creates a new OfferingRepo.
func NewOfferingRepo(store *Store) *OfferingRepo {
	return &OfferingRepo{store: store}
}

func (r *OfferingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SpecialOffering, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	o, ok := r.store.offerings[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (r *OfferingRepo) GetByCode(ctx context.Context, code string) (*domain.SpecialOffering, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, o := range r.store.offerings {
		if o.Code == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *OfferingRepo) ListActive(ctx context.Context) ([]domain.SpecialOffering, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.SpecialOffering
	for _, o := range r.store.offerings {
		if o.IsActive {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
