package memory

import (
	"context"
	"sort"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// PostingRepo implements ports.PostingRepository.
type PostingRepo struct {
	store *Store
}

// NewPostingRepo creates a new PostingRepo.
func NewPostingRepo(store *Store) *PostingRepo {
	return &PostingRepo{store: store}
}

func postedKey(p *domain.Posting) string {
	return p.PaymentID.String() + "|" + p.WalletKey.String()
}

func (r *PostingRepo) Insert(ctx context.Context, tx pgx.Tx, p *domain.Posting) (bool, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return false, err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	dedupe := p.Operation == domain.OperationDeposit && p.PaymentID != nil
	var k string
	if dedupe {
		k = postedKey(p)
		if _, ok := s.posted[k]; ok {
			return false, nil
		}
		s.posted[k] = struct{}{}
	}
	s.postings = append(s.postings, *p)
	id := p.ID
	mt.onRollback(func() {
		for i := range s.postings {
			if s.postings[i].ID == id {
				s.postings = append(s.postings[:i], s.postings[i+1:]...)
				break
			}
		}
		if dedupe {
			delete(s.posted, k)
		}
	})
	return true, nil
}

func (r *PostingRepo) ListByWallet(ctx context.Context, params ports.HistoryParams) ([]domain.Posting, int64, error) {
	r.store.mu.RLock()
	var all []domain.Posting
	for _, p := range r.store.postings {
		if p.WalletKey != params.WalletKey {
			continue
		}
		if params.Operation != nil && p.Operation != *params.Operation {
			continue
		}
		all = append(all, p)
	}
	r.store.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	page, total := paginate(len(all), params.Page, params.PageSize)
	return all[page.from:page.to], total, nil
}
