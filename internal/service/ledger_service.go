package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ledger"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const summaryCacheKey = "wallets:summary"

// errAlreadyPosted aborts a deposit unit that lost a race with an
// identical redelivery.
var errAlreadyPosted = errors.New("payment already posted")

// CacheTTLs configures best-effort cache lifetimes.
type CacheTTLs struct {
	Summary time.Duration
	Payment time.Duration
}

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	updater      *Updater
	walletRepo   ports.WalletRepository
	paymentRepo  ports.PaymentEventRepository
	offeringRepo ports.SpecialOfferingRepository
	postingRepo  ports.PostingRepository
	transactor   ports.DBTransactor
	cache        ports.Cache // nil = disabled
	audit        ports.AuditService
	ttl          CacheTTLs
	log          zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	updater *Updater,
	walletRepo ports.WalletRepository,
	paymentRepo ports.PaymentEventRepository,
	offeringRepo ports.SpecialOfferingRepository,
	postingRepo ports.PostingRepository,
	transactor ports.DBTransactor,
	cache ports.Cache,
	audit ports.AuditService,
	ttl CacheTTLs,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		updater:      updater,
		walletRepo:   walletRepo,
		paymentRepo:  paymentRepo,
		offeringRepo: offeringRepo,
		postingRepo:  postingRepo,
		transactor:   transactor,
		cache:        cache,
		audit:        audit,
		ttl:          ttl,
		log:          log,
	}
}

// ProcessPayment loads a completed payment by ID and credits its wallets.
func (s *LedgerServiceImpl) ProcessPayment(ctx context.Context, paymentID uuid.UUID) (*ports.DepositResult, error) {
	p, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	return s.ApplyPayment(ctx, p)
}

// ApplyPayment resolves a completed payment into deposits and applies them
// as one all-or-nothing unit. Redelivery of an applied payment is a no-op.
func (s *LedgerServiceImpl) ApplyPayment(ctx context.Context, p *domain.PaymentEvent) (*ports.DepositResult, error) {
	if p == nil {
		return nil, apperror.Validation("Payment is required")
	}

	// Layer 1: cache fast path
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, domain.PaymentCacheKey(p.ID))
		if err != nil {
			s.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("payment cache check failed, falling through to journal")
		}
		if cached != nil {
			var res ports.DepositResult
			if err := json.Unmarshal(cached, &res); err == nil {
				res.AlreadyApplied = true
				return &res, nil
			}
		}
	}

	var offering *domain.SpecialOffering
	if p.Type == domain.PaymentTypeSpecialOffering && p.SpecialOfferingID != nil {
		o, err := s.offeringRepo.GetByID(ctx, *p.SpecialOfferingID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get special offering: %w", err))
		}
		offering = o
	}

	deltas, err := ledger.Resolve(p, offering)
	if err != nil {
		return nil, err
	}

	keys := make([]domain.WalletKey, 0, len(deltas))
	for _, d := range deltas {
		keys = append(keys, d.Key)
	}

	// Layer 2: posting journal, checked under the wallet locks
	applied := 0
	err = s.updater.Run(ctx, keys, func(ctx context.Context, tx pgx.Tx) error {
		applied = 0
		now := time.Now().UTC()
		for _, d := range deltas {
			inserted, err := s.postingRepo.Insert(ctx, tx, domain.NewDepositPosting(p.ID, d, now))
			if err != nil {
				return apperror.InternalError(fmt.Errorf("insert posting: %w", err))
			}
			if !inserted {
				continue
			}
			if _, err := s.updater.ApplyDelta(ctx, tx, d); err != nil {
				return err
			}
			applied++
		}
		if applied == 0 {
			return errAlreadyPosted
		}
		return nil
	})

	res := &ports.DepositResult{PaymentID: p.ID, Deltas: deltas}
	if errors.Is(err, errAlreadyPosted) {
		res.AlreadyApplied = true
		s.rememberPayment(ctx, res)
		return res, nil
	}
	if err != nil {
		s.log.Error().Err(err).Str("payment_id", p.ID.String()).Msg("deposit failed")
		return nil, err
	}

	s.rememberPayment(ctx, res)
	s.invalidateSummary(ctx)

	s.log.Info().
		Str("payment_id", p.ID.String()).
		Str("payment_type", string(p.Type)).
		Str("amount", p.Amount.StringFixed(2)).
		Int("deposits", applied).
		Msg("payment deposited")

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionDeposit,
		ResourceType: "payment",
		ResourceID:   p.ID.String(),
		Details:      auditDetails(map[string]any{"deltas": deltas}),
		CreatedAt:    time.Now().UTC(),
	})

	return res, nil
}

// GetWallet returns one wallet by key.
func (s *LedgerServiceImpl) GetWallet(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("wallet " + key.String())
	}
	return w, nil
}

// GetWalletSummary aggregates balances across all wallets.
func (s *LedgerServiceImpl) GetWalletSummary(ctx context.Context) (*domain.WalletSummary, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, summaryCacheKey)
		if err != nil {
			s.log.Warn().Err(err).Msg("summary cache read failed")
		}
		if cached != nil {
			var summary domain.WalletSummary
			if err := json.Unmarshal(cached, &summary); err == nil {
				return &summary, nil
			}
		}
	}

	wallets, err := s.walletRepo.List(ctx, false)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}
	summary := domain.Summarize(wallets)

	if s.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, summaryCacheKey, data, s.ttl.Summary); err != nil {
				s.log.Warn().Err(err).Msg("summary cache write failed")
			}
		}
	}
	return summary, nil
}

// GetWalletHistory returns one wallet's journal, newest first.
func (s *LedgerServiceImpl) GetWalletHistory(ctx context.Context, params ports.HistoryParams) ([]domain.Posting, int64, error) {
	if _, err := s.GetWallet(ctx, params.WalletKey); err != nil {
		return nil, 0, err
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	postings, total, err := s.postingRepo.ListByWallet(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list postings: %w", err))
	}
	return postings, total, nil
}

// InitializeWallets creates the general wallet of every category, every
// tithe sub-wallet and a wallet per active special offering. Existing
// wallets are left untouched. It returns the number created.
func (s *LedgerServiceImpl) InitializeWallets(ctx context.Context, actor *uuid.UUID) (int, error) {
	keys := make([]domain.WalletKey, 0, len(domain.GeneralCategories)+len(domain.TitheSubcategories))
	for _, c := range domain.GeneralCategories {
		keys = append(keys, domain.WalletKey{Category: c})
	}
	for _, sub := range domain.TitheSubcategories {
		keys = append(keys, domain.WalletKey{Category: domain.CategoryTithe, Subcategory: sub})
	}

	offerings, err := s.offeringRepo.ListActive(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list active offerings: %w", err))
	}
	for _, o := range offerings {
		keys = append(keys, domain.WalletKey{Category: domain.CategorySpecialOffering, Subcategory: o.Code})
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	created := 0
	for _, k := range keys {
		ok, err := s.walletRepo.Ensure(ctx, dbTx, k)
		if err != nil {
			return 0, apperror.InternalError(fmt.Errorf("ensure wallet %s: %w", k, err))
		}
		if ok {
			created++
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if created > 0 {
		s.invalidateSummary(ctx)
	}

	s.log.Info().Int("created", created).Int("known", len(keys)).Msg("wallets initialized")

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      actor,
		Action:       domain.AuditActionWalletInitialize,
		ResourceType: "wallet",
		Details:      auditDetails(map[string]any{"created": created}),
		CreatedAt:    time.Now().UTC(),
	})

	return created, nil
}

// DeactivateWallet stops withdrawals from a wallet. Deposits are still
// recorded so no payment history is lost.
func (s *LedgerServiceImpl) DeactivateWallet(ctx context.Context, key domain.WalletKey, actor uuid.UUID) error {
	if _, err := s.GetWallet(ctx, key); err != nil {
		return err
	}
	if err := s.walletRepo.SetActive(ctx, key, false); err != nil {
		return apperror.InternalError(fmt.Errorf("deactivate wallet: %w", err))
	}
	s.invalidateSummary(ctx)

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &actor,
		Action:       domain.AuditActionWalletDeactivate,
		ResourceType: "wallet",
		ResourceID:   key.String(),
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (s *LedgerServiceImpl) rememberPayment(ctx context.Context, res *ports.DepositResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, domain.PaymentCacheKey(res.PaymentID), data, s.ttl.Payment); err != nil {
		s.log.Warn().Err(err).Str("payment_id", res.PaymentID.String()).Msg("failed to cache applied payment")
	}
}

func (s *LedgerServiceImpl) invalidateSummary(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, summaryCacheKey); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate summary cache")
	}
}

func auditDetails(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
