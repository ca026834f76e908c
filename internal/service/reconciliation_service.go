package service

import (
	"context"
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
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var errNegativeRecompute = errors.New("recomputed balance is negative")

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	updater        *Updater
	walletRepo     ports.WalletRepository
	paymentRepo    ports.PaymentEventRepository
	offeringRepo   ports.SpecialOfferingRepository
	withdrawalRepo ports.WithdrawalRepository
	postingRepo    ports.PostingRepository
	cache          ports.Cache // nil = disabled
	audit          ports.AuditService
	workers        int
	log            zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
// workers bounds how many wallets are recomputed in parallel.
func NewReconciliationService(
	updater *Updater,
	walletRepo ports.WalletRepository,
	paymentRepo ports.PaymentEventRepository,
	offeringRepo ports.SpecialOfferingRepository,
	withdrawalRepo ports.WithdrawalRepository,
	postingRepo ports.PostingRepository,
	cache ports.Cache,
	audit ports.AuditService,
	workers int,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	if workers < 1 {
		workers = 1
	}
	return &ReconciliationServiceImpl{
		updater:        updater,
		walletRepo:     walletRepo,
		paymentRepo:    paymentRepo,
		offeringRepo:   offeringRepo,
		withdrawalRepo: withdrawalRepo,
		postingRepo:    postingRepo,
		cache:          cache,
		audit:          audit,
		workers:        workers,
		log:            log,
	}
}

// RecalculateBalances recomputes every active wallet from payment and
// withdrawal history and overwrites its totals. Each wallet is rebuilt
// under its own key lock so live deposits and withdrawals keep flowing.
// A wallet whose history yields a negative balance is left as is and
// reported as failed.
func (s *ReconciliationServiceImpl) RecalculateBalances(ctx context.Context, actor *uuid.UUID) (*domain.ReconcileReport, error) {
	report := &domain.ReconcileReport{StartedAt: time.Now().UTC()}

	wallets, err := s.walletRepo.List(ctx, true)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}

	results := make([]domain.ReconcileResult, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range wallets {
		key := wallets[i].Key()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.reconcileWallet(gctx, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		switch {
		case r.Error != "":
			report.Failed++
		case r.Changed:
			report.Updated++
		}
	}
	report.Wallets = results
	report.FinishedAt = time.Now().UTC()

	if s.cache != nil {
		if err := s.cache.Delete(ctx, summaryCacheKey); err != nil {
			s.log.Warn().Err(err).Msg("failed to invalidate summary cache")
		}
	}

	s.log.Info().
		Int("wallets", len(results)).
		Int("updated", report.Updated).
		Int("failed", report.Failed).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("balances recalculated")

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      actor,
		Action:       domain.AuditActionReconcile,
		ResourceType: "wallet",
		Details:      auditDetails(map[string]any{"wallets": len(results), "updated": report.Updated, "failed": report.Failed}),
		CreatedAt:    time.Now().UTC(),
	})

	return report, nil
}

func (s *ReconciliationServiceImpl) reconcileWallet(ctx context.Context, key domain.WalletKey) domain.ReconcileResult {
	res := domain.ReconcileResult{WalletKey: key.String()}

	filter, err := s.paymentFilterFor(ctx, key)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	err = s.updater.Run(ctx, []domain.WalletKey{key}, func(ctx context.Context, tx pgx.Tx) error {
		w, err := s.walletRepo.GetByKeyForUpdate(ctx, tx, key)
		if err != nil {
			return lockFailure("wallet", err)
		}
		if w == nil {
			return apperror.ErrNotFound("wallet " + key.String())
		}

		deposits, err := s.sumDeposits(ctx, tx, key, filter)
		if err != nil {
			return err
		}
		withdrawals, err := s.withdrawalRepo.SumCompleted(ctx, tx, key)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("sum withdrawals: %w", err))
		}

		balance := deposits.Sub(withdrawals)
		res.PreviousBalance = w.Balance
		res.Balance = balance
		res.TotalDeposits = deposits
		res.TotalWithdrawals = withdrawals
		if balance.IsNegative() {
			return errNegativeRecompute
		}

		res.Changed = !w.Balance.Equal(balance) ||
			!w.TotalDeposits.Equal(deposits) ||
			!w.TotalWithdrawals.Equal(withdrawals)
		if !res.Changed {
			return nil
		}

		w.Balance = balance
		w.TotalDeposits = deposits
		w.TotalWithdrawals = withdrawals
		w.LastUpdated = time.Now().UTC()
		if err := s.walletRepo.UpdateTotals(ctx, tx, w); err != nil {
			return apperror.InternalError(fmt.Errorf("update wallet: %w", err))
		}
		return nil
	})
	if err != nil {
		res.Changed = false
		res.Error = err.Error()
		s.log.Error().Err(err).Str("wallet_key", key.String()).Msg("wallet reconciliation failed")
	} else if res.Changed {
		s.log.Warn().
			Str("wallet_key", key.String()).
			Str("previous_balance", res.PreviousBalance.StringFixed(2)).
			Str("balance", res.Balance.StringFixed(2)).
			Msg("wallet balance corrected")
	}
	return res
}

// sumDeposits replays every completed deposit payment that can touch key
// and backfills missing journal lines, so a late redelivery of a counted
// payment is recognised as already applied.
func (s *ReconciliationServiceImpl) sumDeposits(ctx context.Context, tx pgx.Tx, key domain.WalletKey, filter ports.PaymentFilter) (decimal.Decimal, error) {
	payments, err := s.paymentRepo.ListCompletedDeposits(ctx, tx, filter)
	if err != nil {
		return decimal.Zero, apperror.InternalError(fmt.Errorf("list payments: %w", err))
	}

	offerings := make(map[uuid.UUID]*domain.SpecialOffering)
	total := decimal.Zero
	for i := range payments {
		p := &payments[i]

		var offering *domain.SpecialOffering
		if p.SpecialOfferingID != nil {
			o, ok := offerings[*p.SpecialOfferingID]
			if !ok {
				o, err = s.offeringRepo.GetByID(ctx, *p.SpecialOfferingID)
				if err != nil {
					return decimal.Zero, apperror.InternalError(fmt.Errorf("get special offering: %w", err))
				}
				offerings[*p.SpecialOfferingID] = o
			}
			offering = o
		}

		deltas, err := ledger.ResolveHistorical(p, offering)
		if err != nil {
			s.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("skipping unresolvable payment")
			continue
		}
		amount := ledger.AmountFor(deltas, key)
		if amount.IsZero() {
			continue
		}
		total = total.Add(amount)

		d := domain.WalletDelta{Key: key, Amount: amount, Operation: domain.OperationDeposit}
		if _, err := s.postingRepo.Insert(ctx, tx, domain.NewDepositPosting(p.ID, d, p.CreatedAt)); err != nil {
			return decimal.Zero, apperror.InternalError(fmt.Errorf("backfill posting: %w", err))
		}
	}
	return total, nil
}

func (s *ReconciliationServiceImpl) paymentFilterFor(ctx context.Context, key domain.WalletKey) (ports.PaymentFilter, error) {
	if key.Category != domain.CategorySpecialOffering {
		return ports.PaymentFilter{Type: domain.PaymentType(key.Category)}, nil
	}
	o, err := s.offeringRepo.GetByCode(ctx, key.Subcategory)
	if err != nil {
		return ports.PaymentFilter{}, fmt.Errorf("get special offering %s: %w", key.Subcategory, err)
	}
	if o == nil {
		return ports.PaymentFilter{}, fmt.Errorf("special offering %q not found", key.Subcategory)
	}
	return ports.PaymentFilter{Type: domain.PaymentTypeSpecialOffering, SpecialOfferingID: &o.ID}, nil
}

// ValidateIntegrity reports negative balances and totals mismatches
// without changing anything.
func (s *ReconciliationServiceImpl) ValidateIntegrity(ctx context.Context) (*domain.IntegrityReport, error) {
	wallets, err := s.walletRepo.List(ctx, false)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}

	report := &domain.IntegrityReport{
		CheckedAt:    time.Now().UTC(),
		WalletsTotal: len(wallets),
		Issues:       []domain.IntegrityIssue{},
	}
	for i := range wallets {
		w := &wallets[i]
		key := w.Key().String()
		if w.Balance.IsNegative() {
			report.Issues = append(report.Issues, domain.IntegrityIssue{
				WalletKey: key,
				Kind:      domain.IssueNegativeBalance,
				Balance:   w.Balance,
				Expected:  decimal.Zero,
				Detail:    "balance is below zero",
			})
		}
		expected := w.TotalDeposits.Sub(w.TotalWithdrawals)
		if !domain.WithinTolerance(w.Balance, expected) {
			report.Issues = append(report.Issues, domain.IntegrityIssue{
				WalletKey: key,
				Kind:      domain.IssueTotalsMismatch,
				Balance:   w.Balance,
				Expected:  expected,
				Detail:    fmt.Sprintf("balance differs from deposits minus withdrawals by %s", w.Balance.Sub(expected).StringFixed(2)),
			})
		}
	}

	if !report.Healthy() {
		s.log.Warn().Int("issues", len(report.Issues)).Msg("ledger integrity issues found")
	}
	return report, nil
}
