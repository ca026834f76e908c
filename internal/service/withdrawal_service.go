package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WithdrawalPolicy holds the approval threshold and amount bounds.
type WithdrawalPolicy struct {
	RequiredApprovals int
	MinAmount         decimal.Decimal
	MaxAmount         decimal.Decimal
}

// WithdrawalServiceImpl implements ports.WithdrawalService.
//
// Approval policy: one vote per distinct approver, and the requester may
// not vote on their own request. Only approving votes count towards the
// threshold; a rejecting vote is recorded for the audit trail.
type WithdrawalServiceImpl struct {
	updater        *Updater
	withdrawalRepo ports.WithdrawalRepository
	approvalRepo   ports.ApprovalRepository
	walletRepo     ports.WalletRepository
	paymentRepo    ports.PaymentEventRepository
	postingRepo    ports.PostingRepository
	cache          ports.Cache             // nil = disabled
	crypter        ports.EncryptionService // nil = destinations stored as given
	audit          ports.AuditService
	policy         WithdrawalPolicy
	log            zerolog.Logger
}

// NewWithdrawalService creates a new WithdrawalServiceImpl.
func NewWithdrawalService(
	updater *Updater,
	withdrawalRepo ports.WithdrawalRepository,
	approvalRepo ports.ApprovalRepository,
	walletRepo ports.WalletRepository,
	paymentRepo ports.PaymentEventRepository,
	postingRepo ports.PostingRepository,
	cache ports.Cache,
	crypter ports.EncryptionService,
	audit ports.AuditService,
	policy WithdrawalPolicy,
	log zerolog.Logger,
) *WithdrawalServiceImpl {
	return &WithdrawalServiceImpl{
		updater:        updater,
		withdrawalRepo: withdrawalRepo,
		approvalRepo:   approvalRepo,
		walletRepo:     walletRepo,
		paymentRepo:    paymentRepo,
		postingRepo:    postingRepo,
		cache:          cache,
		crypter:        crypter,
		audit:          audit,
		policy:         policy,
		log:            log,
	}
}

// CreateWithdrawal opens a PENDING request. The balance check here is
// advisory only; the binding check happens at execution.
func (s *WithdrawalServiceImpl) CreateWithdrawal(ctx context.Context, req ports.CreateWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	if strings.TrimSpace(req.Purpose) == "" {
		return nil, apperror.Validation("Purpose is required")
	}
	if !req.Method.IsValid() {
		return nil, apperror.Validation(fmt.Sprintf("Unknown withdrawal method %q", req.Method))
	}
	if req.RequestedBy == uuid.Nil {
		return nil, apperror.Validation("Requester is required")
	}
	if !req.Amount.IsPositive() || req.Amount.LessThan(s.policy.MinAmount) || req.Amount.GreaterThan(s.policy.MaxAmount) {
		return nil, apperror.ErrAmountOutOfBounds(s.policy.MinAmount.StringFixed(2), s.policy.MaxAmount.StringFixed(2))
	}
	if !domain.IsWholeMinor(req.Amount) {
		return nil, apperror.ErrAmountPrecision()
	}

	wallet, err := s.walletRepo.GetByKey(ctx, req.WalletKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet " + req.WalletKey.String())
	}
	if !wallet.IsActive {
		return nil, apperror.ErrWalletInactive(req.WalletKey.String())
	}

	if wallet.Balance.LessThan(req.Amount) {
		s.log.Warn().
			Str("wallet_key", req.WalletKey.String()).
			Str("balance", wallet.Balance.StringFixed(2)).
			Str("amount", req.Amount.StringFixed(2)).
			Msg("withdrawal requested above current balance")
	}

	now := time.Now().UTC()
	w := &domain.WithdrawalRequest{
		ID:                uuid.New(),
		Reference:         domain.NewWithdrawalReference(now),
		WalletKey:         req.WalletKey,
		Amount:            req.Amount,
		Purpose:           req.Purpose,
		Description:       req.Description,
		Method:            req.Method,
		Destination:       req.Destination,
		RequestedBy:       req.RequestedBy,
		RequiredApprovals: s.policy.RequiredApprovals,
		CurrentApprovals:  0,
		Status:            domain.WithdrawalStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	stored := *w
	if s.crypter != nil && w.Destination != nil {
		sealed, err := s.crypter.Encrypt(*w.Destination)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("encrypt destination: %w", err))
		}
		stored.Destination = &sealed
	}
	if err := s.withdrawalRepo.Create(ctx, &stored); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create withdrawal: %w", err))
	}

	s.log.Info().
		Str("withdrawal_id", w.ID.String()).
		Str("reference", w.Reference).
		Str("wallet_key", w.WalletKey.String()).
		Str("amount", w.Amount.StringFixed(2)).
		Msg("withdrawal requested")

	s.auditWithdrawal(ctx, domain.AuditActionWithdrawalCreate, w, req.RequestedBy, nil)
	return w, nil
}

// ApproveWithdrawal records a vote. The request row is locked for the
// duration and the counter is incremented in place.
func (s *WithdrawalServiceImpl) ApproveWithdrawal(ctx context.Context, req ports.ApproveWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	if req.ApproverID == uuid.Nil {
		return nil, apperror.Validation("Approver is required")
	}

	var result *domain.WithdrawalRequest
	err := s.updater.Run(ctx, nil, func(ctx context.Context, tx pgx.Tx) error {
		w, err := s.lockPending(ctx, tx, req.WithdrawalID)
		if err != nil {
			return err
		}
		if w.RequestedBy == req.ApproverID {
			return apperror.ErrSelfApproval()
		}

		approval := &domain.Approval{
			ID:           uuid.New(),
			WithdrawalID: w.ID,
			ApproverID:   req.ApproverID,
			Approved:     req.Approved,
			Comment:      req.Comment,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.approvalRepo.Create(ctx, tx, approval); err != nil {
			if apperror.HasCode(err, apperror.CodeDuplicateApproval) {
				return err
			}
			return apperror.InternalError(fmt.Errorf("create approval: %w", err))
		}

		if req.Approved {
			n, err := s.withdrawalRepo.IncrementApprovals(ctx, tx, w.ID)
			if err != nil {
				return apperror.InternalError(fmt.Errorf("increment approvals: %w", err))
			}
			w.CurrentApprovals = n
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.reveal(result); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("withdrawal_id", result.ID.String()).
		Str("approver_id", req.ApproverID.String()).
		Bool("approved", req.Approved).
		Int("current_approvals", result.CurrentApprovals).
		Int("required_approvals", result.RequiredApprovals).
		Msg("withdrawal vote recorded")

	s.auditWithdrawal(ctx, domain.AuditActionWithdrawalApprove, result, req.ApproverID, map[string]any{"approved": req.Approved})
	return result, nil
}

// ExecuteWithdrawal debits the wallet once the approval threshold is met.
// Any failure leaves the request PENDING.
func (s *WithdrawalServiceImpl) ExecuteWithdrawal(ctx context.Context, id uuid.UUID, executor uuid.UUID) (*domain.WithdrawalRequest, error) {
	current, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get withdrawal: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNotFound("withdrawal")
	}

	var result *domain.WithdrawalRequest
	err = s.updater.Run(ctx, []domain.WalletKey{current.WalletKey}, func(ctx context.Context, tx pgx.Tx) error {
		w, err := s.lockPending(ctx, tx, id)
		if err != nil {
			return err
		}
		if !w.HasQuorum() {
			return apperror.ErrInsufficientApprovals(w.CurrentApprovals, w.RequiredApprovals)
		}

		wallet, err := s.walletRepo.GetByKeyForUpdate(ctx, tx, w.WalletKey)
		if err != nil {
			return lockFailure("wallet", err)
		}
		if wallet == nil {
			return apperror.ErrNotFound("wallet " + w.WalletKey.String())
		}
		if wallet.Balance.LessThan(w.Amount) {
			return apperror.ErrInsufficientFunds()
		}

		delta := domain.WalletDelta{Key: w.WalletKey, Amount: w.Amount, Operation: domain.OperationWithdrawal}
		if _, err := s.updater.ApplyDelta(ctx, tx, delta); err != nil {
			return err
		}

		now := time.Now().UTC()
		expense := &domain.PaymentEvent{
			ID:           uuid.New(),
			Amount:       w.Amount,
			Type:         domain.PaymentTypeExpense,
			IsCompleted:  true,
			IsExpense:    true,
			Description:  fmt.Sprintf("Withdrawal %s: %s", w.Reference, w.Purpose),
			WithdrawalID: &w.ID,
			CreatedAt:    now,
		}
		if err := s.paymentRepo.CreateExpense(ctx, tx, expense); err != nil {
			return apperror.InternalError(fmt.Errorf("record expense: %w", err))
		}

		posting := &domain.Posting{
			ID:           uuid.New(),
			WalletKey:    w.WalletKey,
			Operation:    domain.OperationWithdrawal,
			Amount:       w.Amount,
			PaymentID:    &expense.ID,
			WithdrawalID: &w.ID,
			Description:  w.Purpose,
			CreatedAt:    now,
		}
		if _, err := s.postingRepo.Insert(ctx, tx, posting); err != nil {
			return apperror.InternalError(fmt.Errorf("insert posting: %w", err))
		}

		w.Status = domain.WithdrawalStatusCompleted
		w.CompletedAt = &now
		w.UpdatedAt = now
		w.ExecutedBy = &executor
		w.ExpensePaymentID = &expense.ID
		if err := s.withdrawalRepo.MarkCompleted(ctx, tx, w); err != nil {
			return apperror.InternalError(fmt.Errorf("mark completed: %w", err))
		}
		result = w
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("withdrawal_id", id.String()).Msg("withdrawal execution failed, request stays pending")
		return nil, err
	}
	if err := s.reveal(result); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, summaryCacheKey); err != nil {
			s.log.Warn().Err(err).Msg("failed to invalidate summary cache")
		}
	}

	s.log.Info().
		Str("withdrawal_id", result.ID.String()).
		Str("reference", result.Reference).
		Str("wallet_key", result.WalletKey.String()).
		Str("amount", result.Amount.StringFixed(2)).
		Msg("withdrawal executed")

	s.auditWithdrawal(ctx, domain.AuditActionWithdrawalExecute, result, executor, nil)
	return result, nil
}

// CancelWithdrawal terminates a PENDING request without touching the wallet.
func (s *WithdrawalServiceImpl) CancelWithdrawal(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*domain.WithdrawalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.Validation("Cancellation reason is required")
	}

	var result *domain.WithdrawalRequest
	err := s.updater.Run(ctx, nil, func(ctx context.Context, tx pgx.Tx) error {
		w, err := s.lockPending(ctx, tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		w.Status = domain.WithdrawalStatusCancelled
		w.CancelledAt = &now
		w.CancelledBy = &actor
		w.CancelReason = &reason
		w.UpdatedAt = now
		if err := s.withdrawalRepo.MarkCancelled(ctx, tx, w); err != nil {
			return apperror.InternalError(fmt.Errorf("mark cancelled: %w", err))
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.reveal(result); err != nil {
		return nil, err
	}

	s.log.Info().Str("withdrawal_id", id.String()).Str("reason", reason).Msg("withdrawal cancelled")
	s.auditWithdrawal(ctx, domain.AuditActionWithdrawalCancel, result, actor, map[string]any{"reason": reason})
	return result, nil
}

// GetWithdrawal returns a request with its votes.
func (s *WithdrawalServiceImpl) GetWithdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, []domain.Approval, error) {
	w, err := s.withdrawalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("get withdrawal: %w", err))
	}
	if w == nil {
		return nil, nil, apperror.ErrNotFound("withdrawal")
	}
	if err := s.reveal(w); err != nil {
		return nil, nil, err
	}
	approvals, err := s.approvalRepo.ListByWithdrawal(ctx, id)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("list approvals: %w", err))
	}
	return w, approvals, nil
}

// ListWithdrawals pages through requests, newest first.
func (s *WithdrawalServiceImpl) ListWithdrawals(ctx context.Context, params ports.WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	items, total, err := s.withdrawalRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list withdrawals: %w", err))
	}
	for i := range items {
		if err := s.reveal(&items[i]); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// reveal decrypts a stored destination in place.
func (s *WithdrawalServiceImpl) reveal(w *domain.WithdrawalRequest) error {
	if s.crypter == nil || w.Destination == nil {
		return nil
	}
	plain, err := s.crypter.Decrypt(*w.Destination)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("decrypt destination: %w", err))
	}
	w.Destination = &plain
	return nil
}

func (s *WithdrawalServiceImpl) lockPending(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	w, err := s.withdrawalRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, lockFailure("withdrawal", err)
	}
	if w == nil {
		return nil, apperror.ErrNotFound("withdrawal")
	}
	if !w.IsPending() {
		return nil, apperror.ErrNotPending(string(w.Status))
	}
	return w, nil
}

func (s *WithdrawalServiceImpl) auditWithdrawal(ctx context.Context, action domain.AuditAction, w *domain.WithdrawalRequest, actor uuid.UUID, extra map[string]any) {
	details := map[string]any{
		"reference":  w.Reference,
		"wallet_key": w.WalletKey.String(),
		"amount":     w.Amount.StringFixed(2),
		"status":     string(w.Status),
	}
	for k, v := range extra {
		details[k] = v
	}
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &actor,
		Action:       action,
		ResourceType: "withdrawal",
		ResourceID:   w.ID.String(),
		Details:      auditDetails(details),
		CreatedAt:    time.Now().UTC(),
	})
}
