package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"

	"tassiac-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	// Ensure creates the wallet at zero if it does not exist yet.
	// It reports whether a row was inserted.
	Ensure(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (bool, error)
	GetByKey(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error)
	GetByKeyForUpdate(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error)
	UpdateTotals(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error
	SetActive(ctx context.Context, key domain.WalletKey, active bool) error
	List(ctx context.Context, activeOnly bool) ([]domain.Wallet, error)
}

// PaymentEventRepository reads payments owned by the payment subsystem and
// records expense payments for executed withdrawals.
type PaymentEventRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentEvent, error)
	// ListCompletedDeposits returns completed, non-expense payments matching the filter.
	ListCompletedDeposits(ctx context.Context, tx pgx.Tx, filter PaymentFilter) ([]domain.PaymentEvent, error)
	CreateExpense(ctx context.Context, tx pgx.Tx, p *domain.PaymentEvent) error
}

// PaymentFilter narrows a completed-payment scan.
type PaymentFilter struct {
	Type              domain.PaymentType
	SpecialOfferingID *uuid.UUID
}

// SpecialOfferingRepository reads special offering campaigns.
type SpecialOfferingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SpecialOffering, error)
	GetByCode(ctx context.Context, code string) (*domain.SpecialOffering, error)
	ListActive(ctx context.Context) ([]domain.SpecialOffering, error)
}

// WithdrawalRepository defines persistence operations for withdrawal requests.
type WithdrawalRepository interface {
	Create(ctx context.Context, w *domain.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error)
	// IncrementApprovals bumps current_approvals in place and returns the new count.
	IncrementApprovals(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest) error
	// SumCompleted totals completed withdrawals drawn from a wallet.
	SumCompleted(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (decimal.Decimal, error)
	List(ctx context.Context, params WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error)
}

// WithdrawalListParams holds filter + pagination for listing withdrawals.
type WithdrawalListParams struct {
	Status    *domain.WithdrawalStatus
	WalletKey *domain.WalletKey
	Page      int
	PageSize  int
}

// ApprovalRepository stores approval votes. Create returns an
// apperror with code WDR_003 when the approver already voted.
type ApprovalRepository interface {
	Create(ctx context.Context, tx pgx.Tx, a *domain.Approval) error
	ListByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]domain.Approval, error)
}

// PostingRepository is the ledger journal.
type PostingRepository interface {
	// Insert records a posting. It reports false, without error, when a
	// deposit posting for the same (payment, wallet) already exists.
	Insert(ctx context.Context, tx pgx.Tx, p *domain.Posting) (bool, error)
	ListByWallet(ctx context.Context, params HistoryParams) ([]domain.Posting, int64, error)
}

// HistoryParams holds pagination for one wallet's journal.
type HistoryParams struct {
	WalletKey domain.WalletKey
	Operation *domain.Operation
	Page      int
	PageSize  int
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	// BeginSerializable starts a serializable transaction with the
	// configured lock wait bound.
	BeginSerializable(ctx context.Context) (pgx.Tx, error)
}

// KeyLocker takes exclusive per-wallet locks held until tx ends.
// Keys must already be sorted by LockID.
type KeyLocker interface {
	LockKeys(ctx context.Context, tx pgx.Tx, keys []domain.WalletKey) error
}
