package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"tassiac-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenService handles JWT token operations. Tokens are issued by the
// access-control layer; the ledger only validates them.
type TokenService interface {
	Generate(userID uuid.UUID, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   string
}

// EncryptionService seals sensitive fields before they are stored.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Cache is a best-effort key/value cache. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// --- Service Ports (Business Logic) ---

// LedgerService applies deposits and serves wallet reads.
type LedgerService interface {
	ProcessPayment(ctx context.Context, paymentID uuid.UUID) (*DepositResult, error)
	ApplyPayment(ctx context.Context, p *domain.PaymentEvent) (*DepositResult, error)
	GetWallet(ctx context.Context, key domain.WalletKey) (*domain.Wallet, error)
	GetWalletSummary(ctx context.Context) (*domain.WalletSummary, error)
	GetWalletHistory(ctx context.Context, params HistoryParams) ([]domain.Posting, int64, error)
	InitializeWallets(ctx context.Context, actor *uuid.UUID) (int, error)
	DeactivateWallet(ctx context.Context, key domain.WalletKey, actor uuid.UUID) error
}

// DepositResult reports what a payment did to the ledger.
type DepositResult struct {
	PaymentID      uuid.UUID            `json:"payment_id"`
	Deltas         []domain.WalletDelta `json:"deltas"`
	AlreadyApplied bool                 `json:"already_applied"`
}

// WithdrawalService drives the withdrawal approval workflow.
type WithdrawalService interface {
	CreateWithdrawal(ctx context.Context, req CreateWithdrawalRequest) (*domain.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, req ApproveWithdrawalRequest) (*domain.WithdrawalRequest, error)
	ExecuteWithdrawal(ctx context.Context, id uuid.UUID, executor uuid.UUID) (*domain.WithdrawalRequest, error)
	CancelWithdrawal(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*domain.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, []domain.Approval, error)
	ListWithdrawals(ctx context.Context, params WithdrawalListParams) ([]domain.WithdrawalRequest, int64, error)
}

// CreateWithdrawalRequest holds validated input for a new withdrawal.
type CreateWithdrawalRequest struct {
	WalletKey   domain.WalletKey
	Amount      decimal.Decimal
	Purpose     string
	Description *string
	Method      domain.WithdrawalMethod
	Destination *string
	RequestedBy uuid.UUID
}

// ApproveWithdrawalRequest holds one approver's vote.
type ApproveWithdrawalRequest struct {
	WithdrawalID uuid.UUID
	ApproverID   uuid.UUID
	Approved     bool
	Comment      *string
}

// ReconciliationService recomputes and checks wallet balances.
type ReconciliationService interface {
	RecalculateBalances(ctx context.Context, actor *uuid.UUID) (*domain.ReconcileReport, error)
	ValidateIntegrity(ctx context.Context) (*domain.IntegrityReport, error)
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
