package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus represents the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "PENDING"
	WithdrawalStatusCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalStatusCancelled WithdrawalStatus = "CANCELLED"
)

// WithdrawalMethod is how the funds leave the church account.
type WithdrawalMethod string

const (
	WithdrawalMethodBankTransfer WithdrawalMethod = "BANK_TRANSFER"
	WithdrawalMethodMobileMoney  WithdrawalMethod = "MOBILE_MONEY"
	WithdrawalMethodCash         WithdrawalMethod = "CASH"
	WithdrawalMethodCheque       WithdrawalMethod = "CHEQUE"
)

// IsValid reports whether m is a known method.
func (m WithdrawalMethod) IsValid() bool {
	switch m {
	case WithdrawalMethodBankTransfer, WithdrawalMethodMobileMoney, WithdrawalMethodCash, WithdrawalMethodCheque:
		return true
	}
	return false
}

// WithdrawalRequest is a proposed outgoing transfer awaiting approval.
type WithdrawalRequest struct {
	ID                uuid.UUID        `json:"id"`
	Reference         string           `json:"reference"`
	WalletKey         WalletKey        `json:"wallet_key"`
	Amount            decimal.Decimal  `json:"amount"`
	Purpose           string           `json:"purpose"`
	Description       *string          `json:"description,omitempty"`
	Method            WithdrawalMethod `json:"method"`
	Destination       *string          `json:"destination,omitempty"`
	RequestedBy       uuid.UUID        `json:"requested_by"`
	RequiredApprovals int              `json:"required_approvals"`
	CurrentApprovals  int              `json:"current_approvals"`
	Status            WithdrawalStatus `json:"status"`
	ExpensePaymentID  *uuid.UUID       `json:"expense_payment_id,omitempty"`
	ExecutedBy        *uuid.UUID       `json:"executed_by,omitempty"`
	CancelledBy       *uuid.UUID       `json:"cancelled_by,omitempty"`
	CancelReason      *string          `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
}

// IsPending returns true while the request can still change state.
func (w *WithdrawalRequest) IsPending() bool {
	return w.Status == WithdrawalStatusPending
}

// IsTerminal returns true if the request is completed or cancelled.
func (w *WithdrawalRequest) IsTerminal() bool {
	return w.Status == WithdrawalStatusCompleted || w.Status == WithdrawalStatusCancelled
}

// HasQuorum reports whether enough approvals have been recorded to execute.
func (w *WithdrawalRequest) HasQuorum() bool {
	return w.CurrentApprovals >= w.RequiredApprovals
}

// NewWithdrawalReference builds a human-readable reference like
// WD-20260118-3FA2C19B.
func NewWithdrawalReference(now time.Time) string {
	return "WD-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(uuid.NewString()[:8])
}

// Approval is one approver's vote on a withdrawal request. Append-only.
type Approval struct {
	ID           uuid.UUID `json:"id"`
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	ApproverID   uuid.UUID `json:"approver_id"`
	Approved     bool      `json:"approved"`
	Comment      *string   `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
