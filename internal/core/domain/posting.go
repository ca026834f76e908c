package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Posting is one journal line recording a balance change on a wallet.
// A (payment, wallet key) pair is posted at most once, which makes deposit
// application idempotent across redeliveries and reconciliation.
type Posting struct {
	ID           uuid.UUID       `json:"id"`
	WalletKey    WalletKey       `json:"wallet_key"`
	Operation    Operation       `json:"operation"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentID    *uuid.UUID      `json:"payment_id,omitempty"`
	WithdrawalID *uuid.UUID      `json:"withdrawal_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewDepositPosting builds the journal line for one resolved deposit.
func NewDepositPosting(paymentID uuid.UUID, d WalletDelta, at time.Time) *Posting {
	pid := paymentID
	return &Posting{
		ID:        uuid.New(),
		WalletKey: d.Key,
		Operation: OperationDeposit,
		Amount:    d.Amount,
		PaymentID: &pid,
		CreatedAt: at,
	}
}

// PaymentCacheKey is the fast-path dedupe key for an applied payment.
func PaymentCacheKey(paymentID uuid.UUID) string {
	return "payment:" + paymentID.String()
}
