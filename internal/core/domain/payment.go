package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentType is the category a payment was made under.
type PaymentType string

const (
	PaymentTypeTithe           PaymentType = "TITHE"
	PaymentTypeOffering        PaymentType = "OFFERING"
	PaymentTypeDonation        PaymentType = "DONATION"
	PaymentTypeBuildingFund    PaymentType = "BUILDING_FUND"
	PaymentTypeOther           PaymentType = "OTHER"
	PaymentTypeSpecialOffering PaymentType = "SPECIAL_OFFERING_CONTRIBUTION"
	PaymentTypeExpense         PaymentType = "EXPENSE"
)

// PaymentEvent is a payment recorded by the payment subsystem. The ledger
// only reads completed events, except for the expense records it writes
// when a withdrawal executes.
type PaymentEvent struct {
	ID                uuid.UUID       `json:"id"`
	Amount            decimal.Decimal `json:"amount"`
	Type              PaymentType     `json:"payment_type"`
	TitheDistribution json.RawMessage `json:"tithe_distribution,omitempty"`
	SpecialOfferingID *uuid.UUID      `json:"special_offering_id,omitempty"`
	IsCompleted       bool            `json:"is_completed"`
	IsExpense         bool            `json:"is_expense"`
	Description       string          `json:"description,omitempty"`
	WithdrawalID      *uuid.UUID      `json:"withdrawal_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// HasDistribution reports whether a non-empty tithe distribution is attached.
func (p *PaymentEvent) HasDistribution() bool {
	if len(p.TitheDistribution) == 0 {
		return false
	}
	s := string(p.TitheDistribution)
	return s != "null" && s != "{}"
}

// SpecialOffering is a time-boxed fundraising campaign.
type SpecialOffering struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}
