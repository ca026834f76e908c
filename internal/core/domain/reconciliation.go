package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileResult is the outcome of recomputing one wallet.
type ReconcileResult struct {
	WalletKey        string          `json:"wallet_key"`
	PreviousBalance  decimal.Decimal `json:"previous_balance"`
	Balance          decimal.Decimal `json:"balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	Changed          bool            `json:"changed"`
	Error            string          `json:"error,omitempty"`
}

// ReconcileReport summarizes one RecalculateBalances run.
type ReconcileReport struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Wallets    []ReconcileResult `json:"wallets"`
	Updated    int               `json:"updated"`
	Failed     int               `json:"failed"`
}

// IntegrityIssueKind classifies an integrity finding.
type IntegrityIssueKind string

const (
	IssueNegativeBalance IntegrityIssueKind = "NEGATIVE_BALANCE"
	IssueTotalsMismatch  IntegrityIssueKind = "TOTALS_MISMATCH"
)

// IntegrityIssue is a single diagnostic finding on a wallet.
type IntegrityIssue struct {
	WalletKey string             `json:"wallet_key"`
	Kind      IntegrityIssueKind `json:"kind"`
	Balance   decimal.Decimal    `json:"balance"`
	Expected  decimal.Decimal    `json:"expected"`
	Detail    string             `json:"detail"`
}

// IntegrityReport is the result of a read-only integrity check.
type IntegrityReport struct {
	CheckedAt    time.Time        `json:"checked_at"`
	WalletsTotal int              `json:"wallets_total"`
	Issues       []IntegrityIssue `json:"issues"`
}

// Healthy reports whether no issues were found.
func (r *IntegrityReport) Healthy() bool {
	return len(r.Issues) == 0
}
