package dto

import (
	"time"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"

	"github.com/shopspring/decimal"
)

// ---- Requests ----

// DepositRequest asks the ledger to apply a completed payment.
type DepositRequest struct {
	PaymentID string `json:"payment_id" binding:"required,uuid"`
}

// CreateWithdrawalRequest is the body of POST /withdrawals. Amount is a
// decimal string in major units, e.g. "250.00".
type CreateWithdrawalRequest struct {
	WalletKey   string  `json:"wallet_key" binding:"required,wallet_key"`
	Amount      string  `json:"amount" binding:"required,money"`
	Purpose     string  `json:"purpose" binding:"required,min=3,max=200"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
	Method      string  `json:"method" binding:"required,oneof=BANK_TRANSFER MOBILE_MONEY CASH CHEQUE"`
	Destination *string `json:"destination,omitempty" binding:"omitempty,max=200"`
}

type ApproveWithdrawalRequest struct {
	Approved *bool   `json:"approved" binding:"required"`
	Comment  *string `json:"comment,omitempty" binding:"omitempty,max=500"`
}

type CancelWithdrawalRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

type DeactivateWalletRequest struct {
	WalletKey string `json:"wallet_key" binding:"required,wallet_key"`
}

// HistoryQuery binds GET /wallets/history.
type HistoryQuery struct {
	Key       string `form:"key" binding:"required,wallet_key"`
	Operation string `form:"operation" binding:"omitempty,oneof=DEPOSIT WITHDRAWAL"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// WithdrawalListQuery binds GET /withdrawals.
type WithdrawalListQuery struct {
	Status    string `form:"status" binding:"omitempty,oneof=PENDING COMPLETED CANCELLED"`
	WalletKey string `form:"wallet_key" binding:"omitempty,wallet_key"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ---- Responses ----

// Page wraps a paginated list.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPage fills in defaults the repositories apply and derives TotalPages.
func NewPage[T any](items []T, total int64, page, pageSize int) Page[T] {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}

// Money renders an amount with two decimal places.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

type WalletResponse struct {
	Key              string  `json:"wallet_key"`
	Category         string  `json:"category"`
	Subcategory      *string `json:"subcategory,omitempty"`
	Balance          string  `json:"balance"`
	TotalDeposits    string  `json:"total_deposits"`
	TotalWithdrawals string  `json:"total_withdrawals"`
	IsActive         bool    `json:"is_active"`
	LastUpdated      string  `json:"last_updated"`
}

func ToWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		Key:              w.Key().String(),
		Category:         string(w.Category),
		Subcategory:      w.Subcategory,
		Balance:          Money(w.Balance),
		TotalDeposits:    Money(w.TotalDeposits),
		TotalWithdrawals: Money(w.TotalWithdrawals),
		IsActive:         w.IsActive,
		LastUpdated:      formatTime(w.LastUpdated),
	}
}

type WalletSummaryResponse struct {
	Wallets          []WalletResponse  `json:"wallets"`
	ByCategory       map[string]string `json:"by_category"`
	TotalBalance     string            `json:"total_balance"`
	TotalDeposits    string            `json:"total_deposits"`
	TotalWithdrawals string            `json:"total_withdrawals"`
}

func ToWalletSummaryResponse(s *domain.WalletSummary) WalletSummaryResponse {
	out := WalletSummaryResponse{
		Wallets:          make([]WalletResponse, 0, len(s.Wallets)),
		ByCategory:       make(map[string]string, len(s.ByCategory)),
		TotalBalance:     Money(s.TotalBalance),
		TotalDeposits:    Money(s.TotalDeposits),
		TotalWithdrawals: Money(s.TotalWithdrawals),
	}
	for i := range s.Wallets {
		out.Wallets = append(out.Wallets, ToWalletResponse(&s.Wallets[i]))
	}
	for c, v := range s.ByCategory {
		out.ByCategory[string(c)] = Money(v)
	}
	return out
}

type PostingResponse struct {
	ID           string  `json:"id"`
	WalletKey    string  `json:"wallet_key"`
	Operation    string  `json:"operation"`
	Amount       string  `json:"amount"`
	PaymentID    *string `json:"payment_id,omitempty"`
	WithdrawalID *string `json:"withdrawal_id,omitempty"`
	Description  string  `json:"description,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func ToPostingResponse(p *domain.Posting) PostingResponse {
	r := PostingResponse{
		ID:          p.ID.String(),
		WalletKey:   p.WalletKey.String(),
		Operation:   string(p.Operation),
		Amount:      Money(p.Amount),
		Description: p.Description,
		CreatedAt:   formatTime(p.CreatedAt),
	}
	if p.PaymentID != nil {
		s := p.PaymentID.String()
		r.PaymentID = &s
	}
	if p.WithdrawalID != nil {
		s := p.WithdrawalID.String()
		r.WithdrawalID = &s
	}
	return r
}

type DepositLine struct {
	WalletKey string `json:"wallet_key"`
	Amount    string `json:"amount"`
}

type DepositResponse struct {
	PaymentID      string        `json:"payment_id"`
	Deposits       []DepositLine `json:"deposits"`
	AlreadyApplied bool          `json:"already_applied"`
}

func ToDepositResponse(r *ports.DepositResult) DepositResponse {
	out := DepositResponse{
		PaymentID:      r.PaymentID.String(),
		Deposits:       make([]DepositLine, 0, len(r.Deltas)),
		AlreadyApplied: r.AlreadyApplied,
	}
	for _, d := range r.Deltas {
		out.Deposits = append(out.Deposits, DepositLine{WalletKey: d.Key.String(), Amount: Money(d.Amount)})
	}
	return out
}

type ApprovalResponse struct {
	ApproverID string  `json:"approver_id"`
	Approved   bool    `json:"approved"`
	Comment    *string `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type WithdrawalResponse struct {
	ID                string             `json:"id"`
	Reference         string             `json:"reference"`
	WalletKey         string             `json:"wallet_key"`
	Amount            string             `json:"amount"`
	Purpose           string             `json:"purpose"`
	Description       *string            `json:"description,omitempty"`
	Method            string             `json:"method"`
	Destination       *string            `json:"destination,omitempty"`
	RequestedBy       string             `json:"requested_by"`
	RequiredApprovals int                `json:"required_approvals"`
	CurrentApprovals  int                `json:"current_approvals"`
	Status            string             `json:"status"`
	ExpensePaymentID  *string            `json:"expense_payment_id,omitempty"`
	CancelReason      *string            `json:"cancel_reason,omitempty"`
	CreatedAt         string             `json:"created_at"`
	CompletedAt       *string            `json:"completed_at,omitempty"`
	CancelledAt       *string            `json:"cancelled_at,omitempty"`
	Approvals         []ApprovalResponse `json:"approvals,omitempty"`
}

func ToWithdrawalResponse(w *domain.WithdrawalRequest, approvals []domain.Approval) WithdrawalResponse {
	r := WithdrawalResponse{
		ID:                w.ID.String(),
		Reference:         w.Reference,
		WalletKey:         w.WalletKey.String(),
		Amount:            Money(w.Amount),
		Purpose:           w.Purpose,
		Description:       w.Description,
		Method:            string(w.Method),
		Destination:       w.Destination,
		RequestedBy:       w.RequestedBy.String(),
		RequiredApprovals: w.RequiredApprovals,
		CurrentApprovals:  w.CurrentApprovals,
		Status:            string(w.Status),
		CancelReason:      w.CancelReason,
		CreatedAt:         formatTime(w.CreatedAt),
		CompletedAt:       formatTimePtr(w.CompletedAt),
		CancelledAt:       formatTimePtr(w.CancelledAt),
	}
	if w.ExpensePaymentID != nil {
		s := w.ExpensePaymentID.String()
		r.ExpensePaymentID = &s
	}
	for _, a := range approvals {
		r.Approvals = append(r.Approvals, ApprovalResponse{
			ApproverID: a.ApproverID.String(),
			Approved:   a.Approved,
			Comment:    a.Comment,
			CreatedAt:  formatTime(a.CreatedAt),
		})
	}
	return r
}

type InitializeWalletsResponse struct {
	Created int `json:"created"`
}
