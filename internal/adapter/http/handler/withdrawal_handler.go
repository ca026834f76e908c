package handler

import (
	"tassiac-ledger/internal/adapter/http/dto"
	"tassiac-ledger/internal/adapter/http/middleware"
	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"
	"tassiac-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalHandler exposes the withdrawal approval workflow.
type WithdrawalHandler struct {
	withdrawalSvc ports.WithdrawalService
}

func NewWithdrawalHandler(withdrawalSvc ports.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawalSvc: withdrawalSvc}
}

// Create handles POST /api/v1/withdrawals.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	key, err := domain.ParseWalletKey(req.WalletKey)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation("amount must be a decimal number"))
		return
	}

	w, err := h.withdrawalSvc.CreateWithdrawal(c.Request.Context(), ports.CreateWithdrawalRequest{
		WalletKey:   key,
		Amount:      amount,
		Purpose:     req.Purpose,
		Description: req.Description,
		Method:      domain.WithdrawalMethod(req.Method),
		Destination: req.Destination,
		RequestedBy: userID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToWithdrawalResponse(w, nil))
}

// List handles GET /api/v1/withdrawals.
func (h *WithdrawalHandler) List(c *gin.Context) {
	var q dto.WithdrawalListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	page, pageSize := pageOrDefault(q.Page, q.PageSize)
	params := ports.WithdrawalListParams{Page: page, PageSize: pageSize}
	if q.Status != "" {
		status := domain.WithdrawalStatus(q.Status)
		params.Status = &status
	}
	if q.WalletKey != "" {
		key, err := domain.ParseWalletKey(q.WalletKey)
		if err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		params.WalletKey = &key
	}

	items, total, err := h.withdrawalSvc.ListWithdrawals(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.WithdrawalResponse, 0, len(items))
	for i := range items {
		out = append(out, dto.ToWithdrawalResponse(&items[i], nil))
	}
	response.OK(c, dto.NewPage(out, total, page, pageSize))
}

// Get handles GET /api/v1/withdrawals/:id.
func (h *WithdrawalHandler) Get(c *gin.Context) {
	id, ok := withdrawalID(c)
	if !ok {
		return
	}

	w, approvals, err := h.withdrawalSvc.GetWithdrawal(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWithdrawalResponse(w, approvals))
}

// Approve handles POST /api/v1/withdrawals/:id/approvals.
func (h *WithdrawalHandler) Approve(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, ok := withdrawalID(c)
	if !ok {
		return
	}

	var req dto.ApproveWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	w, err := h.withdrawalSvc.ApproveWithdrawal(c.Request.Context(), ports.ApproveWithdrawalRequest{
		WithdrawalID: id,
		ApproverID:   userID,
		Approved:     *req.Approved,
		Comment:      req.Comment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWithdrawalResponse(w, nil))
}

// Execute handles POST /api/v1/withdrawals/:id/execute.
func (h *WithdrawalHandler) Execute(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, ok := withdrawalID(c)
	if !ok {
		return
	}

	w, err := h.withdrawalSvc.ExecuteWithdrawal(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWithdrawalResponse(w, nil))
}

// Cancel handles POST /api/v1/withdrawals/:id/cancel.
func (h *WithdrawalHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, ok := withdrawalID(c)
	if !ok {
		return
	}

	var req dto.CancelWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	w, err := h.withdrawalSvc.CancelWithdrawal(c.Request.Context(), id, req.Reason, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWithdrawalResponse(w, nil))
}

// withdrawalID parses the :id path parameter, writing a 400 on failure.
func withdrawalID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("withdrawal id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
