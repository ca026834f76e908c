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
)

// WalletHandler serves wallet reads and administration.
type WalletHandler struct {
	ledgerSvc ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledgerSvc ports.LedgerService) *WalletHandler {
	return &WalletHandler{ledgerSvc: ledgerSvc}
}

// GetSummary handles GET /api/v1/wallets.
func (h *WalletHandler) GetSummary(c *gin.Context) {
	summary, err := h.ledgerSvc.GetWalletSummary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWalletSummaryResponse(summary))
}

// GetWallet handles GET /api/v1/wallets/detail?key=TITHE/welfare.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	key, err := domain.ParseWalletKey(c.Query("key"))
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	wallet, err := h.ledgerSvc.GetWallet(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToWalletResponse(wallet))
}

// GetHistory handles GET /api/v1/wallets/history.
func (h *WalletHandler) GetHistory(c *gin.Context) {
	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	key, err := domain.ParseWalletKey(q.Key)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	page, pageSize := pageOrDefault(q.Page, q.PageSize)
	params := ports.HistoryParams{WalletKey: key, Page: page, PageSize: pageSize}
	if q.Operation != "" {
		op := domain.Operation(q.Operation)
		params.Operation = &op
	}

	postings, total, err := h.ledgerSvc.GetWalletHistory(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PostingResponse, 0, len(postings))
	for i := range postings {
		items = append(items, dto.ToPostingResponse(&postings[i]))
	}
	response.OK(c, dto.NewPage(items, total, page, pageSize))
}

// Initialize handles POST /api/v1/wallets/initialize.
func (h *WalletHandler) Initialize(c *gin.Context) {
	var actor *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		actor = &id
	}

	created, err := h.ledgerSvc.InitializeWallets(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.InitializeWalletsResponse{Created: created})
}

// Deactivate handles POST /api/v1/wallets/deactivate.
func (h *WalletHandler) Deactivate(c *gin.Context) {
	actor, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.DeactivateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	key, err := domain.ParseWalletKey(req.WalletKey)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.ledgerSvc.DeactivateWallet(c.Request.Context(), key, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"wallet_key": key.String(), "is_active": false})
}

func pageOrDefault(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
