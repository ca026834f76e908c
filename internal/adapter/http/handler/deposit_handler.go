package handler

import (
	"tassiac-ledger/internal/adapter/http/dto"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/apperror"
	"tassiac-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DepositHandler accepts completed-payment notifications.
type DepositHandler struct {
	ledgerSvc ports.LedgerService
}

func NewDepositHandler(ledgerSvc ports.LedgerService) *DepositHandler {
	return &DepositHandler{ledgerSvc: ledgerSvc}
}

// ProcessDeposit handles POST /api/v1/deposits. Replays of an applied
// payment answer 200 with already_applied set; first application answers 201.
func (h *DepositHandler) ProcessDeposit(c *gin.Context) {
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		response.Error(c, apperror.Validation("payment_id must be a UUID"))
		return
	}

	result, err := h.ledgerSvc.ProcessPayment(c.Request.Context(), paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.AlreadyApplied {
		response.OK(c, dto.ToDepositResponse(result))
		return
	}
	response.Created(c, dto.ToDepositResponse(result))
}
