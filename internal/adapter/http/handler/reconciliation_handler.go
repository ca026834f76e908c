package handler

import (
	"tassiac-ledger/internal/adapter/http/middleware"
	"tassiac-ledger/internal/core/ports"
	"tassiac-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReconciliationHandler runs balance recomputation and integrity checks.
type ReconciliationHandler struct {
	reconcileSvc ports.ReconciliationService
}

func NewReconciliationHandler(reconcileSvc ports.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{reconcileSvc: reconcileSvc}
}

// Recalculate handles POST /api/v1/reconciliation/recalculate.
func (h *ReconciliationHandler) Recalculate(c *gin.Context) {
	var actor *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		actor = &id
	}

	report, err := h.reconcileSvc.RecalculateBalances(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// Integrity handles GET /api/v1/reconciliation/integrity.
func (h *ReconciliationHandler) Integrity(c *gin.Context) {
	report, err := h.reconcileSvc.ValidateIntegrity(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"healthy": report.Healthy(),
		"report":  report,
	})
}
