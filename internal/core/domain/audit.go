package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionDeposit           AuditAction = "DEPOSIT"
	AuditActionWithdrawalCreate  AuditAction = "WITHDRAWAL_CREATE"
	AuditActionWithdrawalApprove AuditAction = "WITHDRAWAL_APPROVE"
	AuditActionWithdrawalExecute AuditAction = "WITHDRAWAL_EXECUTE"
	AuditActionWithdrawalCancel  AuditAction = "WITHDRAWAL_CANCEL"
	AuditActionReconcile         AuditAction = "RECONCILE"
	AuditActionWalletInitialize  AuditAction = "WALLET_INITIALIZE"
	AuditActionWalletDeactivate  AuditAction = "WALLET_DEACTIVATE"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

type clientIPKey struct{}

// ContextWithClientIP attaches the caller's address for audit entries.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
