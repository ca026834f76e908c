package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error codes.
const (
	CodeValidation          = "VAL_001"
	CodeUnknownSubcategory  = "VAL_002"
	CodeDistributionExceeds = "VAL_003"
	CodeOfferingInactive    = "VAL_004"
	CodeAmountOutOfBounds   = "VAL_005"

	CodeInsufficientFunds = "LED_001"

	CodeLockTimeout      = "CON_001"
	CodeRetriesExhausted = "CON_002"

	CodeNotFound = "NF_001"

	CodeInsufficientApprovals = "WDR_001"
	CodeNotPending            = "WDR_002"
	CodeDuplicateApproval     = "WDR_003"
	CodeSelfApproval          = "WDR_004"
	CodeWalletInactive        = "WDR_005"

	CodeInvalidToken = "AUTH_001"
	CodeForbidden    = "AUTH_002"
	CodeRateLimited  = "RATE_001"

	CodeInternal = "SYS_001"
)

// ---- Validation (VAL) ----

// Validation returns a generic VAL_001 error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrUnknownSubcategory(sub string) *AppError {
	return New(CodeUnknownSubcategory, fmt.Sprintf("Unknown tithe sub-category %q", sub), http.StatusBadRequest)
}

func ErrDistributionExceedsAmount() *AppError {
	return New(CodeDistributionExceeds, "Tithe distribution exceeds payment amount", http.StatusBadRequest)
}

func ErrOfferingInactive(code string) *AppError {
	return New(CodeOfferingInactive, fmt.Sprintf("Special offering %s is not active", code), http.StatusBadRequest)
}

func ErrAmountOutOfBounds(min, max string) *AppError {
	return New(CodeAmountOutOfBounds, fmt.Sprintf("Amount must be between %s and %s", min, max), http.StatusBadRequest)
}

func ErrAmountPrecision() *AppError {
	return New(CodeAmountOutOfBounds, "Amount must have at most two decimal places", http.StatusBadRequest)
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

// ---- Concurrency (CON) ----

func ErrLockTimeout(err error) *AppError {
	return Wrap(CodeLockTimeout, "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrRetriesExhausted(err error) *AppError {
	return Wrap(CodeRetriesExhausted, "Concurrent update conflict, try again", http.StatusServiceUnavailable, err)
}

// ---- Lookup (NF) ----

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Withdrawal workflow (WDR) ----

func ErrInsufficientApprovals(have, need int) *AppError {
	return New(CodeInsufficientApprovals, fmt.Sprintf("Withdrawal has %d of %d required approvals", have, need), http.StatusConflict)
}

func ErrNotPending(status string) *AppError {
	return New(CodeNotPending, fmt.Sprintf("Withdrawal is %s, expected PENDING", status), http.StatusConflict)
}

func ErrDuplicateApproval() *AppError {
	return New(CodeDuplicateApproval, "Approver has already voted on this withdrawal", http.StatusConflict)
}

func ErrSelfApproval() *AppError {
	return New(CodeSelfApproval, "Requester cannot approve their own withdrawal", http.StatusForbidden)
}

func ErrWalletInactive(key string) *AppError {
	return New(CodeWalletInactive, fmt.Sprintf("Wallet %s is not active", key), http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Role is not allowed to perform this action", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// HasCode reports whether any AppError in err's chain has the given code.
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsTransient reports whether the operation may succeed if retried later.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return strings.HasPrefix(appErr.Code, "CON_")
	}
	return false
}
