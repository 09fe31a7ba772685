package spltransfer

import (
	"errors"
	"fmt"
)

// LedgerError represents a typed failure of a provisioning or transfer operation
type LedgerError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *LedgerError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *LedgerError) Unwrap() error {
	return e.cause
}

// Is matches any LedgerError carrying the same code, so callers can use
// errors.Is(err, ErrResourceNotFound) regardless of message or details.
func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeTransport            = "transport_error"
	ErrCodeResourceNotFound     = "resource_not_found"
	ErrCodeInvalidOwner         = "invalid_owner"
	ErrCodeInvalidResourceState = "invalid_resource_state"
	ErrCodeProvisioningTimeout  = "provisioning_timeout"
	ErrCodeRetryExhausted       = "retry_exhausted"
	ErrCodeZeroAmount           = "zero_amount"
	ErrCodeInvalidAmount        = "invalid_amount"
	ErrCodeInsufficientFunds    = "insufficient_funds"
	ErrCodeInstructionFailed    = "instruction_failed"
	ErrCodeOutcomeUnknown       = "outcome_unknown"
	ErrCodeDuplicateRequest     = "duplicate_request"
	ErrCodeRequestConflict      = "request_conflict"
)

// Sentinels for errors.Is matching.
var (
	ErrTransport            = &LedgerError{Code: ErrCodeTransport, Message: "ledger transport unavailable"}
	ErrResourceNotFound     = &LedgerError{Code: ErrCodeResourceNotFound, Message: "account not found"}
	ErrInvalidOwner         = &LedgerError{Code: ErrCodeInvalidOwner, Message: "account is owned by an unexpected program"}
	ErrInvalidResourceState = &LedgerError{Code: ErrCodeInvalidResourceState, Message: "account state does not match the expected owner or mint"}
	ErrProvisioningTimeout  = &LedgerError{Code: ErrCodeProvisioningTimeout, Message: "sub-account did not appear within the retry bound"}
	ErrRetryExhausted       = &LedgerError{Code: ErrCodeRetryExhausted, Message: "retry attempts exhausted"}
	ErrZeroAmount           = &LedgerError{Code: ErrCodeZeroAmount, Message: "amount scales to zero at the asset precision"}
	ErrInvalidAmount        = &LedgerError{Code: ErrCodeInvalidAmount, Message: "amount must be positive and fit in 64 bits"}
	ErrInsufficientFunds    = &LedgerError{Code: ErrCodeInsufficientFunds, Message: "insufficient funds"}
	ErrInstructionFailed    = &LedgerError{Code: ErrCodeInstructionFailed, Message: "transaction rejected by the ledger"}
	ErrOutcomeUnknown       = &LedgerError{Code: ErrCodeOutcomeUnknown, Message: "submission may or may not have reached the ledger"}
	ErrDuplicateRequest     = &LedgerError{Code: ErrCodeDuplicateRequest, Message: "request is already being processed"}
	ErrRequestConflict      = &LedgerError{Code: ErrCodeRequestConflict, Message: "request id was already used for a different transfer"}
)

// NewLedgerError creates a new ledger error
func NewLedgerError(code, message string, details map[string]interface{}) *LedgerError {
	return &LedgerError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapLedgerError creates a ledger error with the given code around cause
func WrapLedgerError(code, message string, cause error) *LedgerError {
	return &LedgerError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// ErrorCode extracts the code of the first LedgerError in err's chain.
// Returns "" when err carries no code.
func ErrorCode(err error) string {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsRetryable reports whether a higher layer may safely retry the whole operation.
// Only bounded-retry exhaustion qualifies; an unknown submission outcome never does.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProvisioningTimeout) || errors.Is(err, ErrRetryExhausted)
}

// isAbsent reports the "no sub-account here yet" family: not found, or the
// address exists as a plain system account because it received lamports first.
func isAbsent(err error) bool {
	return errors.Is(err, ErrResourceNotFound) || errors.Is(err, ErrInvalidOwner)
}
