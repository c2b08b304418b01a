/*
errors.go - Centralized error types for the leave-credit engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers can branch
  with errors.Is and still pull details out with errors.As.

ERROR CATEGORIES:
  1. Input errors      - ValidationError, EligibilityError
  2. Approval errors   - UnauthorizedStageError, InvalidStateError
  3. Ledger errors     - InsufficientBalanceError, ConcurrentBalanceChangeError
  4. Store errors      - ErrConcurrentModification, not-found sentinels

  "Already credited" is not an error: accrueMonthly reports it in
  AccrualResult.

USAGE:
  var elig *generic.EligibilityError
  if errors.As(err, &elig) && elig.Reason == generic.ReasonAnnualCapExceeded {
      ...
  }

SEE ALSO:
  - ledger.go, accrual.go, approval.go: Produce these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrEligibility is returned when a submission breaks a business rule.
	ErrEligibility = errors.New("not eligible")

	// ErrUnauthorizedStage is returned when the acting role cannot act on the current stage.
	ErrUnauthorizedStage = errors.New("unauthorized for approval stage")

	// ErrInvalidState is returned when acting on a terminal or already-advanced request.
	ErrInvalidState = errors.New("invalid request state")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentBalanceChange is returned when the final conversion debit
	// cannot be applied because balance or usage changed since submission.
	ErrConcurrentBalanceChange = errors.New("balance changed concurrently")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a history entry with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrAccountNotFound      = errors.New("account not found")
	ErrRequestNotFound      = errors.New("request not found")
	ErrEmployeeNotFound     = errors.New("employee not found")
	ErrLeaveRequestNotFound = errors.New("leave request not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Code    string // e.g. "negative_balance", "empty_remarks"
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// EligibilityReason names the rule a submission failed.
type EligibilityReason string

const (
	ReasonWrongLeaveType     EligibilityReason = "wrong_leave_type"
	ReasonBelowMinimum       EligibilityReason = "below_minimum"
	ReasonInsufficientCredit EligibilityReason = "insufficient_balance"
	ReasonAnnualCapExceeded  EligibilityReason = "annual_cap_exceeded"
)

// EligibilityError carries the failed rule with the requested value and
// the limit it was compared against.
type EligibilityError struct {
	Reason    EligibilityReason
	Requested decimal.Decimal
	Limit     decimal.Decimal
	Message   string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("not eligible (%s): %s", e.Reason, e.Message)
}

func (e *EligibilityError) Unwrap() error {
	return ErrEligibility
}

// UnauthorizedStageError is returned when Acting lacks Required for Stage.
type UnauthorizedStageError struct {
	Stage    Stage
	Required Capability
	Acting   Role
}

func (e *UnauthorizedStageError) Error() string {
	return fmt.Sprintf("role %q cannot act on stage %q (requires %s)", e.Acting, e.Stage, e.Required)
}

func (e *UnauthorizedStageError) Unwrap() error {
	return ErrUnauthorizedStage
}

// InvalidStateReason explains why a request could not be acted on.
type InvalidStateReason string

const (
	StateTerminal         InvalidStateReason = "terminal"
	StateAlreadyAdvanced  InvalidStateReason = "already_advanced"
	StateConcurrentUpdate InvalidStateReason = "concurrent_update"
	StateChainMismatch    InvalidStateReason = "chain_mismatch"
)

type InvalidStateError struct {
	RequestID RequestID
	Status    string
	Reason    InvalidStateReason
}

func (e *InvalidStateError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("invalid state %q: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("request %s in state %q: %s", e.RequestID, e.Status, e.Reason)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Code       LeaveCode
	Available  decimal.Decimal
	Requested  decimal.Decimal
	Shortfall  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s, shortfall %s",
		e.Code, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// ConcurrentBalanceChangeError wraps the cause that blocked a final-stage
// debit. Both the sentinel and the cause are reachable through errors.Is/As.
type ConcurrentBalanceChangeError struct {
	RequestID RequestID
	Cause     error
}

func (e *ConcurrentBalanceChangeError) Error() string {
	return fmt.Sprintf("request %s: balance changed before final approval: %v", e.RequestID, e.Cause)
}

func (e *ConcurrentBalanceChangeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConcurrentBalanceChange}
	}
	return []error{ErrConcurrentBalanceChange, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrEligibility) ||
		errors.Is(err, ErrUnauthorizedStage)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrLeaveRequestNotFound)
}

// ReasonCode returns a stable machine-readable code for err.
func ReasonCode(err error) string {
	var (
		validation   *ValidationError
		eligibility  *EligibilityError
		invalidState *InvalidStateError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConcurrentBalanceChange):
		return "concurrent_balance_change"
	case errors.As(err, &eligibility):
		return string(eligibility.Reason)
	case errors.As(err, &validation):
		return validation.Code
	case errors.Is(err, ErrUnauthorizedStage):
		return "unauthorized_stage"
	case errors.As(err, &invalidState):
		return "invalid_state." + string(invalidState.Reason)
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrRequestNotFound):
		return "request_not_found"
	case errors.Is(err, ErrEmployeeNotFound):
		return "employee_not_found"
	case errors.Is(err, ErrLeaveRequestNotFound):
		return "leave_request_not_found"
	default:
		return "internal"
	}
}
