/*
Package generic provides the leave-credit engine shared by every workflow.

PURPOSE:
  This package owns the types and algorithms that protect leave credits:
  per-employee accounts, the monthly accrual, HR overrides, debits, and the
  role-gated approval chain used by conversion and reschedule requests.
  Domain workflows (conversion/, reschedule/) build on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: One balance row per (employee, leave code)
  - Transaction: An immutable history entry describing a balance change
  - AccrualRun: Bookkeeping for one accrueMonthly call
  - Typed identifiers so employee/request ids cannot be mixed up

DESIGN PRINCIPLES:
  1. Precision: Balances use decimal.Decimal, never float64
  2. Type Safety: Strong typing for IDs and leave codes
  3. Auditability: Every balance change leaves a Transaction behind
  4. Optimistic concurrency: Accounts carry a Version checked on save

USAGE:
  acct := generic.Account{
      EmployeeID: "emp-123",
      Code:       generic.LeaveVL,
      Balance:    decimal.RequireFromString("12.50"),
  }

SEE ALSO:
  - ledger.go: CreditLedger, the sole writer of Account.Balance
  - period.go: Period (year + month) used by accrual
  - store.go: Persistence interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type OrgID string
type RequestID string
type TransactionID string

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustParseDecimal parses a decimal literal and panics if it is malformed.
// Stored or user-supplied values go through decimal.NewFromString.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Days is a shorthand for building whole or fractional day amounts in code.
func Days(s string) decimal.Decimal {
	return MustParseDecimal(s)
}

// =============================================================================
// ACCOUNT - One row per (employee, leave code)
// =============================================================================

// Account is the persisted balance for one employee and leave code.
//
// INVARIANTS:
//   - Balance >= 0 once any operation completes.
//   - LastAccrualPeriod only moves forward.
//   - Version increments on every successful save.
type Account struct {
	EmployeeID        EmployeeID
	Code              LeaveCode
	Balance           decimal.Decimal
	ImportedAt        *time.Time // informational; set by override only
	LastAccrualPeriod Period     // zero when never accrued
	Version           int64      // 0 = not yet persisted
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Exists reports whether the account has been persisted.
func (a Account) Exists() bool { return a.Version > 0 }

// CreditedFor reports whether the account already received the accrual for p.
func (a Account) CreditedFor(p Period) bool {
	return !a.LastAccrualPeriod.IsZero() && !a.LastAccrualPeriod.Before(p)
}

// =============================================================================
// TRANSACTION - Immutable history entry
// =============================================================================

// TxType classifies a history entry.
type TxType string

const (
	// TxAccrual is the monthly credit.
	TxAccrual TxType = "accrual"

	// TxOverride is an HR balance replacement. Delta is new minus old.
	TxOverride TxType = "override"

	// TxDebit removes credits (conversion payout).
	TxDebit TxType = "debit"
)

// Transaction records one balance change. History is append-only;
// Account.Balance is the authoritative value, history explains it.
type Transaction struct {
	ID             TransactionID
	EmployeeID     EmployeeID
	Code           LeaveCode
	Type           TxType
	Delta          decimal.Decimal
	BalanceAfter   decimal.Decimal
	Period         Period // accrual only
	ReferenceID    string // e.g. conversion request id
	Reason         string
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// =============================================================================
// ACCRUAL RUN - Bookkeeping for accrueMonthly
// =============================================================================

type AccrualRun struct {
	ID           string
	OrgID        OrgID
	Period       Period
	Employees    int
	AppliedCount int
	SkippedCount int
	StartedAt    time.Time
	CompletedAt  time.Time
}
