/*
ledger.go - CreditLedger, the sole writer of account balances

PURPOSE:
  Every change to a leave-credit balance goes through CreditLedger:
  monthly accrual (accrual.go), HR override and conversion debit (here).
  Each change saves the account and appends a history Transaction inside
  one storage transaction, so balance and history never disagree.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: A debit never takes a balance below zero
  2. VERSIONED: Account saves are compare-and-set on Version
  3. AUDITABLE: Every balance change leaves a Transaction
  4. DECIMAL: Amounts are decimal.Decimal, compared exactly

RE-ENTRANCY:
  Debit is a plain primitive with no idempotency of its own. Callers that
  must debit at most once (conversion final approval) guard that with
  their own flag, inside the same storage transaction.

CONFLICTS:
  A version conflict is retried once with fresh state and then surfaced
  as ErrConcurrentModification.

SEE ALSO:
  - accrual.go: AccrueMonthly
  - store.go: LedgerStore / TxManager
  - conversion/workflow.go: The only caller of Debit
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-credits/observability"
)

// =============================================================================
// CREDIT LEDGER
// =============================================================================

type CreditLedger struct {
	Store     LedgerStore
	Tx        TxManager
	Directory EmployeeDirectory
	Runs      AccrualRunStore // optional; accrual runs are not recorded when nil
	Clock     Clock
	Policy    CreditPolicy
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

func NewCreditLedger(store LedgerStore, tx TxManager, directory EmployeeDirectory) *CreditLedger {
	return &CreditLedger{
		Store:     store,
		Tx:        tx,
		Directory: directory,
		Clock:     SystemClock{},
		Policy:    DefaultCreditPolicy(),
		Logger:    zap.NewNop(),
	}
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns the current balance; zero when no account exists yet.
func (l *CreditLedger) GetBalance(ctx context.Context, employeeID EmployeeID, code LeaveCode) (decimal.Decimal, error) {
	acct, err := l.Store.GetAccount(ctx, employeeID, code)
	if errors.Is(err, ErrAccountNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// Account returns the full account row.
func (l *CreditLedger) Account(ctx context.Context, employeeID EmployeeID, code LeaveCode) (Account, error) {
	return l.Store.GetAccount(ctx, employeeID, code)
}

func (l *CreditLedger) Accounts(ctx context.Context, employeeID EmployeeID) ([]Account, error) {
	return l.Store.ListAccounts(ctx, employeeID)
}

// History returns every balance change for employee+code, oldest first.
func (l *CreditLedger) History(ctx context.Context, employeeID EmployeeID, code LeaveCode) ([]Transaction, error) {
	return l.Store.Transactions(ctx, employeeID, code)
}

// =============================================================================
// OVERRIDE
// =============================================================================

// Override replaces the balance outright. last_accrual_period is left
// untouched; importedAt is recorded only when given.
func (l *CreditLedger) Override(ctx context.Context, employeeID EmployeeID, code LeaveCode, balance decimal.Decimal, importedAt *time.Time, actor string) (Account, error) {
	if balance.IsNegative() {
		return Account{}, &ValidationError{Field: "balance", Code: "negative_balance", Message: fmt.Sprintf("balance must not be negative, got %s", balance)}
	}
	if !l.Policy.IsEarnable(code) {
		return Account{}, &ValidationError{Field: "code", Code: "unknown_leave_code", Message: fmt.Sprintf("%q is not an earnable leave code", code)}
	}
	if _, err := l.Directory.GetEmployee(ctx, employeeID); err != nil {
		return Account{}, err
	}

	var saved Account
	err := RetryOnConflict(func() error {
		return l.Tx.WithTx(ctx, func(ctx context.Context) error {
			acct, err := l.loadOrNew(ctx, employeeID, code)
			if err != nil {
				return err
			}
			previous := acct.Balance
			acct.Balance = balance
			if importedAt != nil {
				at := importedAt.UTC()
				acct.ImportedAt = &at
			}
			acct.UpdatedAt = l.now()

			saved, err = l.Store.SaveAccount(ctx, acct)
			if err != nil {
				return err
			}
			return l.Store.AppendTransaction(ctx, Transaction{
				ID:           TransactionID(uuid.NewString()),
				EmployeeID:   employeeID,
				Code:         code,
				Type:         TxOverride,
				Delta:        balance.Sub(previous),
				BalanceAfter: balance,
				Reason:       "balance override",
				CreatedBy:    actor,
				CreatedAt:    acct.UpdatedAt,
			})
		})
	})
	if err != nil {
		if IsRetryable(err) {
			l.Metrics.Conflict("ledger")
		}
		return Account{}, err
	}

	l.Logger.Info("balance overridden",
		zap.String("employee_id", string(employeeID)),
		zap.String("code", string(code)),
		zap.String("balance", balance.String()),
		zap.String("actor", actor),
	)
	return saved, nil
}

// =============================================================================
// DEBIT
// =============================================================================

// Debit subtracts amount. Fails with InsufficientBalanceError when the
// balance is short; a missing account counts as zero.
func (l *CreditLedger) Debit(ctx context.Context, employeeID EmployeeID, code LeaveCode, amount decimal.Decimal, reference string) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, &ValidationError{Field: "amount", Code: "non_positive_amount", Message: fmt.Sprintf("debit amount must be positive, got %s", amount)}
	}

	var saved Account
	err := RetryOnConflict(func() error {
		return l.Tx.WithTx(ctx, func(ctx context.Context) error {
			acct, err := l.loadOrNew(ctx, employeeID, code)
			if err != nil {
				return err
			}
			if acct.Balance.LessThan(amount) {
				return &InsufficientBalanceError{
					EmployeeID: employeeID,
					Code:       code,
					Available:  acct.Balance,
					Requested:  amount,
					Shortfall:  amount.Sub(acct.Balance),
				}
			}
			acct.Balance = acct.Balance.Sub(amount)
			acct.UpdatedAt = l.now()

			saved, err = l.Store.SaveAccount(ctx, acct)
			if err != nil {
				return err
			}
			return l.Store.AppendTransaction(ctx, Transaction{
				ID:           TransactionID(uuid.NewString()),
				EmployeeID:   employeeID,
				Code:         code,
				Type:         TxDebit,
				Delta:        amount.Neg(),
				BalanceAfter: acct.Balance,
				ReferenceID:  reference,
				Reason:       "debit",
				CreatedAt:    acct.UpdatedAt,
			})
		})
	})
	if err != nil {
		if IsRetryable(err) {
			l.Metrics.Conflict("ledger")
		}
		return Account{}, err
	}

	l.Logger.Info("balance debited",
		zap.String("employee_id", string(employeeID)),
		zap.String("code", string(code)),
		zap.String("amount", amount.String()),
		zap.String("reference", reference),
	)
	return saved, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *CreditLedger) loadOrNew(ctx context.Context, employeeID EmployeeID, code LeaveCode) (Account, error) {
	acct, err := l.Store.GetAccount(ctx, employeeID, code)
	if errors.Is(err, ErrAccountNotFound) {
		now := l.now()
		return Account{EmployeeID: employeeID, Code: code, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}, nil
	}
	return acct, err
}

func (l *CreditLedger) now() time.Time {
	return l.Clock.Now()
}

// RetryOnConflict runs fn and, if it fails with ErrConcurrentModification,
// runs it exactly once more.
func RetryOnConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, ErrConcurrentModification) {
		err = fn()
	}
	return err
}
