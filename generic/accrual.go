/*
accrual.go - Monthly credit accrual

PURPOSE:
  AccrueMonthly credits every active employee of an org with the policy
  increment (1.25 days) for each earnable code, once per calendar month.

IDEMPOTENCY:
  There is no global lock. Each (employee, code) account is credited by a
  compare-and-set:
    1. Read the account
    2. Skip if last_accrual_period >= period
    3. Save balance + increment and last_accrual_period = period,
       conditional on the version read in (1)
  Two concurrent runs race on the same version; the loser re-reads, sees
  the period already credited, and skips. The accrual history entry also
  carries a unique idempotency key per (employee, code, period).

ALREADY CREDITED:
  A repeat run is a normal result, not an error. AccrualResult reports
  AppliedCount = 0 and AlreadyCreditedPeriod = period, so a scheduler, a
  manual button and a test all get the same answer. PeriodCredited
  answers the same question without writing anything.

SEE ALSO:
  - ledger.go: CreditLedger
  - api/scheduler.go: Periodic trigger
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccrualResult is what one AccrueMonthly call did.
type AccrualResult struct {
	RunID                 string  `json:"run_id"`
	OrgID                 OrgID   `json:"org_id"`
	Period                Period  `json:"period"`
	Employees             int     `json:"employees"`
	AppliedCount          int     `json:"applied_count"`
	SkippedCount          int     `json:"skipped_count"`
	AlreadyCreditedPeriod *Period `json:"already_credited_period,omitempty"`
}

// AlreadyCredited reports whether the call found the period fully credited.
func (r AccrualResult) AlreadyCredited() bool {
	return r.AlreadyCreditedPeriod != nil
}

// errAccrualSkipped rolls back an accrual write that lost to an earlier one.
var errAccrualSkipped = errors.New("accrual already recorded")

// AccrualKey is the idempotency key of an accrual history entry.
func AccrualKey(employeeID EmployeeID, code LeaveCode, period Period) string {
	return fmt.Sprintf("accrual:%s:%s:%s", employeeID, code, period)
}

// AccrueMonthly credits period for every active employee in org.
// Accounts are credited independently; if an error stops the run part
// way, calling again finishes the remaining accounts.
func (l *CreditLedger) AccrueMonthly(ctx context.Context, orgID OrgID, period Period) (AccrualResult, error) {
	result := AccrualResult{RunID: uuid.NewString(), OrgID: orgID, Period: period}

	if err := l.validatePeriod(period); err != nil {
		return result, err
	}

	employees, err := l.Directory.ListActiveEmployees(ctx, orgID)
	if err != nil {
		return result, fmt.Errorf("list active employees: %w", err)
	}
	result.Employees = len(employees)
	startedAt := l.now()

	for _, emp := range employees {
		for _, code := range l.Policy.EarnableCodes {
			applied, err := l.accrueAccount(ctx, emp.ID, code, period)
			if err != nil {
				if IsRetryable(err) {
					l.Metrics.Conflict("accrual")
				}
				l.Logger.Error("accrual failed",
					zap.String("org_id", string(orgID)),
					zap.String("employee_id", string(emp.ID)),
					zap.String("code", string(code)),
					zap.Stringer("period", period),
					zap.Error(err),
				)
				return result, fmt.Errorf("accrue %s/%s for %s: %w", emp.ID, code, period, err)
			}
			if applied {
				result.AppliedCount++
				l.Metrics.AccrualApplied(string(code), l.Policy.AccrualIncrement.InexactFloat64())
			} else {
				result.SkippedCount++
			}
		}
	}

	if result.AppliedCount == 0 && result.SkippedCount > 0 {
		p := period
		result.AlreadyCreditedPeriod = &p
	}
	l.Metrics.AccrualRun(result.AlreadyCredited())

	if l.Runs != nil {
		run := AccrualRun{
			ID:           result.RunID,
			OrgID:        orgID,
			Period:       period,
			Employees:    result.Employees,
			AppliedCount: result.AppliedCount,
			SkippedCount: result.SkippedCount,
			StartedAt:    startedAt,
			CompletedAt:  l.now(),
		}
		if err := l.Runs.SaveAccrualRun(ctx, run); err != nil {
			// Credits are already committed; losing the run record only costs history.
			l.Logger.Warn("failed to record accrual run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	if result.AlreadyCredited() {
		l.Logger.Info("accrual period already credited",
			zap.String("org_id", string(orgID)),
			zap.Stringer("period", period),
		)
	} else {
		l.Logger.Info("accrual applied",
			zap.String("org_id", string(orgID)),
			zap.Stringer("period", period),
			zap.Int("applied", result.AppliedCount),
			zap.Int("skipped", result.SkippedCount),
		)
	}
	return result, nil
}

// accrueAccount credits one account for period. Reports false when the
// period was already credited.
func (l *CreditLedger) accrueAccount(ctx context.Context, employeeID EmployeeID, code LeaveCode, period Period) (bool, error) {
	var applied bool
	err := RetryOnConflict(func() error {
		applied = false
		return l.Tx.WithTx(ctx, func(ctx context.Context) error {
			acct, err := l.loadOrNew(ctx, employeeID, code)
			if err != nil {
				return err
			}
			if acct.CreditedFor(period) {
				return nil
			}

			acct.Balance = acct.Balance.Add(l.Policy.AccrualIncrement)
			acct.LastAccrualPeriod = period
			acct.UpdatedAt = l.now()
			if _, err := l.Store.SaveAccount(ctx, acct); err != nil {
				return err
			}

			err = l.Store.AppendTransaction(ctx, Transaction{
				ID:             TransactionID(uuid.NewString()),
				EmployeeID:     employeeID,
				Code:           code,
				Type:           TxAccrual,
				Delta:          l.Policy.AccrualIncrement,
				BalanceAfter:   acct.Balance,
				Period:         period,
				Reason:         "monthly accrual " + period.String(),
				IdempotencyKey: AccrualKey(employeeID, code, period),
				CreatedBy:      "system",
				CreatedAt:      acct.UpdatedAt,
			})
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return errAccrualSkipped
			}
			if err != nil {
				return err
			}
			applied = true
			return nil
		})
	})
	if errors.Is(err, errAccrualSkipped) {
		return false, nil
	}
	return applied, err
}

// PeriodCredited reports whether every active employee of org already has
// period credited on every earnable code. Reads only.
func (l *CreditLedger) PeriodCredited(ctx context.Context, orgID OrgID, period Period) (bool, error) {
	if !period.Valid() {
		return false, &ValidationError{Field: "period", Code: "invalid_period", Message: "period must be a valid YYYY-MM"}
	}
	employees, err := l.Directory.ListActiveEmployees(ctx, orgID)
	if err != nil {
		return false, fmt.Errorf("list active employees: %w", err)
	}
	if len(employees) == 0 {
		return false, nil
	}
	for _, emp := range employees {
		for _, code := range l.Policy.EarnableCodes {
			acct, err := l.Store.GetAccount(ctx, emp.ID, code)
			if errors.Is(err, ErrAccountNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			if !acct.CreditedFor(period) {
				return false, nil
			}
		}
	}
	return true, nil
}

// ListAccrualRuns returns recorded runs for org, newest first.
func (l *CreditLedger) ListAccrualRuns(ctx context.Context, orgID OrgID) ([]AccrualRun, error) {
	if l.Runs == nil {
		return []AccrualRun{}, nil
	}
	return l.Runs.ListAccrualRuns(ctx, orgID)
}

// CurrentPeriod is the clock's calendar month.
func (l *CreditLedger) CurrentPeriod() Period {
	return PeriodOf(l.now())
}

func (l *CreditLedger) validatePeriod(p Period) error {
	if !p.Valid() {
		return &ValidationError{Field: "period", Code: "invalid_period", Message: "period must be a valid YYYY-MM"}
	}
	if current := l.CurrentPeriod(); p.After(current) {
		return &ValidationError{
			Field:   "period",
			Code:    "future_period",
			Message: fmt.Sprintf("period %s is after the current period %s", p, current),
		}
	}
	return nil
}

// accrualTimeout bounds a scheduler-triggered run.
const accrualTimeout = 5 * time.Minute

// AccrualContext derives a bounded context for a triggered run.
func AccrualContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, accrualTimeout)
}
