/*
workflow.go - Conversion request lifecycle

PURPOSE:
  Submit validates eligibility and files a pending request. ApproveStage
  and Reject drive the approval chain. The admin approval is the only
  two-write operation in the system: ledger debit + request update run
  inside one storage transaction and roll back together.

ELIGIBILITY (checked in this order, first failure wins):
  1. wrong_leave_type      code must be the policy's conversion code (VL)
  2. insufficient_balance  credits <= current VL balance
  3. below_minimum         credits >= policy minimum (10)
  4. annual_cap_exceeded   non-rejected credits this calendar year
                           + credits <= policy cap (10)

  A request uses capacity in the year it was submitted and, once
  debited, in the year of the debit. A December request approved in
  January therefore counts against both years.

  Balance and annual usage are checked again right before the final
  debit, for the submission year and for the debit year. A failure there
  returns ConcurrentBalanceChangeError wrapping the specific cause and
  leaves the request at dept_head_approved.

CONCURRENCY:
  - Per request id: in-process KeyedMutex, plus the store's version check
    retried once with fresh state.
  - Per employee: submissions serialize so two requests cannot both pass
    the annual cap check.

SEE ALSO:
  - request.go: Request, Status, Store
  - generic/ledger.go: Debit
*/
package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/observability"
)

const workflowName = "conversion"

// SubmitInput is a new conversion request. Code defaults to the policy's
// conversion code when empty.
type SubmitInput struct {
	EmployeeID generic.EmployeeID
	Code       generic.LeaveCode
	Credits    decimal.Decimal
}

type Workflow struct {
	Store     Store
	Ledger    *generic.CreditLedger
	Tx        generic.TxManager
	Directory generic.EmployeeDirectory
	Clock     generic.Clock
	Policy    generic.CreditPolicy
	Logger    *zap.Logger
	Metrics   *observability.Metrics

	machine       *generic.ApprovalMachine
	requestLocks  *generic.KeyedMutex
	employeeLocks *generic.KeyedMutex
}

// NewWorkflow wires the workflow to the ledger it debits. Clock, policy,
// logger and metrics are taken from the ledger.
func NewWorkflow(store Store, ledger *generic.CreditLedger, tx generic.TxManager, directory generic.EmployeeDirectory) *Workflow {
	machine, err := generic.MachineForChain(Chain)
	if err != nil {
		panic(fmt.Sprintf("conversion chain: %v", err))
	}
	return &Workflow{
		Store:         store,
		Ledger:        ledger,
		Tx:            tx,
		Directory:     directory,
		Clock:         ledger.Clock,
		Policy:        ledger.Policy,
		Logger:        observability.OrNop(ledger.Logger),
		Metrics:       ledger.Metrics,
		machine:       machine,
		requestLocks:  generic.NewKeyedMutex(),
		employeeLocks: generic.NewKeyedMutex(),
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	if strings.TrimSpace(string(in.EmployeeID)) == "" {
		return Request{}, &generic.ValidationError{Field: "employee_id", Code: "required", Message: "employee id is required"}
	}
	code := in.Code
	if code == "" {
		code = w.Policy.ConversionCode
	}
	if code != w.Policy.ConversionCode {
		return Request{}, &generic.EligibilityError{
			Reason:    generic.ReasonWrongLeaveType,
			Requested: in.Credits,
			Message:   fmt.Sprintf("only %s credits can be converted, got %s", w.Policy.ConversionCode, code),
		}
	}

	emp, err := w.Directory.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return Request{}, err
	}
	if !emp.Active {
		return Request{}, &generic.ValidationError{Field: "employee_id", Code: "inactive_employee", Message: fmt.Sprintf("employee %s is not active", emp.ID)}
	}

	unlock := w.employeeLocks.Lock(string(in.EmployeeID))
	defer unlock()

	now := w.Clock.Now()
	if err := w.checkEligibility(ctx, in.EmployeeID, in.Credits, now.Year(), ""); err != nil {
		return Request{}, err
	}

	req := Request{
		ID:               generic.RequestID(uuid.NewString()),
		EmployeeID:       in.EmployeeID,
		Code:             code,
		CreditsRequested: in.Credits,
		Approval:         w.machine.Start(),
		SubmittedAt:      now,
		UpdatedAt:        now,
	}
	req.sync()

	created, err := w.Store.CreateConversion(ctx, req)
	if err != nil {
		return Request{}, fmt.Errorf("create conversion request: %w", err)
	}

	w.Logger.Info("conversion submitted",
		zap.String("request_id", string(created.ID)),
		zap.String("employee_id", string(created.EmployeeID)),
		zap.String("credits", created.CreditsRequested.String()),
	)
	return created, nil
}

// checkEligibility runs the balance, minimum and annual-cap rules.
// exclude names a request whose own credits must not count as prior usage.
func (w *Workflow) checkEligibility(ctx context.Context, employeeID generic.EmployeeID, credits decimal.Decimal, year int, exclude generic.RequestID) error {
	balance, err := w.Ledger.GetBalance(ctx, employeeID, w.Policy.ConversionCode)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if credits.GreaterThan(balance) {
		return &generic.EligibilityError{
			Reason:    generic.ReasonInsufficientCredit,
			Requested: credits,
			Limit:     balance,
			Message:   fmt.Sprintf("requested %s exceeds %s balance %s", credits, w.Policy.ConversionCode, balance),
		}
	}
	if credits.LessThan(w.Policy.ConversionMinimum) {
		return &generic.EligibilityError{
			Reason:    generic.ReasonBelowMinimum,
			Requested: credits,
			Limit:     w.Policy.ConversionMinimum,
			Message:   fmt.Sprintf("at least %s credits must be converted", w.Policy.ConversionMinimum),
		}
	}

	return w.checkAnnualCap(ctx, employeeID, credits, year, exclude)
}

// checkAnnualCap fails when credits would push year's usage past the cap.
func (w *Workflow) checkAnnualCap(ctx context.Context, employeeID generic.EmployeeID, credits decimal.Decimal, year int, exclude generic.RequestID) error {
	used, err := w.usage(ctx, employeeID, year, exclude)
	if err != nil {
		return err
	}
	if used.Add(credits).GreaterThan(w.Policy.ConversionAnnualCap) {
		remaining := decimal.Max(w.Policy.ConversionAnnualCap.Sub(used), decimal.Zero)
		return &generic.EligibilityError{
			Reason:    generic.ReasonAnnualCapExceeded,
			Requested: credits,
			Limit:     remaining,
			Message:   fmt.Sprintf("%s already converted or pending in %d; annual cap is %s", used, year, w.Policy.ConversionAnnualCap),
		}
	}
	return nil
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

// ApproveStage approves the request's current stage as role. The admin
// stage debits the ledger in the same transaction.
func (w *Workflow) ApproveStage(ctx context.Context, id generic.RequestID, role generic.Role, remarks string) (Request, error) {
	unlock := w.requestLocks.Lock(string(id))
	defer unlock()

	var (
		out   Request
		stage generic.Stage
		final bool
	)
	err := generic.RetryOnConflict(func() error {
		current, err := w.Store.GetConversion(ctx, id)
		if err != nil {
			return err
		}
		next := current.clone()
		rec, err := w.machine.Advance(&next.Approval, role, w.Clock.Now(), remarks)
		if err != nil {
			return generic.AnnotateState(err, id, string(current.Status))
		}
		next.sync()
		next.UpdatedAt = rec.At
		stage = rec.Stage

		if next.Approval.Outcome != generic.OutcomeAccepted {
			out, err = w.Store.UpdateConversion(ctx, next)
			return err
		}
		final = true
		return w.Tx.WithTx(ctx, func(ctx context.Context) error {
			out, err = w.finalize(ctx, next)
			return err
		})
	})
	if errors.Is(err, generic.ErrConcurrentModification) {
		w.Metrics.Conflict(workflowName)
		if final {
			err = &generic.ConcurrentBalanceChangeError{RequestID: id, Cause: err}
		} else {
			err = &generic.InvalidStateError{RequestID: id, Status: "unknown", Reason: generic.StateConcurrentUpdate}
		}
	}
	if err != nil {
		w.Logger.Warn("conversion approval failed",
			zap.String("request_id", string(id)),
			zap.String("role", string(role)),
			zap.String("reason", generic.ReasonCode(err)),
			zap.Error(err),
		)
		return Request{}, err
	}

	w.Metrics.ApprovalAction(workflowName, string(stage), "approved")
	w.Logger.Info("conversion stage approved",
		zap.String("request_id", string(out.ID)),
		zap.String("stage", string(stage)),
		zap.String("role", string(role)),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

// finalize rechecks eligibility, debits and stores the accepted request.
// Runs inside the caller's transaction.
func (w *Workflow) finalize(ctx context.Context, next Request) (Request, error) {
	if next.DebitApplied {
		return Request{}, &generic.InvalidStateError{RequestID: next.ID, Status: string(next.Status), Reason: generic.StateAlreadyAdvanced}
	}

	now := w.Clock.Now()
	submitYear := next.SubmittedAt.In(now.Location()).Year()
	if err := w.checkEligibility(ctx, next.EmployeeID, next.CreditsRequested, submitYear, next.ID); err != nil {
		return Request{}, &generic.ConcurrentBalanceChangeError{RequestID: next.ID, Cause: err}
	}
	if debitYear := now.Year(); debitYear != submitYear {
		if err := w.checkAnnualCap(ctx, next.EmployeeID, next.CreditsRequested, debitYear, next.ID); err != nil {
			return Request{}, &generic.ConcurrentBalanceChangeError{RequestID: next.ID, Cause: err}
		}
	}

	_, err := w.Ledger.Debit(ctx, next.EmployeeID, next.Code, next.CreditsRequested, "conversion:"+string(next.ID))
	if errors.Is(err, generic.ErrInsufficientBalance) {
		return Request{}, &generic.ConcurrentBalanceChangeError{RequestID: next.ID, Cause: err}
	}
	if err != nil {
		return Request{}, err
	}
	next.DebitApplied = true

	saved, err := w.Store.UpdateConversion(ctx, next)
	if err != nil {
		return Request{}, err
	}
	w.Metrics.Debited(next.CreditsRequested.InexactFloat64())
	return saved, nil
}

// Reject terminates the request at its current stage. Never touches the ledger.
func (w *Workflow) Reject(ctx context.Context, id generic.RequestID, role generic.Role, remarks string) (Request, error) {
	unlock := w.requestLocks.Lock(string(id))
	defer unlock()

	var (
		out   Request
		stage generic.Stage
	)
	err := generic.RetryOnConflict(func() error {
		current, err := w.Store.GetConversion(ctx, id)
		if err != nil {
			return err
		}
		next := current.clone()
		if err := w.machine.Reject(&next.Approval, role, remarks, w.Clock.Now()); err != nil {
			return generic.AnnotateState(err, id, string(current.Status))
		}
		next.sync()
		next.UpdatedAt = *next.RejectedAt
		stage = next.RejectedStage

		out, err = w.Store.UpdateConversion(ctx, next)
		return err
	})
	if errors.Is(err, generic.ErrConcurrentModification) {
		w.Metrics.Conflict(workflowName)
		err = &generic.InvalidStateError{RequestID: id, Status: "unknown", Reason: generic.StateConcurrentUpdate}
	}
	if err != nil {
		return Request{}, err
	}

	w.Metrics.ApprovalAction(workflowName, string(stage), "rejected")
	w.Logger.Info("conversion rejected",
		zap.String("request_id", string(out.ID)),
		zap.String("stage", string(stage)),
		zap.String("role", string(role)),
	)
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

func (w *Workflow) Get(ctx context.Context, id generic.RequestID) (Request, error) {
	return w.Store.GetConversion(ctx, id)
}

func (w *Workflow) ListByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]Request, error) {
	return w.Store.ListConversionsByEmployee(ctx, employeeID)
}

func (w *Workflow) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	return w.Store.ListConversionsByStatus(ctx, status)
}

// AnnualUsage sums credits of non-rejected requests submitted or debited in year.
func (w *Workflow) AnnualUsage(ctx context.Context, employeeID generic.EmployeeID, year int) (decimal.Decimal, error) {
	return w.usage(ctx, employeeID, year, "")
}

func (w *Workflow) usage(ctx context.Context, employeeID generic.EmployeeID, year int, exclude generic.RequestID) (decimal.Decimal, error) {
	requests, err := w.Store.ListConversionsByEmployee(ctx, employeeID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list conversions: %w", err)
	}
	loc := w.Clock.Now().Location()

	total := decimal.Zero
	for _, r := range requests {
		if r.ID == exclude || !r.CountsTowardCap() {
			continue
		}
		if !usesCapacityIn(r, year, loc) {
			continue
		}
		total = total.Add(r.CreditsRequested)
	}
	return total, nil
}

func usesCapacityIn(r Request, year int, loc *time.Location) bool {
	if r.SubmittedAt.In(loc).Year() == year {
		return true
	}
	return r.DebitApplied && r.AdminApprovedAt != nil && r.AdminApprovedAt.In(loc).Year() == year
}
