/*
workflow.go - Leave reschedule request lifecycle

PURPOSE:
  Submit checks a proposal against the employee's approved leave and
  files it at the first stage of the chain for the employee's role.
  ApproveStage and Reject drive that chain. No balance moves here: the
  proposed dates must cover exactly the original day count.

SUBMIT CHECKS (first failure wins):
  1. empty_reason        a reason is required
  2. inactive_employee   only active employees may submit
  3. leave_not_owned     the leave belongs to the submitter
  4. leave_not_approved  only approved leave can move
  5. proposed dates      count matches, no duplicates, no zero dates
  6. reschedule_pending  one open reschedule per leave at a time

CONCURRENCY:
  - Per leave id: submissions serialize so two proposals cannot both
    pass the pending check.
  - Per request id: in-process KeyedMutex, plus the store's version check
    retried once with fresh state.

SEE ALSO:
  - request.go: Request, Status, ChainFor
  - generic/approval.go: ApprovalMachine
*/
package reschedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/observability"
)

const workflowName = "reschedule"

// SubmitInput is a proposal to move an approved leave.
type SubmitInput struct {
	EmployeeID      generic.EmployeeID
	OriginalLeaveID generic.RequestID
	ProposedDates   []generic.Date
	Reason          string
}

type Workflow struct {
	Store     Store
	Leaves    generic.LeaveRequestStore
	Directory generic.EmployeeDirectory
	Clock     generic.Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics

	requestLocks *generic.KeyedMutex
	leaveLocks   *generic.KeyedMutex
}

func NewWorkflow(store Store, leaves generic.LeaveRequestStore, directory generic.EmployeeDirectory, clock generic.Clock) *Workflow {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Workflow{
		Store:        store,
		Leaves:       leaves,
		Directory:    directory,
		Clock:        clock,
		Logger:       zap.NewNop(),
		requestLocks: generic.NewKeyedMutex(),
		leaveLocks:   generic.NewKeyedMutex(),
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit validates the proposal against the original leave and files it
// at the first stage of the chain chosen for the employee's current role.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return Request{}, &generic.ValidationError{Field: "reason", Code: "empty_reason", Message: "a reason is required"}
	}

	emp, err := w.Directory.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return Request{}, err
	}
	if !emp.Active {
		return Request{}, &generic.ValidationError{Field: "employee_id", Code: "inactive_employee", Message: fmt.Sprintf("employee %s is not active", emp.ID)}
	}
	original, err := w.Leaves.GetLeaveRequest(ctx, in.OriginalLeaveID)
	if err != nil {
		return Request{}, err
	}
	if original.EmployeeID != emp.ID {
		return Request{}, &generic.ValidationError{Field: "original_leave_id", Code: "leave_not_owned", Message: "leave request belongs to another employee"}
	}
	if original.Status != generic.LeaveApproved {
		return Request{}, &generic.ValidationError{Field: "original_leave_id", Code: "leave_not_approved", Message: fmt.Sprintf("only approved leave can be rescheduled, status is %s", original.Status)}
	}

	dates, err := normalizeDates(in.ProposedDates, original.TotalDays)
	if err != nil {
		return Request{}, err
	}

	chain, err := ChainFor(emp.Role)
	if err != nil {
		return Request{}, err
	}
	machine, err := generic.MachineForChain(chain)
	if err != nil {
		return Request{}, err
	}

	unlock := w.leaveLocks.Lock(string(original.ID))
	defer unlock()

	existing, err := w.Store.ListReschedulesByLeave(ctx, original.ID)
	if err != nil {
		return Request{}, fmt.Errorf("list reschedules: %w", err)
	}
	for _, r := range existing {
		if !r.Status.IsTerminal() {
			return Request{}, &generic.ValidationError{Field: "original_leave_id", Code: "reschedule_pending", Message: fmt.Sprintf("reschedule %s is still pending for this leave", r.ID)}
		}
	}

	now := w.Clock.Now()
	req := Request{
		ID:                generic.RequestID(uuid.NewString()),
		EmployeeID:        emp.ID,
		RoleAtSubmission:  emp.Role,
		OriginalLeaveID:   original.ID,
		OriginalCode:      original.Code,
		OriginalStart:     original.StartDate,
		OriginalEnd:       original.EndDate,
		OriginalTotalDays: original.TotalDays,
		ProposedDates:     dates,
		Reason:            reason,
		Approval:          machine.Start(),
		SubmittedAt:       now,
		UpdatedAt:         now,
	}
	req.sync()

	created, err := w.Store.CreateReschedule(ctx, req)
	if err != nil {
		return Request{}, fmt.Errorf("create reschedule request: %w", err)
	}

	w.Logger.Info("reschedule submitted",
		zap.String("request_id", string(created.ID)),
		zap.String("employee_id", string(created.EmployeeID)),
		zap.String("role_at_submission", string(created.RoleAtSubmission)),
		zap.Int("days", len(created.ProposedDates)),
	)
	return created, nil
}

// normalizeDates checks count and uniqueness and returns the dates sorted.
func normalizeDates(proposed []generic.Date, totalDays int) ([]generic.Date, error) {
	if len(proposed) != totalDays {
		return nil, &generic.ValidationError{
			Field:   "proposed_dates",
			Code:    "day_count_mismatch",
			Message: fmt.Sprintf("proposed %d dates, original leave has %d days", len(proposed), totalDays),
		}
	}
	seen := make(map[string]bool, len(proposed))
	for _, d := range proposed {
		if d.IsZero() {
			return nil, &generic.ValidationError{Field: "proposed_dates", Code: "invalid_date", Message: "proposed dates must be set"}
		}
		if seen[d.String()] {
			return nil, &generic.ValidationError{Field: "proposed_dates", Code: "duplicate_dates", Message: fmt.Sprintf("date %s proposed more than once", d)}
		}
		seen[d.String()] = true
	}

	out := append([]generic.Date(nil), proposed...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

// ApproveStage approves the current stage of the frozen chain.
func (w *Workflow) ApproveStage(ctx context.Context, id generic.RequestID, role generic.Role, remarks string) (Request, error) {
	var stage generic.Stage
	out, err := w.mutate(ctx, id, func(m *generic.ApprovalMachine, next *Request) error {
		rec, err := m.Advance(&next.Approval, role, w.Clock.Now(), remarks)
		if err != nil {
			return err
		}
		stage = rec.Stage
		next.UpdatedAt = rec.At
		return nil
	})
	if err != nil {
		w.Logger.Warn("reschedule approval failed",
			zap.String("request_id", string(id)),
			zap.String("role", string(role)),
			zap.String("reason", generic.ReasonCode(err)),
			zap.Error(err),
		)
		return Request{}, err
	}

	w.Metrics.ApprovalAction(workflowName, string(stage), "approved")
	w.Logger.Info("reschedule stage approved",
		zap.String("request_id", string(out.ID)),
		zap.String("stage", string(stage)),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

// Reject terminates the request at its current stage.
func (w *Workflow) Reject(ctx context.Context, id generic.RequestID, role generic.Role, remarks string) (Request, error) {
	var stage generic.Stage
	out, err := w.mutate(ctx, id, func(m *generic.ApprovalMachine, next *Request) error {
		current, _ := next.Approval.CurrentStage()
		now := w.Clock.Now()
		if err := m.Reject(&next.Approval, role, remarks, now); err != nil {
			return err
		}
		stage = current
		next.UpdatedAt = now
		return nil
	})
	if err != nil {
		w.Logger.Warn("reschedule rejection failed",
			zap.String("request_id", string(id)),
			zap.String("role", string(role)),
			zap.String("reason", generic.ReasonCode(err)),
			zap.Error(err),
		)
		return Request{}, err
	}

	w.Metrics.ApprovalAction(workflowName, string(stage), "rejected")
	w.Logger.Info("reschedule rejected",
		zap.String("request_id", string(out.ID)),
		zap.String("stage", string(stage)),
		zap.String("role", string(role)),
	)
	return out, nil
}

// mutate loads the request, applies fn to a copy using the request's own
// frozen chain, and saves with a version check retried once.
func (w *Workflow) mutate(ctx context.Context, id generic.RequestID, fn func(*generic.ApprovalMachine, *Request) error) (Request, error) {
	unlock := w.requestLocks.Lock(string(id))
	defer unlock()

	var out Request
	err := generic.RetryOnConflict(func() error {
		current, err := w.Store.GetReschedule(ctx, id)
		if err != nil {
			return err
		}
		machine, err := generic.MachineForChain(current.Approval.Chain)
		if err != nil {
			return &generic.InvalidStateError{RequestID: id, Status: string(current.Status), Reason: generic.StateChainMismatch}
		}

		next := current.clone()
		if err := fn(machine, &next); err != nil {
			return generic.AnnotateState(err, id, string(current.Status))
		}
		next.sync()

		out, err = w.Store.UpdateReschedule(ctx, next)
		return err
	})
	if errors.Is(err, generic.ErrConcurrentModification) {
		w.Metrics.Conflict(workflowName)
		return Request{}, &generic.InvalidStateError{RequestID: id, Status: "unknown", Reason: generic.StateConcurrentUpdate}
	}
	return out, err
}

// =============================================================================
// READS
// =============================================================================

func (w *Workflow) Get(ctx context.Context, id generic.RequestID) (Request, error) {
	return w.Store.GetReschedule(ctx, id)
}

func (w *Workflow) ListByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]Request, error) {
	return w.Store.ListReschedulesByEmployee(ctx, employeeID)
}

func (w *Workflow) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	return w.Store.ListReschedulesByStatus(ctx, status)
}
