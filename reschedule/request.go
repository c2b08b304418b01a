/*
Package reschedule implements requests to move an approved leave to new dates.

PURPOSE:
  An employee proposes new calendar dates for a leave that was already
  approved. The proposal must cover exactly the same number of days, so
  credit totals never change and the ledger is not involved.

APPROVAL CHAIN:
  Chosen once from the employee's role at submission and frozen on the
  request; later role changes do not affect requests in flight.

    employee, hr      → [hr, dept_head]   pending_hr → pending_dept_head → approved
    dept_head, admin  → [hr]              pending_hr → approved

  Any pending stage can reject (remarks required) → rejected.

SEE ALSO:
  - workflow.go: Submit / ApproveStage / Reject
  - generic/approval.go: The underlying state machine
*/
package reschedule

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/leave-credits/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPendingHR       Status = "pending_hr"
	StatusPendingDeptHead Status = "pending_dept_head"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPendingHR, StatusPendingDeptHead, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", &generic.ValidationError{Field: "status", Code: "unknown_status", Message: "unknown reschedule status " + s}
}

// ChainFor picks the approval chain for the submitter's role.
func ChainFor(role generic.Role) ([]generic.Stage, error) {
	switch role {
	case generic.RoleEmployee, generic.RoleHR:
		return []generic.Stage{generic.StageHR, generic.StageDeptHead}, nil
	case generic.RoleDeptHead, generic.RoleAdmin:
		return []generic.Stage{generic.StageHR}, nil
	}
	return nil, &generic.ValidationError{Field: "role", Code: "unknown_role", Message: fmt.Sprintf("no reschedule chain for role %q", role)}
}

// =============================================================================
// REQUEST
// =============================================================================

type Request struct {
	ID               generic.RequestID
	EmployeeID       generic.EmployeeID
	RoleAtSubmission generic.Role

	OriginalLeaveID   generic.RequestID
	OriginalCode      generic.LeaveCode
	OriginalStart     generic.Date
	OriginalEnd       generic.Date
	OriginalTotalDays int

	ProposedDates []generic.Date // ascending, no duplicates
	Reason        string
	Status        Status
	Approval      generic.Approval

	SubmittedAt        time.Time
	HRApprovedAt       *time.Time
	HRRemarks          string
	DeptHeadApprovedAt *time.Time
	DeptHeadRemarks    string
	RejectedReason     string
	RejectedAt         *time.Time
	RejectedBy         generic.Role
	RejectedStage      generic.Stage

	Version   int64
	UpdatedAt time.Time
}

func (r Request) clone() Request {
	out := r
	out.ProposedDates = append([]generic.Date(nil), r.ProposedDates...)
	out.Approval = r.Approval.Clone()
	return out
}

// sync derives Status and the per-stage columns from Approval.
func (r *Request) sync() {
	a := r.Approval
	r.HRApprovedAt = a.CompletedAt(generic.StageHR)
	r.DeptHeadApprovedAt = a.CompletedAt(generic.StageDeptHead)
	for _, rec := range a.Completed {
		switch rec.Stage {
		case generic.StageHR:
			r.HRRemarks = rec.Remarks
		case generic.StageDeptHead:
			r.DeptHeadRemarks = rec.Remarks
		}
	}

	switch a.Outcome {
	case generic.OutcomeAccepted:
		r.Status = StatusApproved
	case generic.OutcomeRejected:
		r.Status = StatusRejected
		if a.Rejection != nil {
			at := a.Rejection.At
			r.RejectedAt = &at
			r.RejectedReason = a.Rejection.Remarks
			r.RejectedBy = a.Rejection.Role
			r.RejectedStage = a.Rejection.Stage
		}
	default:
		stage, _ := a.CurrentStage()
		r.Status = Status("pending_" + string(stage))
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store persists reschedule requests. Updates are compare-and-set on
// Version and fail with generic.ErrConcurrentModification on mismatch.
type Store interface {
	CreateReschedule(ctx context.Context, r Request) (Request, error)

	// GetReschedule returns generic.ErrRequestNotFound for unknown ids.
	GetReschedule(ctx context.Context, id generic.RequestID) (Request, error)

	UpdateReschedule(ctx context.Context, r Request) (Request, error)

	// ListReschedulesByEmployee returns the employee's requests, newest first.
	ListReschedulesByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]Request, error)

	// ListReschedulesByStatus returns requests in status, oldest first.
	ListReschedulesByStatus(ctx context.Context, status Status) ([]Request, error)

	// ListReschedulesByLeave returns every reschedule of one original leave.
	ListReschedulesByLeave(ctx context.Context, leaveID generic.RequestID) ([]Request, error)
}
