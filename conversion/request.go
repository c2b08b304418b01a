/*
Package conversion implements VL monetization requests.

PURPOSE:
  An employee asks to convert unused vacation-leave credits into cash.
  The request passes a fixed three-stage chain (hr → dept_head → admin);
  the final admin approval debits the ledger exactly once, in the same
  storage transaction that records the approval.

STATUS FLOW:
  pending ──hr──▶ hr_approved ──dept_head──▶ dept_head_approved ──admin──▶ admin_approved
     │                 │                           │
     └─────────────────┴───────────────────────────┴──▶ rejected (remarks required)

SEE ALSO:
  - workflow.go: Submit / ApproveStage / Reject
  - generic/approval.go: The underlying state machine
*/
package conversion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-credits/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending          Status = "pending"
	StatusHRApproved       Status = "hr_approved"
	StatusDeptHeadApproved Status = "dept_head_approved"
	StatusAdminApproved    Status = "admin_approved"
	StatusRejected         Status = "rejected"
)

func (s Status) IsTerminal() bool {
	return s == StatusAdminApproved || s == StatusRejected
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusHRApproved, StatusDeptHeadApproved, StatusAdminApproved, StatusRejected:
		return st, nil
	}
	return "", &generic.ValidationError{Field: "status", Code: "unknown_status", Message: "unknown conversion status " + s}
}

// Chain is the fixed approval chain for every conversion request.
var Chain = []generic.Stage{generic.StageHR, generic.StageDeptHead, generic.StageAdmin}

var approvedStatus = map[generic.Stage]Status{
	generic.StageHR:       StatusHRApproved,
	generic.StageDeptHead: StatusDeptHeadApproved,
	generic.StageAdmin:    StatusAdminApproved,
}

// =============================================================================
// REQUEST
// =============================================================================

type Request struct {
	ID               generic.RequestID
	EmployeeID       generic.EmployeeID
	Code             generic.LeaveCode
	CreditsRequested decimal.Decimal
	Status           Status
	Approval         generic.Approval

	SubmittedAt        time.Time
	HRApprovedAt       *time.Time
	DeptHeadApprovedAt *time.Time
	AdminApprovedAt    *time.Time
	RejectedReason     string
	RejectedAt         *time.Time
	RejectedBy         generic.Role
	RejectedStage      generic.Stage

	// DebitApplied is set in the same transaction as the ledger debit.
	DebitApplied bool

	Version   int64
	UpdatedAt time.Time
}

// CountsTowardCap reports whether the request uses annual conversion capacity.
func (r Request) CountsTowardCap() bool {
	return r.Status != StatusRejected
}

// clone returns a copy safe to mutate without touching r.
func (r Request) clone() Request {
	out := r
	out.Approval = r.Approval.Clone()
	return out
}

// sync derives Status and the per-stage columns from Approval.
func (r *Request) sync() {
	a := r.Approval
	r.HRApprovedAt = a.CompletedAt(generic.StageHR)
	r.DeptHeadApprovedAt = a.CompletedAt(generic.StageDeptHead)
	r.AdminApprovedAt = a.CompletedAt(generic.StageAdmin)

	switch {
	case a.Outcome == generic.OutcomeRejected:
		r.Status = StatusRejected
		if a.Rejection != nil {
			at := a.Rejection.At
			r.RejectedAt = &at
			r.RejectedReason = a.Rejection.Remarks
			r.RejectedBy = a.Rejection.Role
			r.RejectedStage = a.Rejection.Stage
		}
	default:
		r.Status = StatusPending
		if last, ok := a.LastCompleted(); ok {
			r.Status = approvedStatus[last.Stage]
		}
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store persists conversion requests. Updates are compare-and-set on
// Version and fail with generic.ErrConcurrentModification on mismatch.
type Store interface {
	CreateConversion(ctx context.Context, r Request) (Request, error)

	// GetConversion returns generic.ErrRequestNotFound for unknown ids.
	GetConversion(ctx context.Context, id generic.RequestID) (Request, error)

	UpdateConversion(ctx context.Context, r Request) (Request, error)

	// ListConversionsByEmployee returns the employee's requests, newest first.
	ListConversionsByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]Request, error)

	// ListConversionsByStatus returns requests in status, oldest first.
	ListConversionsByStatus(ctx context.Context, status Status) ([]Request, error)
}
