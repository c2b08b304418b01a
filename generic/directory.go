package generic

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATORS - Read-only views owned by other HR subsystems
// =============================================================================

// Employee is the directory view the credit core needs.
type Employee struct {
	ID         EmployeeID
	OrgID      OrgID
	Name       string
	Role       Role
	Department string
	Active     bool
}

// EmployeeDirectory looks up employees and their current role.
type EmployeeDirectory interface {
	// GetEmployee returns ErrEmployeeNotFound for unknown ids.
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)

	// ListActiveEmployees returns active employees of the org.
	ListActiveEmployees(ctx context.Context, orgID OrgID) ([]Employee, error)
}

// LeaveStatus is the status of an ordinary leave request.
type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveRejected LeaveStatus = "rejected"
)

// LeaveRequest is an already-filed leave, the subject of a reschedule.
type LeaveRequest struct {
	ID         RequestID
	EmployeeID EmployeeID
	Code       LeaveCode
	StartDate  Date
	EndDate    Date
	TotalDays  int
	Status     LeaveStatus
	CreatedAt  time.Time
}

// LeaveRequestStore reads ordinary leave requests.
type LeaveRequestStore interface {
	// GetLeaveRequest returns ErrLeaveRequestNotFound for unknown ids.
	GetLeaveRequest(ctx context.Context, id RequestID) (LeaveRequest, error)
}
