/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Balances and credit amounts are decimal.Decimal, which marshals as a
  quoted string ("12.5") and unmarshals from either a string or a number.
  Clients never see binary floating point.

VALIDATION:
  Validation is done by the domain packages, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/reschedule"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents a leave account in API responses.
type AccountDTO struct {
	EmployeeID        string          `json:"employee_id"`
	Code              string          `json:"code"`
	Balance           decimal.Decimal `json:"balance"`
	ImportedAt        *time.Time      `json:"imported_at,omitempty"`
	LastAccrualPeriod generic.Period  `json:"last_accrual_period"`
	Version           int64           `json:"version"`
	UpdatedAt         *time.Time      `json:"updated_at,omitempty"`
}

// OverrideRequest replaces an account balance (HR import).
type OverrideRequest struct {
	Balance    decimal.Decimal `json:"balance"`
	ImportedAt *time.Time      `json:"imported_at,omitempty"`
	Actor      string          `json:"actor"`
}

// TransactionDTO is one history entry.
type TransactionDTO struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Period       generic.Period  `json:"period"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// =============================================================================
// ACCRUALS
// =============================================================================

// AccrueRequest triggers a monthly accrual. Period defaults to the current month.
type AccrueRequest struct {
	OrgID  string `json:"org_id"`
	Period string `json:"period,omitempty"`
}

// AccrualRunDTO is one recorded accrual invocation.
type AccrualRunDTO struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"org_id"`
	Period       generic.Period `json:"period"`
	Employees    int            `json:"employees"`
	AppliedCount int            `json:"applied_count"`
	SkippedCount int            `json:"skipped_count"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// AccrualStatusDTO answers "was this period already credited?".
type AccrualStatusDTO struct {
	OrgID    string         `json:"org_id"`
	Period   generic.Period `json:"period"`
	Credited bool           `json:"credited"`
}

// =============================================================================
// APPROVALS
// =============================================================================

// ActionRequest is the body of approve/reject calls.
type ActionRequest struct {
	ActingRole string `json:"acting_role"`
	Remarks    string `json:"remarks,omitempty"`
}

// ConversionDTO represents a conversion request in API responses.
type ConversionDTO struct {
	ID                 string                `json:"id"`
	EmployeeID         string                `json:"employee_id"`
	Code               string                `json:"code"`
	CreditsRequested   decimal.Decimal       `json:"credits_requested"`
	Status             string                `json:"status"`
	Stages             []generic.Stage       `json:"stages"`
	Approvals          []generic.StageRecord `json:"approvals"`
	SubmittedAt        time.Time             `json:"submitted_at"`
	HRApprovedAt       *time.Time            `json:"hr_approved_at,omitempty"`
	DeptHeadApprovedAt *time.Time            `json:"dept_head_approved_at,omitempty"`
	AdminApprovedAt    *time.Time            `json:"admin_approved_at,omitempty"`
	RejectedReason     string                `json:"rejected_reason,omitempty"`
	RejectedAt         *time.Time            `json:"rejected_at,omitempty"`
	RejectedBy         string                `json:"rejected_by,omitempty"`
	RejectedStage      string                `json:"rejected_stage,omitempty"`
	DebitApplied       bool                  `json:"debit_applied"`
	Version            int64                 `json:"version"`
}

// SubmitConversionRequest files a VL monetization request.
type SubmitConversionRequest struct {
	EmployeeID string          `json:"employee_id"`
	LeaveCode  string          `json:"leave_code,omitempty"`
	Credits    decimal.Decimal `json:"credits"`
}

// RescheduleDTO represents a reschedule request in API responses.
type RescheduleDTO struct {
	ID                 string                `json:"id"`
	EmployeeID         string                `json:"employee_id"`
	RoleAtSubmission   string                `json:"role_at_submission"`
	OriginalLeaveID    string                `json:"original_leave_id"`
	OriginalCode       string                `json:"original_code"`
	OriginalStart      generic.Date          `json:"original_start"`
	OriginalEnd        generic.Date          `json:"original_end"`
	OriginalTotalDays  int                   `json:"original_total_days"`
	ProposedDates      []generic.Date        `json:"proposed_dates"`
	Reason             string                `json:"reason"`
	Status             string                `json:"status"`
	Stages             []generic.Stage       `json:"stages"`
	Approvals          []generic.StageRecord `json:"approvals"`
	SubmittedAt        time.Time             `json:"submitted_at"`
	HRApprovedAt       *time.Time            `json:"hr_approved_at,omitempty"`
	HRRemarks          string                `json:"hr_remarks,omitempty"`
	DeptHeadApprovedAt *time.Time            `json:"dept_head_approved_at,omitempty"`
	DeptHeadRemarks    string                `json:"dept_head_remarks,omitempty"`
	RejectedReason     string                `json:"rejected_reason,omitempty"`
	RejectedAt         *time.Time            `json:"rejected_at,omitempty"`
	RejectedBy         string                `json:"rejected_by,omitempty"`
	RejectedStage      string                `json:"rejected_stage,omitempty"`
	Version            int64                 `json:"version"`
}

// SubmitRescheduleRequest proposes new dates for an approved leave.
type SubmitRescheduleRequest struct {
	EmployeeID      string         `json:"employee_id"`
	OriginalLeaveID string         `json:"original_leave_id"`
	ProposedDates   []generic.Date `json:"proposed_dates"`
	Reason          string         `json:"reason"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAccountDTO(a generic.Account) AccountDTO {
	dto := AccountDTO{
		EmployeeID:        string(a.EmployeeID),
		Code:              string(a.Code),
		Balance:           a.Balance,
		ImportedAt:        a.ImportedAt,
		LastAccrualPeriod: a.LastAccrualPeriod,
		Version:           a.Version,
	}
	if !a.UpdatedAt.IsZero() {
		updated := a.UpdatedAt
		dto.UpdatedAt = &updated
	}
	return dto
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		Type:         string(tx.Type),
		Delta:        tx.Delta,
		BalanceAfter: tx.BalanceAfter,
		Period:       tx.Period,
		ReferenceID:  tx.ReferenceID,
		Reason:       tx.Reason,
		CreatedBy:    tx.CreatedBy,
		CreatedAt:    tx.CreatedAt,
	}
}

func toAccrualRunDTO(run generic.AccrualRun) AccrualRunDTO {
	return AccrualRunDTO{
		ID:           run.ID,
		OrgID:        string(run.OrgID),
		Period:       run.Period,
		Employees:    run.Employees,
		AppliedCount: run.AppliedCount,
		SkippedCount: run.SkippedCount,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
}

func toConversionDTO(r conversion.Request) ConversionDTO {
	return ConversionDTO{
		ID:                 string(r.ID),
		EmployeeID:         string(r.EmployeeID),
		Code:               string(r.Code),
		CreditsRequested:   r.CreditsRequested,
		Status:             string(r.Status),
		Stages:             r.Approval.Chain,
		Approvals:          nonNilRecords(r.Approval.Completed),
		SubmittedAt:        r.SubmittedAt,
		HRApprovedAt:       r.HRApprovedAt,
		DeptHeadApprovedAt: r.DeptHeadApprovedAt,
		AdminApprovedAt:    r.AdminApprovedAt,
		RejectedReason:     r.RejectedReason,
		RejectedAt:         r.RejectedAt,
		RejectedBy:         string(r.RejectedBy),
		RejectedStage:      string(r.RejectedStage),
		DebitApplied:       r.DebitApplied,
		Version:            r.Version,
	}
}

func toRescheduleDTO(r reschedule.Request) RescheduleDTO {
	return RescheduleDTO{
		ID:                 string(r.ID),
		EmployeeID:         string(r.EmployeeID),
		RoleAtSubmission:   string(r.RoleAtSubmission),
		OriginalLeaveID:    string(r.OriginalLeaveID),
		OriginalCode:       string(r.OriginalCode),
		OriginalStart:      r.OriginalStart,
		OriginalEnd:        r.OriginalEnd,
		OriginalTotalDays:  r.OriginalTotalDays,
		ProposedDates:      r.ProposedDates,
		Reason:             r.Reason,
		Status:             string(r.Status),
		Stages:             r.Approval.Chain,
		Approvals:          nonNilRecords(r.Approval.Completed),
		SubmittedAt:        r.SubmittedAt,
		HRApprovedAt:       r.HRApprovedAt,
		HRRemarks:          r.HRRemarks,
		DeptHeadApprovedAt: r.DeptHeadApprovedAt,
		DeptHeadRemarks:    r.DeptHeadRemarks,
		RejectedReason:     r.RejectedReason,
		RejectedAt:         r.RejectedAt,
		RejectedBy:         string(r.RejectedBy),
		RejectedStage:      string(r.RejectedStage),
		Version:            r.Version,
	}
}

func nonNilRecords(records []generic.StageRecord) []generic.StageRecord {
	if records == nil {
		return []generic.StageRecord{}
	}
	return records
}
