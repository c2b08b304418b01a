package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/reschedule"
)

// =============================================================================
// CONVERSION REQUESTS
// =============================================================================

const conversionColumns = `id, employee_id, code, credits_requested::text, status, approval,
	submitted_at, hr_approved_at, dept_head_approved_at, admin_approved_at,
	rejected_reason, rejected_at, rejected_by, rejected_stage, debit_applied, version, updated_at`

func (s *Store) CreateConversion(ctx context.Context, r conversion.Request) (conversion.Request, error) {
	approval, err := json.Marshal(r.Approval)
	if err != nil {
		return conversion.Request{}, fmt.Errorf("encode approval: %w", err)
	}

	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO conversion_requests (id, employee_id, code, credits_requested, status, approval,
			submitted_at, hr_approved_at, dept_head_approved_at, admin_approved_at,
			rejected_reason, rejected_at, rejected_by, rejected_stage, debit_applied, version, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16)`,
		string(r.ID), string(r.EmployeeID), string(r.Code), r.CreditsRequested.String(), string(r.Status), approval,
		r.SubmittedAt, r.HRApprovedAt, r.DeptHeadApprovedAt, r.AdminApprovedAt,
		nullable(r.RejectedReason), r.RejectedAt, nullable(string(r.RejectedBy)), nullable(string(r.RejectedStage)),
		r.DebitApplied, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return conversion.Request{}, generic.ErrConcurrentModification
	}
	if err != nil {
		return conversion.Request{}, err
	}
	r.Version = 1
	return r, nil
}

func (s *Store) GetConversion(ctx context.Context, id generic.RequestID) (conversion.Request, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT `+conversionColumns+` FROM conversion_requests WHERE id = $1`, string(id))
	r, err := scanConversion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversion.Request{}, generic.ErrRequestNotFound
	}
	return r, err
}

func (s *Store) UpdateConversion(ctx context.Context, r conversion.Request) (conversion.Request, error) {
	approval, err := json.Marshal(r.Approval)
	if err != nil {
		return conversion.Request{}, fmt.Errorf("encode approval: %w", err)
	}

	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE conversion_requests SET
			status = $1, approval = $2,
			hr_approved_at = $3, dept_head_approved_at = $4, admin_approved_at = $5,
			rejected_reason = $6, rejected_at = $7, rejected_by = $8, rejected_stage = $9,
			debit_applied = $10, version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		string(r.Status), approval,
		r.HRApprovedAt, r.DeptHeadApprovedAt, r.AdminApprovedAt,
		nullable(r.RejectedReason), r.RejectedAt, nullable(string(r.RejectedBy)), nullable(string(r.RejectedStage)),
		r.DebitApplied, r.UpdatedAt,
		string(r.ID), r.Version,
	)
	if err := checkVersioned(tag, err); err != nil {
		return conversion.Request{}, err
	}
	r.Version++
	return r, nil
}

func (s *Store) ListConversionsByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]conversion.Request, error) {
	return s.queryConversions(ctx, `SELECT `+conversionColumns+` FROM conversion_requests
		WHERE employee_id = $1 ORDER BY submitted_at DESC`, string(employeeID))
}

func (s *Store) ListConversionsByStatus(ctx context.Context, status conversion.Status) ([]conversion.Request, error) {
	return s.queryConversions(ctx, `SELECT `+conversionColumns+` FROM conversion_requests
		WHERE status = $1 ORDER BY submitted_at`, string(status))
}

func (s *Store) queryConversions(ctx context.Context, query string, args ...any) ([]conversion.Request, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []conversion.Request{}
	for rows.Next() {
		r, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanConversion(row pgx.Row) (conversion.Request, error) {
	var (
		r                                         conversion.Request
		id, emp, code, credits, status            string
		approval                                  []byte
		rejectedReason, rejectedBy, rejectedStage *string
	)
	err := row.Scan(&id, &emp, &code, &credits, &status, &approval,
		&r.SubmittedAt, &r.HRApprovedAt, &r.DeptHeadApprovedAt, &r.AdminApprovedAt,
		&rejectedReason, &r.RejectedAt, &rejectedBy, &rejectedStage, &r.DebitApplied, &r.Version, &r.UpdatedAt)
	if err != nil {
		return conversion.Request{}, err
	}
	if err := json.Unmarshal(approval, &r.Approval); err != nil {
		return conversion.Request{}, fmt.Errorf("decode approval for %s: %w", id, err)
	}
	r.ID = generic.RequestID(id)
	r.EmployeeID = generic.EmployeeID(emp)
	r.Code = generic.LeaveCode(code)
	if r.CreditsRequested, err = decimal.NewFromString(credits); err != nil {
		return conversion.Request{}, fmt.Errorf("decode conversion %s: column credits_requested: %w", id, err)
	}
	r.Status = conversion.Status(status)
	r.RejectedReason = deref(rejectedReason)
	r.RejectedBy = generic.Role(deref(rejectedBy))
	r.RejectedStage = generic.Stage(deref(rejectedStage))
	return r, nil
}

// =============================================================================
// RESCHEDULE REQUESTS
// =============================================================================

const rescheduleColumns = `id, employee_id, role_at_submission, original_leave_id, original_code,
	original_start, original_end, original_total_days, proposed_dates, reason, status, approval,
	submitted_at, hr_approved_at, hr_remarks, dept_head_approved_at, dept_head_remarks,
	rejected_reason, rejected_at, rejected_by, rejected_stage, version, updated_at`

func (s *Store) CreateReschedule(ctx context.Context, r reschedule.Request) (reschedule.Request, error) {
	dates, err := json.Marshal(r.ProposedDates)
	if err != nil {
		return reschedule.Request{}, fmt.Errorf("encode proposed dates: %w", err)
	}
	approval, err := json.Marshal(r.Approval)
	if err != nil {
		return reschedule.Request{}, fmt.Errorf("encode approval: %w", err)
	}

	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO reschedule_requests (`+rescheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, 1, $22)`,
		string(r.ID), string(r.EmployeeID), string(r.RoleAtSubmission), string(r.OriginalLeaveID), string(r.OriginalCode),
		r.OriginalStart.Time, r.OriginalEnd.Time, r.OriginalTotalDays, dates, r.Reason, string(r.Status), approval,
		r.SubmittedAt, r.HRApprovedAt, nullable(r.HRRemarks), r.DeptHeadApprovedAt, nullable(r.DeptHeadRemarks),
		nullable(r.RejectedReason), r.RejectedAt, nullable(string(r.RejectedBy)), nullable(string(r.RejectedStage)),
		r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return reschedule.Request{}, generic.ErrConcurrentModification
	}
	if err != nil {
		return reschedule.Request{}, err
	}
	r.Version = 1
	return r, nil
}

func (s *Store) GetReschedule(ctx context.Context, id generic.RequestID) (reschedule.Request, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests WHERE id = $1`, string(id))
	r, err := scanReschedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return reschedule.Request{}, generic.ErrRequestNotFound
	}
	return r, err
}

func (s *Store) UpdateReschedule(ctx context.Context, r reschedule.Request) (reschedule.Request, error) {
	approval, err := json.Marshal(r.Approval)
	if err != nil {
		return reschedule.Request{}, fmt.Errorf("encode approval: %w", err)
	}

	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE reschedule_requests SET
			status = $1, approval = $2,
			hr_approved_at = $3, hr_remarks = $4, dept_head_approved_at = $5, dept_head_remarks = $6,
			rejected_reason = $7, rejected_at = $8, rejected_by = $9, rejected_stage = $10,
			version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		string(r.Status), approval,
		r.HRApprovedAt, nullable(r.HRRemarks), r.DeptHeadApprovedAt, nullable(r.DeptHeadRemarks),
		nullable(r.RejectedReason), r.RejectedAt, nullable(string(r.RejectedBy)), nullable(string(r.RejectedStage)),
		r.UpdatedAt,
		string(r.ID), r.Version,
	)
	if err := checkVersioned(tag, err); err != nil {
		return reschedule.Request{}, err
	}
	r.Version++
	return r, nil
}

func (s *Store) ListReschedulesByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]reschedule.Request, error) {
	return s.queryReschedules(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests
		WHERE employee_id = $1 ORDER BY submitted_at DESC`, string(employeeID))
}

func (s *Store) ListReschedulesByStatus(ctx context.Context, status reschedule.Status) ([]reschedule.Request, error) {
	return s.queryReschedules(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests
		WHERE status = $1 ORDER BY submitted_at`, string(status))
}

func (s *Store) ListReschedulesByLeave(ctx context.Context, leaveID generic.RequestID) ([]reschedule.Request, error) {
	return s.queryReschedules(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests
		WHERE original_leave_id = $1 ORDER BY submitted_at`, string(leaveID))
}

func (s *Store) queryReschedules(ctx context.Context, query string, args ...any) ([]reschedule.Request, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []reschedule.Request{}
	for rows.Next() {
		r, err := scanReschedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanReschedule(row pgx.Row) (reschedule.Request, error) {
	var (
		r                                         reschedule.Request
		id, emp, role, leaveID, code, status      string
		start, end                                time.Time
		dates, approval                           []byte
		hrRemarks, deptRemarks                    *string
		rejectedReason, rejectedBy, rejectedStage *string
	)
	err := row.Scan(&id, &emp, &role, &leaveID, &code,
		&start, &end, &r.OriginalTotalDays, &dates, &r.Reason, &status, &approval,
		&r.SubmittedAt, &r.HRApprovedAt, &hrRemarks, &r.DeptHeadApprovedAt, &deptRemarks,
		&rejectedReason, &r.RejectedAt, &rejectedBy, &rejectedStage, &r.Version, &r.UpdatedAt)
	if err != nil {
		return reschedule.Request{}, err
	}
	if err := json.Unmarshal(dates, &r.ProposedDates); err != nil {
		return reschedule.Request{}, fmt.Errorf("decode proposed dates for %s: %w", id, err)
	}
	if err := json.Unmarshal(approval, &r.Approval); err != nil {
		return reschedule.Request{}, fmt.Errorf("decode approval for %s: %w", id, err)
	}
	r.ID = generic.RequestID(id)
	r.EmployeeID = generic.EmployeeID(emp)
	r.RoleAtSubmission = generic.Role(role)
	r.OriginalLeaveID = generic.RequestID(leaveID)
	r.OriginalCode = generic.LeaveCode(code)
	r.OriginalStart = generic.DateOf(start)
	r.OriginalEnd = generic.DateOf(end)
	r.Status = reschedule.Status(status)
	r.HRRemarks = deref(hrRemarks)
	r.DeptHeadRemarks = deref(deptRemarks)
	r.RejectedReason = deref(rejectedReason)
	r.RejectedBy = generic.Role(deref(rejectedBy))
	r.RejectedStage = generic.Stage(deref(rejectedStage))
	return r, nil
}
