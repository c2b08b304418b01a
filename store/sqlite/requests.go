package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/reschedule"
)

// =============================================================================
// CONVERSION REQUESTS
// =============================================================================

const conversionColumns = `id, employee_id, code, credits_requested, status, approval_json,
	submitted_at, hr_approved_at, dept_head_approved_at, admin_approved_at,
	rejected_reason, rejected_at, rejected_by, rejected_stage, debit_applied, version, updated_at`

func (s *Store) CreateConversion(ctx context.Context, r conversion.Request) (conversion.Request, error) {
	defer s.lock(ctx)()

	approval, err := json.Marshal(r.Approval)
	if err != nil {
		return conversion.Request{}, fmt.Errorf("encode approval: %w", err)
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO conversion_requests (`+conversionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		string(r.ID), string(r.EmployeeID), string(r.Code), r.CreditsRequested.String(), string(r.Status), string(approval),
		formatTime(r.SubmittedAt), nullTime(r.HRApprovedAt), nullTime(r.DeptHeadApprovedAt), nullTime(r.AdminApprovedAt),
		nullString(r.RejectedReason), nullTime(r.RejectedAt), nullString(string(r.RejectedBy)), nullString(string(r.RejectedStage)),
		r.DebitApplied, formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return conversion.Request{}, generic.ErrConcurrentModification
	}
	if err != nil {
		return conversion.Request{}, err
	}
	r.Version = 1
	return r, nil
}

func (s *Store) GetConversion(ctx context.Context, id generic.RequestID) (conversion.Request, error) {
	defer s.rlock(ctx)()

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+conversionColumns+` FROM conversion_requests WHERE id = ?`, string(id))
	r, err := scanConversion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return conversion.Request{}, generic.ErrRequestNotFound
	}
	return r, err
}

func (s *Store) UpdateConversion(ctx context.Context, r conversion.Request) (conversion.Request, error) {
	defer s.lock(ctx)()

	approval, err := json.Marshal(r.Approval)
	if err != nil {
		return conversion.Request{}, fmt.Errorf("encode approval: %w", err)
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE conversion_requests SET
			status = ?, approval_json = ?,
			hr_approved_at = ?, dept_head_approved_at = ?, admin_approved_at = ?,
			rejected_reason = ?, rejected_at = ?, rejected_by = ?, rejected_stage = ?,
			debit_applied = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(r.Status), string(approval),
		nullTime(r.HRApprovedAt), nullTime(r.DeptHeadApprovedAt), nullTime(r.AdminApprovedAt),
		nullString(r.RejectedReason), nullTime(r.RejectedAt), nullString(string(r.RejectedBy)), nullString(string(r.RejectedStage)),
		r.DebitApplied, formatTime(r.UpdatedAt),
		string(r.ID), r.Version,
	)
	if err := checkVersioned(res, err); err != nil {
		return conversion.Request{}, err
	}
	r.Version++
	return r, nil
}

func (s *Store) ListConversionsByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]conversion.Request, error) {
	return s.queryConversions(ctx, `SELECT `+conversionColumns+` FROM conversion_requests
		WHERE employee_id = ? ORDER BY submitted_at DESC`, string(employeeID))
}

func (s *Store) ListConversionsByStatus(ctx context.Context, status conversion.Status) ([]conversion.Request, error) {
	return s.queryConversions(ctx, `SELECT `+conversionColumns+` FROM conversion_requests
		WHERE status = ? ORDER BY submitted_at`, string(status))
}

func (s *Store) queryConversions(ctx context.Context, query string, args ...any) ([]conversion.Request, error) {
	defer s.rlock(ctx)()

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
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

func scanConversion(row rowScanner) (conversion.Request, error) {
	var (
		r                                         conversion.Request
		id, emp, code, credits, status, approval  string
		submittedAt, updatedAt                    string
		hrAt, deptAt, adminAt, rejectedAt         sql.NullString
		rejectedReason, rejectedBy, rejectedStage sql.NullString
	)
	err := row.Scan(&id, &emp, &code, &credits, &status, &approval,
		&submittedAt, &hrAt, &deptAt, &adminAt,
		&rejectedReason, &rejectedAt, &rejectedBy, &rejectedStage, &r.DebitApplied, &r.Version, &updatedAt)
	if err != nil {
		return conversion.Request{}, err
	}
	if err := json.Unmarshal([]byte(approval), &r.Approval); err != nil {
		return conversion.Request{}, fmt.Errorf("decode approval for %s: %w", id, err)
	}
	r.ID = generic.RequestID(id)
	r.EmployeeID = generic.EmployeeID(emp)
	r.Code = generic.LeaveCode(code)
	var d rowDecoder
	r.CreditsRequested = d.decimal("credits_requested", credits)
	r.Status = conversion.Status(status)
	r.SubmittedAt = d.timestamp("submitted_at", submittedAt)
	r.HRApprovedAt = d.optionalTimestamp("hr_approved_at", hrAt)
	r.DeptHeadApprovedAt = d.optionalTimestamp("dept_head_approved_at", deptAt)
	r.AdminApprovedAt = d.optionalTimestamp("admin_approved_at", adminAt)
	r.RejectedReason = rejectedReason.String
	r.RejectedAt = d.optionalTimestamp("rejected_at", rejectedAt)
	r.RejectedBy = generic.Role(rejectedBy.String)
	r.RejectedStage = generic.Stage(rejectedStage.String)
	r.UpdatedAt = d.timestamp("updated_at", updatedAt)
	if d.err != nil {
		return conversion.Request{}, fmt.Errorf("decode conversion %s: %w", id, d.err)
	}
	return r, nil
}

// =============================================================================
// RESCHEDULE REQUESTS
// =============================================================================

const rescheduleColumns = `id, employee_id, role_at_submission, original_leave_id, original_code,
	original_start, original_end, original_total_days, proposed_dates_json, reason, status, approval_json,
	submitted_at, hr_approved_at, hr_remarks, dept_head_approved_at, dept_head_remarks,
	rejected_reason, rejected_at, rejected_by, rejected_stage, version, updated_at`

func (s *Store) CreateReschedule(ctx context.Context, r reschedule.Request) (reschedule.Request, error) {
	defer s.lock(ctx)()

	dates, approval, err := encodeReschedule(r)
	if err != nil {
		return reschedule.Request{}, err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO reschedule_requests (`+rescheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		string(r.ID), string(r.EmployeeID), string(r.RoleAtSubmission), string(r.OriginalLeaveID), string(r.OriginalCode),
		r.OriginalStart.String(), r.OriginalEnd.String(), r.OriginalTotalDays, dates, r.Reason, string(r.Status), approval,
		formatTime(r.SubmittedAt), nullTime(r.HRApprovedAt), nullString(r.HRRemarks), nullTime(r.DeptHeadApprovedAt), nullString(r.DeptHeadRemarks),
		nullString(r.RejectedReason), nullTime(r.RejectedAt), nullString(string(r.RejectedBy)), nullString(string(r.RejectedStage)),
		formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return reschedule.Request{}, generic.ErrConcurrentModification
	}
	if err != nil {
		return reschedule.Request{}, err
	}
	r.Version = 1
	return r, nil
}

func (s *Store) GetReschedule(ctx context.Context, id generic.RequestID) (reschedule.Request, error) {
	defer s.rlock(ctx)()

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests WHERE id = ?`, string(id))
	r, err := scanReschedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reschedule.Request{}, generic.ErrRequestNotFound
	}
	return r, err
}

func (s *Store) UpdateReschedule(ctx context.Context, r reschedule.Request) (reschedule.Request, error) {
	defer s.lock(ctx)()

	_, approval, err := encodeReschedule(r)
	if err != nil {
		return reschedule.Request{}, err
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE reschedule_requests SET
			status = ?, approval_json = ?,
			hr_approved_at = ?, hr_remarks = ?, dept_head_approved_at = ?, dept_head_remarks = ?,
			rejected_reason = ?, rejected_at = ?, rejected_by = ?, rejected_stage = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(r.Status), approval,
		nullTime(r.HRApprovedAt), nullString(r.HRRemarks), nullTime(r.DeptHeadApprovedAt), nullString(r.DeptHeadRemarks),
		nullString(r.RejectedReason), nullTime(r.RejectedAt), nullString(string(r.RejectedBy)), nullString(string(r.RejectedStage)),
		formatTime(r.UpdatedAt),
		string(r.ID), r.Version,
	)
	if err := checkVersioned(res, err); err != nil {
		return reschedule.Request{}, err
	}
	r.Version++
	return r, nil
}

func (s *Store) ListReschedulesByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]reschedule.Request, error) {
	return s.queryReschedules(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests
		WHERE employee_id = ? ORDER BY submitted_at DESC`, string(employeeID))
}

func (s *Store) ListReschedulesByStatus(ctx context.Context, status reschedule.Status) ([]reschedule.Request, error) {
	return s.queryReschedules(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests
		WHERE status = ? ORDER BY submitted_at`, string(status))
}

func (s *Store) ListReschedulesByLeave(ctx context.Context, leaveID generic.RequestID) ([]reschedule.Request, error) {
	return s.queryReschedules(ctx, `SELECT `+rescheduleColumns+` FROM reschedule_requests
		WHERE original_leave_id = ? ORDER BY submitted_at`, string(leaveID))
}

func (s *Store) queryReschedules(ctx context.Context, query string, args ...any) ([]reschedule.Request, error) {
	defer s.rlock(ctx)()

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
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

func encodeReschedule(r reschedule.Request) (dates, approval string, err error) {
	d, err := json.Marshal(r.ProposedDates)
	if err != nil {
		return "", "", fmt.Errorf("encode proposed dates: %w", err)
	}
	a, err := json.Marshal(r.Approval)
	if err != nil {
		return "", "", fmt.Errorf("encode approval: %w", err)
	}
	return string(d), string(a), nil
}

func scanReschedule(row rowScanner) (reschedule.Request, error) {
	var (
		r                                         reschedule.Request
		id, emp, role, leaveID, code, start, end  string
		dates, status, approval                   string
		submittedAt, updatedAt                    string
		hrAt, deptAt, rejectedAt                  sql.NullString
		hrRemarks, deptRemarks                    sql.NullString
		rejectedReason, rejectedBy, rejectedStage sql.NullString
	)
	err := row.Scan(&id, &emp, &role, &leaveID, &code,
		&start, &end, &r.OriginalTotalDays, &dates, &r.Reason, &status, &approval,
		&submittedAt, &hrAt, &hrRemarks, &deptAt, &deptRemarks,
		&rejectedReason, &rejectedAt, &rejectedBy, &rejectedStage, &r.Version, &updatedAt)
	if err != nil {
		return reschedule.Request{}, err
	}
	if err := json.Unmarshal([]byte(dates), &r.ProposedDates); err != nil {
		return reschedule.Request{}, fmt.Errorf("decode proposed dates for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(approval), &r.Approval); err != nil {
		return reschedule.Request{}, fmt.Errorf("decode approval for %s: %w", id, err)
	}
	r.ID = generic.RequestID(id)
	r.EmployeeID = generic.EmployeeID(emp)
	r.RoleAtSubmission = generic.Role(role)
	r.OriginalLeaveID = generic.RequestID(leaveID)
	r.OriginalCode = generic.LeaveCode(code)
	var d rowDecoder
	r.OriginalStart = d.date("original_start", start)
	r.OriginalEnd = d.date("original_end", end)
	r.Status = reschedule.Status(status)
	r.SubmittedAt = d.timestamp("submitted_at", submittedAt)
	r.HRApprovedAt = d.optionalTimestamp("hr_approved_at", hrAt)
	r.HRRemarks = hrRemarks.String
	r.DeptHeadApprovedAt = d.optionalTimestamp("dept_head_approved_at", deptAt)
	r.DeptHeadRemarks = deptRemarks.String
	r.RejectedReason = rejectedReason.String
	r.RejectedAt = d.optionalTimestamp("rejected_at", rejectedAt)
	r.RejectedBy = generic.Role(rejectedBy.String)
	r.RejectedStage = generic.Stage(rejectedStage.String)
	r.UpdatedAt = d.timestamp("updated_at", updatedAt)
	if d.err != nil {
		return reschedule.Request{}, fmt.Errorf("decode reschedule %s: %w", id, d.err)
	}
	return r, nil
}

// =============================================================================
// TIME ENCODING
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime uses a fixed-width layout so text ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
