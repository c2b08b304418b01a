package reschedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/reschedule"
	"github.com/warp/leave-credits/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	now       = time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	leaveFrom = generic.NewDate(2025, time.June, 2)
)

func newTestWorkflow(t *testing.T) (*reschedule.Workflow, *memory.Store, *generic.FixedClock) {
	t.Helper()
	store := memory.New()
	clock := generic.NewFixedClock(now)
	ctx := context.Background()

	for _, emp := range []generic.Employee{
		{ID: "emp", OrgID: "acme", Role: generic.RoleEmployee, Active: true},
		{ID: "hr", OrgID: "acme", Role: generic.RoleHR, Active: true},
		{ID: "head", OrgID: "acme", Role: generic.RoleDeptHead, Active: true},
		{ID: "admin", OrgID: "acme", Role: generic.RoleAdmin, Active: true},
	} {
		require.NoError(t, store.SaveEmployee(ctx, emp))
		require.NoError(t, store.SaveLeaveRequest(ctx, generic.LeaveRequest{
			ID:         generic.RequestID("leave-" + string(emp.ID)),
			EmployeeID: emp.ID,
			Code:       generic.LeaveVL,
			StartDate:  leaveFrom,
			EndDate:    leaveFrom.AddDays(2),
			TotalDays:  3,
			Status:     generic.LeaveApproved,
			CreatedAt:  now,
		}))
	}
	require.NoError(t, store.SaveLeaveRequest(ctx, generic.LeaveRequest{
		ID: "leave-pending", EmployeeID: "emp", Code: generic.LeaveSL,
		StartDate: leaveFrom, EndDate: leaveFrom, TotalDays: 1, Status: generic.LeavePending,
	}))

	return reschedule.NewWorkflow(store, store, store, clock), store, clock
}

func proposed(days ...int) []generic.Date {
	out := make([]generic.Date, len(days))
	for i, d := range days {
		out[i] = generic.NewDate(2025, time.July, d)
	}
	return out
}

func submitFor(t *testing.T, w *reschedule.Workflow, emp generic.EmployeeID) reschedule.Request {
	t.Helper()
	req, err := w.Submit(context.Background(), reschedule.SubmitInput{
		EmployeeID:      emp,
		OriginalLeaveID: generic.RequestID("leave-" + string(emp)),
		ProposedDates:   proposed(9, 7, 8),
		Reason:          "family event moved",
	})
	require.NoError(t, err)
	return req
}

func requireValidationCode(t *testing.T, err error, code string) {
	t.Helper()
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, code, ve.Code)
}

// =============================================================================
// CHAIN SELECTION
// =============================================================================

func TestChainFor(t *testing.T) {
	twoStage := []generic.Stage{generic.StageHR, generic.StageDeptHead}
	oneStage := []generic.Stage{generic.StageHR}

	for role, want := range map[generic.Role][]generic.Stage{
		generic.RoleEmployee: twoStage,
		generic.RoleHR:       twoStage,
		generic.RoleDeptHead: oneStage,
		generic.RoleAdmin:    oneStage,
	} {
		got, err := reschedule.ChainFor(role)
		require.NoError(t, err)
		assert.Equal(t, want, got, "role %s", role)
	}

	_, err := reschedule.ChainFor("contractor")
	assert.Error(t, err)
}

func TestReschedule_EmployeePassesHRThenDeptHead(t *testing.T) {
	// GIVEN: An employee-role reschedule
	// WHEN: HR approves, then the dept head approves
	// THEN: pending_hr → pending_dept_head → approved

	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()

	req := submitFor(t, w, "emp")
	assert.Equal(t, reschedule.StatusPendingHR, req.Status)
	assert.Equal(t, generic.RoleEmployee, req.RoleAtSubmission)
	assert.Equal(t, proposed(7, 8, 9), req.ProposedDates, "dates are sorted")
	assert.Equal(t, 3, req.OriginalTotalDays)

	req, err := w.ApproveStage(ctx, req.ID, generic.RoleHR, "fine by HR")
	require.NoError(t, err)
	assert.Equal(t, reschedule.StatusPendingDeptHead, req.Status)
	assert.Equal(t, "fine by HR", req.HRRemarks)

	req, err = w.ApproveStage(ctx, req.ID, generic.RoleDeptHead, "")
	require.NoError(t, err)
	assert.Equal(t, reschedule.StatusApproved, req.Status)
	assert.NotNil(t, req.DeptHeadApprovedAt)
}

func TestReschedule_DeptHeadApprovedAfterHROnly(t *testing.T) {
	w, _, _ := newTestWorkflow(t)

	req := submitFor(t, w, "head")
	assert.Equal(t, []generic.Stage{generic.StageHR}, req.Approval.Chain)

	req, err := w.ApproveStage(context.Background(), req.ID, generic.RoleHR, "")
	require.NoError(t, err)
	assert.Equal(t, reschedule.StatusApproved, req.Status)
	assert.Nil(t, req.DeptHeadApprovedAt)
}

func TestReschedule_ChainFrozenAtSubmission(t *testing.T) {
	// GIVEN: An employee-role request at pending_hr
	// WHEN: The employee is promoted to dept_head before HR acts
	// THEN: The request still needs both stages

	w, store, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := submitFor(t, w, "emp")

	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp", OrgID: "acme", Role: generic.RoleDeptHead, Active: true}))

	req, err := w.ApproveStage(ctx, req.ID, generic.RoleHR, "")
	require.NoError(t, err)
	assert.Equal(t, reschedule.StatusPendingDeptHead, req.Status)
}

// =============================================================================
// SUBMISSION VALIDATION
// =============================================================================

func TestReschedule_Submit_DayCountMismatch(t *testing.T) {
	w, store, _ := newTestWorkflow(t)
	ctx := context.Background()
	require.NoError(t, store.SaveLeaveRequest(ctx, generic.LeaveRequest{
		ID: "leave-five", EmployeeID: "emp", Code: generic.LeaveVL,
		StartDate: leaveFrom, EndDate: leaveFrom.AddDays(4), TotalDays: 5, Status: generic.LeaveApproved,
	}))

	_, err := w.Submit(ctx, reschedule.SubmitInput{
		EmployeeID:      "emp",
		OriginalLeaveID: "leave-five",
		ProposedDates:   proposed(7, 8, 9),
		Reason:          "moving",
	})
	requireValidationCode(t, err, "day_count_mismatch")

	requests, err := w.ListByEmployee(ctx, "emp")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestReschedule_Submit_Rejections(t *testing.T) {
	cases := []struct {
		name string
		in   reschedule.SubmitInput
		code string
	}{
		{
			name: "duplicate dates",
			in:   reschedule.SubmitInput{EmployeeID: "emp", OriginalLeaveID: "leave-emp", ProposedDates: proposed(7, 7, 8), Reason: "x"},
			code: "duplicate_dates",
		},
		{
			name: "empty reason",
			in:   reschedule.SubmitInput{EmployeeID: "emp", OriginalLeaveID: "leave-emp", ProposedDates: proposed(7, 8, 9), Reason: "  "},
			code: "empty_reason",
		},
		{
			name: "zero date",
			in:   reschedule.SubmitInput{EmployeeID: "emp", OriginalLeaveID: "leave-emp", ProposedDates: []generic.Date{{}, {}, {}}, Reason: "x"},
			code: "invalid_date",
		},
		{
			name: "not owned",
			in:   reschedule.SubmitInput{EmployeeID: "emp", OriginalLeaveID: "leave-head", ProposedDates: proposed(7, 8, 9), Reason: "x"},
			code: "leave_not_owned",
		},
		{
			name: "not approved",
			in:   reschedule.SubmitInput{EmployeeID: "emp", OriginalLeaveID: "leave-pending", ProposedDates: proposed(7), Reason: "x"},
			code: "leave_not_approved",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _, _ := newTestWorkflow(t)
			_, err := w.Submit(context.Background(), tc.in)
			requireValidationCode(t, err, tc.code)
		})
	}
}

func TestReschedule_Submit_UnknownLeave(t *testing.T) {
	w, _, _ := newTestWorkflow(t)

	_, err := w.Submit(context.Background(), reschedule.SubmitInput{
		EmployeeID: "emp", OriginalLeaveID: "nope", ProposedDates: proposed(7), Reason: "x",
	})
	assert.ErrorIs(t, err, generic.ErrLeaveRequestNotFound)
}

func TestReschedule_Submit_InactiveEmployee(t *testing.T) {
	// GIVEN: An employee with approved leave who has since left
	// WHEN: They submit a reschedule for that leave
	// THEN: Submission is refused and nothing is filed

	w, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp", OrgID: "acme", Role: generic.RoleEmployee, Active: false}))

	_, err := w.Submit(ctx, reschedule.SubmitInput{
		EmployeeID: "emp", OriginalLeaveID: "leave-emp", ProposedDates: proposed(7, 8, 9), Reason: "moved",
	})
	requireValidationCode(t, err, "inactive_employee")

	list, err := w.ListByEmployee(ctx, "emp")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReschedule_Submit_OnePendingPerLeave(t *testing.T) {
	// GIVEN: A pending reschedule for a leave
	// WHEN: Another one is submitted for the same leave
	// THEN: reschedule_pending; once the first is rejected a new one is accepted

	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	first := submitFor(t, w, "emp")

	_, err := w.Submit(ctx, reschedule.SubmitInput{
		EmployeeID: "emp", OriginalLeaveID: "leave-emp", ProposedDates: proposed(14, 15, 16), Reason: "again",
	})
	requireValidationCode(t, err, "reschedule_pending")

	_, err = w.Reject(ctx, first.ID, generic.RoleHR, "pick other dates")
	require.NoError(t, err)

	second := submitFor(t, w, "emp")
	assert.Equal(t, reschedule.StatusPendingHR, second.Status)
}

// =============================================================================
// APPROVAL ERRORS
// =============================================================================

func TestReschedule_RejectAfterHR(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := submitFor(t, w, "emp")

	_, err := w.ApproveStage(ctx, req.ID, generic.RoleHR, "")
	require.NoError(t, err)

	_, err = w.Reject(ctx, req.ID, generic.RoleDeptHead, "")
	assert.ErrorIs(t, err, generic.ErrValidation, "remarks required")

	req, err = w.Reject(ctx, req.ID, generic.RoleDeptHead, "team offsite that week")
	require.NoError(t, err)
	assert.Equal(t, reschedule.StatusRejected, req.Status)
	assert.Equal(t, generic.StageDeptHead, req.RejectedStage)
	assert.Equal(t, generic.RoleDeptHead, req.RejectedBy)
	assert.NotNil(t, req.RejectedAt)

	_, err = w.ApproveStage(ctx, req.ID, generic.RoleDeptHead, "")
	var invalid *generic.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, generic.StateTerminal, invalid.Reason)
	assert.Equal(t, string(reschedule.StatusRejected), invalid.Status)
}

func TestReschedule_WrongStageRole(t *testing.T) {
	w, _, _ := newTestWorkflow(t)
	ctx := context.Background()
	req := submitFor(t, w, "emp")

	_, err := w.ApproveStage(ctx, req.ID, generic.RoleDeptHead, "")
	assert.ErrorIs(t, err, generic.ErrUnauthorizedStage)

	_, err = w.ApproveStage(ctx, req.ID, generic.RoleHR, "")
	require.NoError(t, err)

	_, err = w.ApproveStage(ctx, req.ID, generic.RoleHR, "")
	var invalid *generic.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, generic.StateAlreadyAdvanced, invalid.Reason)
}

func TestReschedule_ListByStatus(t *testing.T) {
	w, _, clock := newTestWorkflow(t)
	ctx := context.Background()

	a := submitFor(t, w, "emp")
	clock.Advance(time.Minute)
	b := submitFor(t, w, "hr")
	clock.Advance(time.Minute)
	c := submitFor(t, w, "admin")

	_, err := w.ApproveStage(ctx, c.ID, generic.RoleHR, "")
	require.NoError(t, err)

	pending, err := w.ListByStatus(ctx, reschedule.StatusPendingHR)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID, "oldest first")
	assert.Equal(t, b.ID, pending[1].ID)

	approved, err := w.ListByStatus(ctx, reschedule.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, c.ID, approved[0].ID)
}
