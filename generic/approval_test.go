package generic_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/generic"
)

var approvalNow = time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

func threeStageMachine(t *testing.T) *generic.ApprovalMachine {
	t.Helper()
	m, err := generic.MachineForChain([]generic.Stage{generic.StageHR, generic.StageDeptHead, generic.StageAdmin})
	require.NoError(t, err)
	return m
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewApprovalMachine_RejectsBadChains(t *testing.T) {
	_, err := generic.NewApprovalMachine()
	assert.Error(t, err, "empty chain")

	_, err = generic.NewApprovalMachine(
		generic.StageSpec{Stage: generic.StageHR, Requires: generic.CapApproveHR},
		generic.StageSpec{Stage: generic.StageHR, Requires: generic.CapApproveHR},
	)
	assert.Error(t, err, "duplicate stage")

	_, err = generic.MachineForChain([]generic.Stage{"finance"})
	assert.Error(t, err, "unknown stage")
}

// =============================================================================
// ADVANCE
// =============================================================================

func TestApproval_AdvanceThroughChain(t *testing.T) {
	// GIVEN: A fresh three-stage approval
	// WHEN: hr, dept_head and admin approve in order
	// THEN: Each stage is stamped and the last one accepts the request

	m := threeStageMachine(t)
	a := m.Start()

	stage, ok := a.CurrentStage()
	require.True(t, ok)
	assert.Equal(t, generic.StageHR, stage)
	assert.Equal(t, "awaiting_hr", a.Describe())

	for i, role := range []generic.Role{generic.RoleHR, generic.RoleDeptHead, generic.RoleAdmin} {
		at := approvalNow.Add(time.Duration(i) * time.Hour)
		rec, err := m.Advance(&a, role, at, " ok ")
		require.NoError(t, err)
		assert.Equal(t, at, rec.At)
		assert.Equal(t, "ok", rec.Remarks)
	}

	assert.True(t, a.IsTerminal())
	assert.Equal(t, generic.OutcomeAccepted, a.Outcome)
	require.NotNil(t, a.CompletedAt(generic.StageDeptHead))
	assert.Equal(t, approvalNow.Add(time.Hour), *a.CompletedAt(generic.StageDeptHead))
}

func TestApproval_WrongRole_Unauthorized(t *testing.T) {
	// GIVEN: A request awaiting hr
	// WHEN: The admin tries to approve
	// THEN: UnauthorizedStageError and nothing changes

	m := threeStageMachine(t)
	a := m.Start()

	_, err := m.Advance(&a, generic.RoleAdmin, approvalNow, "")

	var unauthorized *generic.UnauthorizedStageError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, generic.StageHR, unauthorized.Stage)
	assert.Equal(t, generic.RoleAdmin, unauthorized.Acting)
	assert.Empty(t, a.Completed)

	_, err = m.Advance(&a, generic.RoleEmployee, approvalNow, "")
	assert.ErrorIs(t, err, generic.ErrUnauthorizedStage)
}

func TestApproval_RepeatedClick_AlreadyAdvanced(t *testing.T) {
	// GIVEN: hr already approved
	// WHEN: hr approves again
	// THEN: InvalidStateError(already_advanced), not an authorization error

	m := threeStageMachine(t)
	a := m.Start()
	_, err := m.Advance(&a, generic.RoleHR, approvalNow, "")
	require.NoError(t, err)

	_, err = m.Advance(&a, generic.RoleHR, approvalNow, "")

	var invalid *generic.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, generic.StateAlreadyAdvanced, invalid.Reason)
	assert.Len(t, a.Completed, 1)
}

func TestApproval_TerminalIsFinal(t *testing.T) {
	m, err := generic.MachineForChain([]generic.Stage{generic.StageHR})
	require.NoError(t, err)
	a := m.Start()
	_, err = m.Advance(&a, generic.RoleHR, approvalNow, "")
	require.NoError(t, err)

	_, err = m.Advance(&a, generic.RoleHR, approvalNow, "")
	var invalid *generic.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, generic.StateTerminal, invalid.Reason)

	err = m.Reject(&a, generic.RoleHR, "too late", approvalNow)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	assert.Equal(t, generic.OutcomeAccepted, a.Outcome)
}

func TestApproval_ChainMismatch(t *testing.T) {
	m := threeStageMachine(t)
	a := generic.Approval{Chain: []generic.Stage{generic.StageHR}}

	_, err := m.Advance(&a, generic.RoleHR, approvalNow, "")

	var invalid *generic.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, generic.StateChainMismatch, invalid.Reason)
}

// =============================================================================
// REJECT
// =============================================================================

func TestApproval_Reject_RequiresRemarks(t *testing.T) {
	m := threeStageMachine(t)
	a := m.Start()

	err := m.Reject(&a, generic.RoleHR, "   ", approvalNow)

	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "empty_remarks", ve.Code)
	assert.False(t, a.IsTerminal())
}

func TestApproval_Reject_FromLaterStage(t *testing.T) {
	// GIVEN: hr and dept_head approved
	// WHEN: admin rejects
	// THEN: Rejection records the admin stage, role and remarks

	m := threeStageMachine(t)
	a := m.Start()
	_, err := m.Advance(&a, generic.RoleHR, approvalNow, "")
	require.NoError(t, err)
	_, err = m.Advance(&a, generic.RoleDeptHead, approvalNow, "")
	require.NoError(t, err)

	err = m.Reject(&a, generic.RoleAdmin, "budget frozen", approvalNow)
	require.NoError(t, err)

	assert.Equal(t, generic.OutcomeRejected, a.Outcome)
	assert.Equal(t, "rejected", a.Describe())
	require.NotNil(t, a.Rejection)
	assert.Equal(t, generic.StageAdmin, a.Rejection.Stage)
	assert.Equal(t, generic.RoleAdmin, a.Rejection.Role)
	assert.Equal(t, "budget frozen", a.Rejection.Remarks)
}

func TestApproval_CloneIsIndependent(t *testing.T) {
	m := threeStageMachine(t)
	a := m.Start()
	clone := a.Clone()

	_, err := m.Advance(&clone, generic.RoleHR, approvalNow, "")
	require.NoError(t, err)

	assert.Empty(t, a.Completed)
	assert.Len(t, clone.Completed, 1)
}

// =============================================================================
// ERROR CODES
// =============================================================================

func TestReasonCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&generic.ValidationError{Code: "empty_remarks"}, "empty_remarks"},
		{&generic.EligibilityError{Reason: generic.ReasonAnnualCapExceeded}, "annual_cap_exceeded"},
		{&generic.UnauthorizedStageError{Stage: generic.StageHR}, "unauthorized_stage"},
		{&generic.InvalidStateError{Reason: generic.StateTerminal}, "invalid_state.terminal"},
		{&generic.InsufficientBalanceError{Requested: decimal.NewFromInt(3)}, "insufficient_balance"},
		{
			&generic.ConcurrentBalanceChangeError{Cause: &generic.InsufficientBalanceError{}},
			"concurrent_balance_change",
		},
		{fmt.Errorf("save: %w", generic.ErrConcurrentModification), "concurrent_modification"},
		{generic.ErrRequestNotFound, "request_not_found"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, generic.ReasonCode(tc.err), "%v", tc.err)
	}
}

func TestConcurrentBalanceChangeError_UnwrapsBoth(t *testing.T) {
	cause := &generic.InsufficientBalanceError{Available: decimal.NewFromInt(2)}
	err := error(&generic.ConcurrentBalanceChangeError{RequestID: "r1", Cause: cause})

	assert.ErrorIs(t, err, generic.ErrConcurrentBalanceChange)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.True(t, ibe.Available.Equal(decimal.NewFromInt(2)))
}
