package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
)

// These tests drive the ledger and the conversion workflow against SQLite
// so the transaction boundaries are real database transactions.

func newSQLiteLedger(t *testing.T) (*generic.CreditLedger, *conversion.Workflow) {
	t.Helper()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp-1", OrgID: "acme", Role: generic.RoleEmployee, Active: true}))
	require.NoError(t, store.SaveEmployee(ctx, generic.Employee{ID: "emp-2", OrgID: "acme", Role: generic.RoleEmployee, Active: true}))

	ledger := generic.NewCreditLedger(store, store, store)
	ledger.Runs = store
	ledger.Clock = generic.NewFixedClock(testNow)

	return ledger, conversion.NewWorkflow(store, ledger, store, store)
}

func TestSQLite_AccrualIdempotent(t *testing.T) {
	ledger, _ := newSQLiteLedger(t)
	ctx := context.Background()
	june := generic.NewPeriod(2025, time.June)

	first, err := ledger.AccrueMonthly(ctx, "acme", june)
	require.NoError(t, err)
	assert.Equal(t, 4, first.AppliedCount)

	second, err := ledger.AccrueMonthly(ctx, "acme", june)
	require.NoError(t, err)
	assert.Equal(t, 0, second.AppliedCount)
	assert.True(t, second.AlreadyCredited())

	balance, err := ledger.GetBalance(ctx, "emp-2", generic.LeaveSL)
	require.NoError(t, err)
	assert.True(t, balance.Equal(generic.Days("1.25")))

	runs, err := ledger.ListAccrualRuns(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLite_ConversionDebitAndRollback(t *testing.T) {
	// GIVEN: Two conversions at dept_head_approved... only one fits the balance
	// WHEN: Admin approves the second after the balance dropped
	// THEN: The debit and the approval both roll back

	ledger, workflow := newSQLiteLedger(t)
	ctx := context.Background()

	_, err := ledger.Override(ctx, "emp-1", generic.LeaveVL, generic.Days("12"), nil, "hr")
	require.NoError(t, err)

	req, err := workflow.Submit(ctx, conversion.SubmitInput{EmployeeID: "emp-1", Credits: generic.Days("10")})
	require.NoError(t, err)
	for _, role := range []generic.Role{generic.RoleHR, generic.RoleDeptHead} {
		_, err = workflow.ApproveStage(ctx, req.ID, role, "")
		require.NoError(t, err)
	}

	_, err = ledger.Override(ctx, "emp-1", generic.LeaveVL, generic.Days("9.75"), nil, "hr")
	require.NoError(t, err)

	_, err = workflow.ApproveStage(ctx, req.ID, generic.RoleAdmin, "")
	assert.ErrorIs(t, err, generic.ErrConcurrentBalanceChange)

	stored, err := workflow.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, conversion.StatusDeptHeadApproved, stored.Status)
	assert.False(t, stored.DebitApplied)

	_, err = ledger.Override(ctx, "emp-1", generic.LeaveVL, generic.Days("12"), nil, "hr")
	require.NoError(t, err)

	done, err := workflow.ApproveStage(ctx, req.ID, generic.RoleAdmin, "")
	require.NoError(t, err)
	assert.True(t, done.DebitApplied)

	balance, err := ledger.GetBalance(ctx, "emp-1", generic.LeaveVL)
	require.NoError(t, err)
	assert.True(t, balance.Equal(generic.Days("2")))
}
