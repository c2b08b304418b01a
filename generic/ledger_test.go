package generic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testOrg generic.OrgID = "acme"

var june2025 = generic.NewPeriod(2025, time.June)

func newTestLedger(t *testing.T) (*generic.CreditLedger, *memory.Store, *generic.FixedClock) {
	t.Helper()
	store := memory.New()
	clock := generic.NewFixedClock(time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC))

	ledger := generic.NewCreditLedger(store, store, store)
	ledger.Runs = store
	ledger.Clock = clock
	return ledger, store, clock
}

func addEmployee(t *testing.T, store *memory.Store, id generic.EmployeeID, active bool) {
	t.Helper()
	require.NoError(t, store.SaveEmployee(context.Background(), generic.Employee{
		ID:     id,
		OrgID:  testOrg,
		Name:   string(id),
		Role:   generic.RoleEmployee,
		Active: active,
	}))
}

func requireBalance(t *testing.T, ledger *generic.CreditLedger, id generic.EmployeeID, code generic.LeaveCode, want string) {
	t.Helper()
	got, err := ledger.GetBalance(context.Background(), id, code)
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.Days(want)), "%s %s balance: want %s, got %s", id, code, want, got)
}

// =============================================================================
// ACCRUAL
// =============================================================================

func TestAccrueMonthly_CreditsEveryEarnableCode(t *testing.T) {
	// GIVEN: Two active employees and one inactive one
	// WHEN: June 2025 is accrued
	// THEN: Each active employee gets 1.25 SL and 1.25 VL

	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	addEmployee(t, store, "emp-2", true)
	addEmployee(t, store, "emp-gone", false)

	result, err := ledger.AccrueMonthly(context.Background(), testOrg, june2025)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Employees)
	assert.Equal(t, 4, result.AppliedCount)
	assert.False(t, result.AlreadyCredited())

	requireBalance(t, ledger, "emp-1", generic.LeaveVL, "1.25")
	requireBalance(t, ledger, "emp-1", generic.LeaveSL, "1.25")
	requireBalance(t, ledger, "emp-gone", generic.LeaveVL, "0")

	acct, err := ledger.Account(context.Background(), "emp-2", generic.LeaveSL)
	require.NoError(t, err)
	assert.Equal(t, june2025, acct.LastAccrualPeriod)
}

func TestAccrueMonthly_SecondRunIsAlreadyCredited(t *testing.T) {
	// GIVEN: June 2025 accrued once
	// WHEN: It is accrued again
	// THEN: AppliedCount = 0, AlreadyCreditedPeriod = 2025-06, balances unchanged

	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	first, err := ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)
	require.Positive(t, first.AppliedCount)

	second, err := ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)

	assert.Equal(t, 0, second.AppliedCount)
	require.NotNil(t, second.AlreadyCreditedPeriod)
	assert.Equal(t, june2025, *second.AlreadyCreditedPeriod)
	requireBalance(t, ledger, "emp-1", generic.LeaveVL, "1.25")

	history, err := ledger.History(ctx, "emp-1", generic.LeaveVL)
	require.NoError(t, err)
	assert.Len(t, history, 1, "repeat run must not add history")

	credited, err := ledger.PeriodCredited(ctx, testOrg, june2025)
	require.NoError(t, err)
	assert.True(t, credited)
}

func TestAccrueMonthly_ConsecutiveMonthsAccumulate(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)

	clock.Set(time.Date(2025, time.July, 2, 0, 0, 0, 0, time.UTC))
	result, err := ledger.AccrueMonthly(ctx, testOrg, june2025.Next())
	require.NoError(t, err)
	assert.Equal(t, 2, result.AppliedCount)

	requireBalance(t, ledger, "emp-1", generic.LeaveVL, "2.50")
}

func TestAccrueMonthly_OlderPeriodAfterNewerIsSkipped(t *testing.T) {
	// last_accrual_period only moves forward
	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)

	result, err := ledger.AccrueMonthly(ctx, testOrg, june2025.Prev())
	require.NoError(t, err)
	assert.True(t, result.AlreadyCredited())
	requireBalance(t, ledger, "emp-1", generic.LeaveVL, "1.25")
}

func TestAccrueMonthly_RejectsFutureAndInvalidPeriods(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.AccrueMonthly(ctx, testOrg, june2025.Next())
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "future_period", ve.Code)

	_, err = ledger.AccrueMonthly(ctx, testOrg, generic.Period{})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "invalid_period", ve.Code)
}

func TestAccrueMonthly_ConcurrentRunsCollapse(t *testing.T) {
	// GIVEN: Five active employees
	// WHEN: Eight triggers accrue June concurrently
	// THEN: Every account is credited exactly once

	ledger, store, _ := newTestLedger(t)
	for _, id := range []generic.EmployeeID{"e1", "e2", "e3", "e4", "e5"} {
		addEmployee(t, store, id, true)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := ledger.AccrueMonthly(context.Background(), testOrg, june2025)
			assert.NoError(t, err)
			mu.Lock()
			applied += result.AppliedCount
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, applied)
	for _, id := range []generic.EmployeeID{"e1", "e2", "e3", "e4", "e5"} {
		requireBalance(t, ledger, id, generic.LeaveVL, "1.25")
		requireBalance(t, ledger, id, generic.LeaveSL, "1.25")
	}
}

func TestAccrueMonthly_RecordsRuns(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)
	_, err = ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)

	runs, err := ledger.ListAccrualRuns(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 0, runs[0].AppliedCount, "newest first")
	assert.Equal(t, 2, runs[1].AppliedCount)
}

func TestAccrueMonthly_DuplicateKeyIsSkipped(t *testing.T) {
	// GIVEN: History already holds the VL accrual key for June, but no VL
	// account row shows the period
	// WHEN: The period is accrued
	// THEN: The duplicate key rolls the credit back and counts as skipped

	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	require.NoError(t, store.AppendTransaction(ctx, generic.Transaction{
		ID:             "seed",
		EmployeeID:     "emp-1",
		Code:           generic.LeaveVL,
		Type:           generic.TxAccrual,
		IdempotencyKey: generic.AccrualKey("emp-1", generic.LeaveVL, june2025),
	}))

	result, err := ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)

	assert.Equal(t, 1, result.AppliedCount, "SL only")
	assert.Equal(t, 1, result.SkippedCount)
	requireBalance(t, ledger, "emp-1", generic.LeaveVL, "0")
}

// =============================================================================
// OVERRIDE
// =============================================================================

func TestOverride_ReplacesBalanceAndKeepsAccrualPeriod(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.AccrueMonthly(ctx, testOrg, june2025)
	require.NoError(t, err)

	imported := clock.Now().Add(-time.Hour)
	acct, err := ledger.Override(ctx, "emp-1", generic.LeaveVL, generic.Days("12"), &imported, "hr:maria")
	require.NoError(t, err)

	assert.True(t, acct.Balance.Equal(generic.Days("12")))
	assert.Equal(t, june2025, acct.LastAccrualPeriod)
	require.NotNil(t, acct.ImportedAt)
	assert.Equal(t, imported.UTC(), *acct.ImportedAt)

	history, err := ledger.History(ctx, "emp-1", generic.LeaveVL)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, generic.TxOverride, history[1].Type)
	assert.True(t, history[1].Delta.Equal(generic.Days("10.75")))
	assert.Equal(t, "hr:maria", history[1].CreatedBy)
}

func TestOverride_ZeroAllowed_NegativeRejected(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.Override(ctx, "emp-1", generic.LeaveSL, generic.Days("0"), nil, "hr")
	require.NoError(t, err)
	requireBalance(t, ledger, "emp-1", generic.LeaveSL, "0")

	_, err = ledger.Override(ctx, "emp-1", generic.LeaveSL, generic.Days("-1"), nil, "hr")
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "negative_balance", ve.Code)
}

func TestOverride_UnknownEmployee(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Override(context.Background(), "ghost", generic.LeaveVL, generic.Days("5"), nil, "hr")
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
}

// =============================================================================
// DEBIT
// =============================================================================

func TestDebit_SubtractsExactly(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.Override(ctx, "emp-1", generic.LeaveVL, generic.Days("12.5"), nil, "hr")
	require.NoError(t, err)

	acct, err := ledger.Debit(ctx, "emp-1", generic.LeaveVL, generic.Days("10"), "conversion:r1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(generic.Days("2.5")))

	history, err := ledger.History(ctx, "emp-1", generic.LeaveVL)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, generic.TxDebit, last.Type)
	assert.Equal(t, "conversion:r1", last.ReferenceID)
	assert.True(t, last.Delta.Equal(generic.Days("-10")))
}

func TestDebit_ExactBalanceReachesZero(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.Override(ctx, "emp-1", generic.LeaveVL, generic.Days("10.00"), nil, "hr")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "emp-1", generic.LeaveVL, generic.Days("10"), "r1")
	require.NoError(t, err)
	requireBalance(t, ledger, "emp-1", generic.LeaveVL, "0")
}

func TestDebit_InsufficientBalance(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	addEmployee(t, store, "emp-1", true)
	ctx := context.Background()

	_, err := ledger.Override(ctx, "emp-1", generic.LeaveVL, generic.Days("8"), nil, "hr")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "emp-1", generic.LeaveVL, generic.Days("9"), "r1")

	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.True(t, ibe.Shortfall.Equal(generic.Days("1")))
	requireBalance(t, ledger, "emp-1", generic.LeaveVL, "8")

	history, err := ledger.History(ctx, "emp-1", generic.LeaveVL)
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed debit leaves no history")
}

func TestDebit_MissingAccountCountsAsZero(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Debit(context.Background(), "emp-1", generic.LeaveVL, generic.Days("1"), "r1")
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	_, err = ledger.Debit(context.Background(), "emp-1", generic.LeaveVL, generic.Days("0"), "r1")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestGetBalance_NoAccountIsZero(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	requireBalance(t, ledger, "nobody", generic.LeaveSL, "0")
}

// =============================================================================
// HELPERS
// =============================================================================

func TestRetryOnConflict_RetriesOnce(t *testing.T) {
	calls := 0
	err := generic.RetryOnConflict(func() error {
		calls++
		return generic.ErrConcurrentModification
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.Equal(t, 2, calls)

	calls = 0
	err = generic.RetryOnConflict(func() error {
		calls++
		if calls == 1 {
			return generic.ErrConcurrentModification
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := generic.NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("req-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	// Different keys do not block each other.
	unlockA := km.Lock("a")
	unlockB := km.Lock("b")
	unlockB()
	unlockA()
}

func TestCreditPolicy_Validate(t *testing.T) {
	p := generic.DefaultCreditPolicy()
	require.NoError(t, p.Validate())
	assert.True(t, p.IsEarnable(generic.LeaveSL))

	p.ConversionAnnualCap = generic.Days("5")
	assert.Error(t, p.Validate(), "cap below minimum")

	p = generic.DefaultCreditPolicy()
	p.AccrualIncrement = generic.Days("0")
	assert.Error(t, p.Validate())
}

func TestLookupLeaveCode(t *testing.T) {
	code, err := generic.LookupLeaveCode(" vl ")
	require.NoError(t, err)
	assert.Equal(t, generic.LeaveVL, code)

	_, err = generic.LookupLeaveCode("XX")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestParseRole(t *testing.T) {
	role, err := generic.ParseRole("Dept_Head")
	require.NoError(t, err)
	assert.Equal(t, generic.RoleDeptHead, role)
	assert.True(t, role.Can(generic.CapApproveDeptHead))
	assert.False(t, role.Can(generic.CapApproveHR))

	_, err = generic.ParseRole("ceo")
	assert.ErrorIs(t, err, generic.ErrValidation)
}
