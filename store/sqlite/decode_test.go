package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
)

// These tests corrupt rows through the raw handle, so they live inside the
// package.

var decodeNow = time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC)

func newDecodeStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetAccount_MalformedBalance(t *testing.T) {
	// GIVEN: An account whose stored balance is not a decimal
	// WHEN: The account is read
	// THEN: An error naming the column is returned instead of a zero balance

	store := newDecodeStore(t)
	ctx := context.Background()

	_, err := store.SaveAccount(ctx, generic.Account{
		EmployeeID: "emp-1", Code: generic.LeaveVL, Balance: generic.Days("12.50"),
		CreatedAt: decodeNow, UpdatedAt: decodeNow,
	})
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx,
		`UPDATE leave_accounts SET balance = '12,50' WHERE employee_id = 'emp-1' AND code = ?`, string(generic.LeaveVL))
	require.NoError(t, err)

	_, err = store.GetAccount(ctx, "emp-1", generic.LeaveVL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode account emp-1/VL")
	assert.Contains(t, err.Error(), "column balance")

	_, err = store.ListAccounts(ctx, "emp-1")
	assert.Error(t, err)
}

func TestGetAccount_MalformedTimestamp(t *testing.T) {
	store := newDecodeStore(t)
	ctx := context.Background()

	_, err := store.SaveAccount(ctx, generic.Account{
		EmployeeID: "emp-1", Code: generic.LeaveVL, Balance: generic.Days("1"),
		CreatedAt: decodeNow, UpdatedAt: decodeNow,
	})
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `UPDATE leave_accounts SET updated_at = 'yesterday'`)
	require.NoError(t, err)

	_, err = store.GetAccount(ctx, "emp-1", generic.LeaveVL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column updated_at")
}

func TestTransactions_MalformedDelta(t *testing.T) {
	store := newDecodeStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, employee_id, code, tx_type, delta, balance_after, created_at)
		VALUES ('tx-1', 'emp-1', ?, 'accrual', 'one', '1', ?)`,
		string(generic.LeaveVL), formatTime(decodeNow))
	require.NoError(t, err)

	_, err = store.Transactions(ctx, "emp-1", generic.LeaveVL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode transaction tx-1")
	assert.Contains(t, err.Error(), "column delta")
}

func TestGetConversion_MalformedCredits(t *testing.T) {
	store := newDecodeStore(t)
	ctx := context.Background()

	_, err := store.CreateConversion(ctx, conversion.Request{
		ID: "conv-1", EmployeeID: "emp-1", Code: generic.LeaveVL,
		CreditsRequested: generic.Days("10"), Status: conversion.StatusPending,
		Approval:    generic.Approval{Chain: conversion.Chain, Completed: []generic.StageRecord{}},
		SubmittedAt: decodeNow, UpdatedAt: decodeNow,
	})
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `UPDATE conversion_requests SET credits_requested = '' WHERE id = 'conv-1'`)
	require.NoError(t, err)

	_, err = store.GetConversion(ctx, "conv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column credits_requested")
}
