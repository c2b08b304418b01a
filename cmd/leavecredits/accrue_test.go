package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/store/sqlite"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestAccrueCommand_Idempotent(t *testing.T) {
	// GIVEN: A sqlite database with two active employees
	// WHEN: accrue runs twice for the same month
	// THEN: The first run credits four accounts, the second reports the month as credited

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "leave.db")
	t.Setenv("LEAVECREDITS_DATABASE_DRIVER", "sqlite")
	t.Setenv("LEAVECREDITS_DATABASE_PATH", dbPath)
	t.Setenv("LEAVECREDITS_LOGGER_OUTPUT_PATH", filepath.Join(dir, "cli.log"))

	seed, err := sqlite.New(dbPath)
	require.NoError(t, err)
	for _, id := range []generic.EmployeeID{"emp-1", "emp-2"} {
		require.NoError(t, seed.SaveEmployee(context.Background(), generic.Employee{ID: id, OrgID: "acme", Role: generic.RoleEmployee, Active: true}))
	}
	require.NoError(t, seed.Close())

	out := runCLI(t, "accrue", "--org", "acme", "--period", "2025-06")
	assert.Contains(t, out, "credited 4 accounts for 2025-06 in acme")

	out = runCLI(t, "accrue", "--org", "acme", "--period", "2025-06")
	assert.Contains(t, out, "2025-06 already credited for acme")

	check, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer check.Close()
	acct, err := check.GetAccount(context.Background(), "emp-2", generic.LeaveVL)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(generic.Days("1.25")))
}

func TestAccrueCommand_RejectsBadPeriod(t *testing.T) {
	t.Setenv("LEAVECREDITS_DATABASE_DRIVER", "memory")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"accrue", "--org", "acme", "--period", "June"})
	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, "invalid_period", generic.ReasonCode(err))
}
