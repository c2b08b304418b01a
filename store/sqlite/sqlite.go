/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the leave-credit core using
  SQLite. store/postgres implements the same interfaces for PostgreSQL;
  only the SQL dialect differs.

INTERFACES IMPLEMENTED:
  generic.LedgerStore:       Accounts + append-only history
  generic.AccrualRunStore:   Accrual run bookkeeping
  generic.TxManager:         WithTx
  generic.EmployeeDirectory: Employee lookups
  generic.LeaveRequestStore: Original leave requests
  conversion.Store:          Conversion requests
  reschedule.Store:          Reschedule requests

KEY TABLES:
  leave_accounts:       One row per (employee, code), versioned
  ledger_transactions:  Immutable history of balance changes
  accrual_runs:         One row per accrueMonthly call
  conversion_requests:  Conversion requests with stage timestamps
  reschedule_requests:  Reschedule requests with frozen chain
  employees, leave_requests: Collaborator data

OPTIMISTIC LOCKING:
  Accounts and requests are updated with "WHERE version = ?". Zero rows
  affected means someone else saved first: generic.ErrConcurrentModification.

DECIMALS AND TIMES:
  Decimals are stored as TEXT (exact round trip). Times are fixed-width
  UTC text, dates are YYYY-MM-DD, periods are YYYY-MM, so string ordering
  matches time ordering.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus a single connection, so a
  ":memory:" database is shared by every call. WithTx holds the write lock
  for the whole transaction and marks the context; calls made with that
  context run on the transaction and skip the lock.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash recovery.

USAGE:
  store, err := sqlite.New("./data/leavecredits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewCreditLedger(store, store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-credits/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees (directory view)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		department TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_employees_org_active
		ON employees(org_id, active);

	-- Ordinary leave requests (subject of reschedules)
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		code TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Accounts: one row per (employee, code)
	CREATE TABLE IF NOT EXISTS leave_accounts (
		employee_id TEXT NOT NULL,
		code TEXT NOT NULL,
		balance TEXT NOT NULL,
		imported_at TEXT,
		last_accrual_period TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, code)
	);

	-- History (append-only)
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		code TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		period TEXT,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_account
		ON ledger_transactions(employee_id, code, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_reference
		ON ledger_transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Accrual runs
	CREATE TABLE IF NOT EXISTS accrual_runs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		period TEXT NOT NULL,
		employees INTEGER NOT NULL,
		applied_count INTEGER NOT NULL,
		skipped_count INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accrual_runs_org
		ON accrual_runs(org_id, started_at DESC);

	-- Conversion requests
	CREATE TABLE IF NOT EXISTS conversion_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		code TEXT NOT NULL,
		credits_requested TEXT NOT NULL,
		status TEXT NOT NULL,
		approval_json TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		hr_approved_at TEXT,
		dept_head_approved_at TEXT,
		admin_approved_at TEXT,
		rejected_reason TEXT,
		rejected_at TEXT,
		rejected_by TEXT,
		rejected_stage TEXT,
		debit_applied INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversion_requests_employee
		ON conversion_requests(employee_id, submitted_at);
	CREATE INDEX IF NOT EXISTS idx_conversion_requests_status
		ON conversion_requests(status);

	-- Reschedule requests
	CREATE TABLE IF NOT EXISTS reschedule_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		role_at_submission TEXT NOT NULL,
		original_leave_id TEXT NOT NULL,
		original_code TEXT NOT NULL,
		original_start TEXT NOT NULL,
		original_end TEXT NOT NULL,
		original_total_days INTEGER NOT NULL,
		proposed_dates_json TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		approval_json TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		hr_approved_at TEXT,
		hr_remarks TEXT,
		dept_head_approved_at TEXT,
		dept_head_remarks TEXT,
		rejected_reason TEXT,
		rejected_at TEXT,
		rejected_by TEXT,
		rejected_stage TEXT,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reschedule_requests_employee
		ON reschedule_requests(employee_id, submitted_at);
	CREATE INDEX IF NOT EXISTS idx_reschedule_requests_status
		ON reschedule_requests(status);
	CREATE INDEX IF NOT EXISTS idx_reschedule_requests_leave
		ON reschedule_requests(original_leave_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type txKey struct{}

type txState struct {
	owner *Store
	tx    *sql.Tx
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes fn within a database transaction. Nested calls join
// the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, &txState{owner: s, tx: sqlTx})); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) txFrom(ctx context.Context) *sql.Tx {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.owner == s {
		return st.tx
	}
	return nil
}

// conn returns the open transaction for ctx, or the database.
func (s *Store) conn(ctx context.Context) querier {
	if tx := s.txFrom(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) lock(ctx context.Context) func() {
	if s.txFrom(ctx) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock(ctx context.Context) func() {
	if s.txFrom(ctx) != nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `employee_id, code, balance, imported_at, last_accrual_period, version, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, employeeID generic.EmployeeID, code generic.LeaveCode) (generic.Account, error) {
	defer s.rlock(ctx)()

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM leave_accounts WHERE employee_id = ? AND code = ?`,
		string(employeeID), string(code))
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Account{}, generic.ErrAccountNotFound
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Account, error) {
	defer s.rlock(ctx)()

	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+accountColumns+` FROM leave_accounts WHERE employee_id = ? ORDER BY code`,
		string(employeeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []generic.Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

// SaveAccount inserts (Version 0) or updates (Version N) with a version check.
func (s *Store) SaveAccount(ctx context.Context, acct generic.Account) (generic.Account, error) {
	defer s.lock(ctx)()

	q := s.conn(ctx)
	if acct.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO leave_accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			string(acct.EmployeeID), string(acct.Code), acct.Balance.String(),
			nullTime(acct.ImportedAt), nullString(acct.LastAccrualPeriod.String()),
			formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return generic.Account{}, generic.ErrConcurrentModification
		}
		if err != nil {
			return generic.Account{}, fmt.Errorf("insert account: %w", err)
		}
		acct.Version = 1
		return acct, nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE leave_accounts
		SET balance = ?, imported_at = ?, last_accrual_period = ?, version = version + 1, updated_at = ?
		WHERE employee_id = ? AND code = ? AND version = ?`,
		acct.Balance.String(), nullTime(acct.ImportedAt), nullString(acct.LastAccrualPeriod.String()),
		formatTime(acct.UpdatedAt), string(acct.EmployeeID), string(acct.Code), acct.Version,
	)
	if err := checkVersioned(res, err); err != nil {
		return generic.Account{}, err
	}
	acct.Version++
	return acct, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// AppendTransaction adds a history entry. No UPDATE or DELETE exists for this table.
func (s *Store) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	defer s.lock(ctx)()

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, employee_id, code, tx_type, delta, balance_after,
			period, reference_id, reason, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID), string(tx.EmployeeID), string(tx.Code), string(tx.Type),
		tx.Delta.String(), tx.BalanceAfter.String(), nullString(tx.Period.String()),
		nullString(tx.ReferenceID), nullString(tx.Reason), nullString(tx.IdempotencyKey),
		nullString(tx.CreatedBy), formatTime(tx.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	return err
}

func (s *Store) Transactions(ctx context.Context, employeeID generic.EmployeeID, code generic.LeaveCode) ([]generic.Transaction, error) {
	defer s.rlock(ctx)()

	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, employee_id, code, tx_type, delta, balance_after, period,
			reference_id, reason, idempotency_key, created_by, created_at
		FROM ledger_transactions
		WHERE employee_id = ? AND code = ?
		ORDER BY created_at, rowid`,
		string(employeeID), string(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []generic.Transaction{}
	for rows.Next() {
		var (
			tx                                       generic.Transaction
			id, emp, c, typ, delta, after, createdAt string
			period, ref, reason, key, createdBy      sql.NullString
		)
		if err := rows.Scan(&id, &emp, &c, &typ, &delta, &after, &period, &ref, &reason, &key, &createdBy, &createdAt); err != nil {
			return nil, err
		}
		tx.ID = generic.TransactionID(id)
		tx.EmployeeID = generic.EmployeeID(emp)
		tx.Code = generic.LeaveCode(c)
		tx.Type = generic.TxType(typ)
		var d rowDecoder
		tx.Delta = d.decimal("delta", delta)
		tx.BalanceAfter = d.decimal("balance_after", after)
		tx.Period = d.period("period", period.String)
		tx.ReferenceID = ref.String
		tx.Reason = reason.String
		tx.IdempotencyKey = key.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt = d.timestamp("created_at", createdAt)
		if d.err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", id, d.err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// =============================================================================
// ACCRUAL RUNS
// =============================================================================

func (s *Store) SaveAccrualRun(ctx context.Context, run generic.AccrualRun) error {
	defer s.lock(ctx)()

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO accrual_runs (id, org_id, period, employees, applied_count, skipped_count, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.OrgID), run.Period.String(), run.Employees, run.AppliedCount, run.SkippedCount,
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
	)
	return err
}

func (s *Store) ListAccrualRuns(ctx context.Context, orgID generic.OrgID) ([]generic.AccrualRun, error) {
	defer s.rlock(ctx)()

	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, org_id, period, employees, applied_count, skipped_count, started_at, completed_at
		FROM accrual_runs WHERE org_id = ?
		ORDER BY started_at DESC, rowid DESC`, string(orgID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []generic.AccrualRun{}
	for rows.Next() {
		var (
			run                             generic.AccrualRun
			org, period, started, completed string
		)
		if err := rows.Scan(&run.ID, &org, &period, &run.Employees, &run.AppliedCount, &run.SkippedCount, &started, &completed); err != nil {
			return nil, err
		}
		run.OrgID = generic.OrgID(org)
		var d rowDecoder
		run.Period = d.period("period", period)
		run.StartedAt = d.timestamp("started_at", started)
		run.CompletedAt = d.timestamp("completed_at", completed)
		if d.err != nil {
			return nil, fmt.Errorf("decode accrual run %s: %w", run.ID, d.err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	defer s.lock(ctx)()

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO employees (id, org_id, name, role, department, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			role = excluded.role,
			department = excluded.department,
			active = excluded.active`,
		string(emp.ID), string(emp.OrgID), emp.Name, string(emp.Role), nullString(emp.Department), emp.Active,
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	defer s.rlock(ctx)()

	row := s.conn(ctx).QueryRowContext(ctx, `SELECT id, org_id, name, role, department, active FROM employees WHERE id = ?`, string(id))
	emp, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Employee{}, generic.ErrEmployeeNotFound
	}
	return emp, err
}

func (s *Store) ListActiveEmployees(ctx context.Context, orgID generic.OrgID) ([]generic.Employee, error) {
	defer s.rlock(ctx)()

	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, org_id, name, role, department, active
		FROM employees WHERE org_id = ? AND active = 1 ORDER BY id`, string(orgID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []generic.Employee{}
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, emp)
	}
	return result, rows.Err()
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

func (s *Store) SaveLeaveRequest(ctx context.Context, lr generic.LeaveRequest) error {
	defer s.lock(ctx)()

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO leave_requests (id, employee_id, code, start_date, end_date, total_days, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		string(lr.ID), string(lr.EmployeeID), string(lr.Code), lr.StartDate.String(), lr.EndDate.String(),
		lr.TotalDays, string(lr.Status), formatTime(lr.CreatedAt),
	)
	return err
}

func (s *Store) GetLeaveRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	defer s.rlock(ctx)()

	var (
		lr                                            generic.LeaveRequest
		lid, emp, code, start, end, status, createdAt string
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, employee_id, code, start_date, end_date, total_days, status, created_at
		FROM leave_requests WHERE id = ?`, string(id),
	).Scan(&lid, &emp, &code, &start, &end, &lr.TotalDays, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.LeaveRequest{}, generic.ErrLeaveRequestNotFound
	}
	if err != nil {
		return generic.LeaveRequest{}, err
	}
	lr.ID = generic.RequestID(lid)
	lr.EmployeeID = generic.EmployeeID(emp)
	lr.Code = generic.LeaveCode(code)
	var d rowDecoder
	lr.StartDate = d.date("start_date", start)
	lr.EndDate = d.date("end_date", end)
	lr.Status = generic.LeaveStatus(status)
	lr.CreatedAt = d.timestamp("created_at", createdAt)
	if d.err != nil {
		return generic.LeaveRequest{}, fmt.Errorf("decode leave request %s: %w", lid, d.err)
	}
	return lr, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (generic.Account, error) {
	var (
		acct                   generic.Account
		emp, code, balance     string
		importedAt, lastPeriod sql.NullString
		createdAt, updatedAt   string
	)
	if err := row.Scan(&emp, &code, &balance, &importedAt, &lastPeriod, &acct.Version, &createdAt, &updatedAt); err != nil {
		return generic.Account{}, err
	}
	acct.EmployeeID = generic.EmployeeID(emp)
	acct.Code = generic.LeaveCode(code)
	var d rowDecoder
	acct.Balance = d.decimal("balance", balance)
	acct.ImportedAt = d.optionalTimestamp("imported_at", importedAt)
	acct.LastAccrualPeriod = d.period("last_accrual_period", lastPeriod.String)
	acct.CreatedAt = d.timestamp("created_at", createdAt)
	acct.UpdatedAt = d.timestamp("updated_at", updatedAt)
	if d.err != nil {
		return generic.Account{}, fmt.Errorf("decode account %s/%s: %w", emp, code, d.err)
	}
	return acct, nil
}

func scanEmployee(row rowScanner) (generic.Employee, error) {
	var (
		emp                 generic.Employee
		id, org, name, role string
		dept                sql.NullString
	)
	if err := row.Scan(&id, &org, &name, &role, &dept, &emp.Active); err != nil {
		return generic.Employee{}, err
	}
	emp.ID = generic.EmployeeID(id)
	emp.OrgID = generic.OrgID(org)
	emp.Name = name
	emp.Role = generic.Role(role)
	emp.Department = dept.String
	return emp, nil
}

// checkVersioned maps "no row updated" to a version conflict.
func checkVersioned(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
