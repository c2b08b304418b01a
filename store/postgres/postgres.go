/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Same contract as store/sqlite, for deployments that share one database
  between several server instances. Uses a pgx connection pool.

DIFFERENCES FROM SQLITE:
  - Balances are NUMERIC; read back as text and parsed into decimals.
  - Timestamps are TIMESTAMPTZ, dates are DATE, approvals are JSONB.
  - No process-wide mutex: isolation comes from the database. Version
    checks ("WHERE version = $n") turn lost updates into
    generic.ErrConcurrentModification.

TRANSACTIONS:
  WithTx begins a pgx.Tx and stores it in the context; every method
  called with that context runs on it. Nested calls join the outer one.

SEE ALSO:
  - store/sqlite/sqlite.go: Embedded implementation
  - generic/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-credits/generic"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and migrates the schema. maxConns <= 0
// keeps the pgx default.
func New(ctx context.Context, databaseURL string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	department TEXT,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_employees_org_active ON employees(org_id, active);

CREATE TABLE IF NOT EXISTS leave_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	code TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	total_days INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS leave_accounts (
	employee_id TEXT NOT NULL,
	code TEXT NOT NULL,
	balance NUMERIC NOT NULL CHECK (balance >= 0),
	imported_at TIMESTAMPTZ,
	last_accrual_period TEXT,
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (employee_id, code)
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	seq BIGSERIAL UNIQUE,
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	code TEXT NOT NULL,
	tx_type TEXT NOT NULL,
	delta NUMERIC NOT NULL,
	balance_after NUMERIC NOT NULL,
	period TEXT,
	reference_id TEXT,
	reason TEXT,
	idempotency_key TEXT UNIQUE,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_transactions_account
	ON ledger_transactions(employee_id, code, seq);

CREATE TABLE IF NOT EXISTS accrual_runs (
	seq BIGSERIAL UNIQUE,
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	period TEXT NOT NULL,
	employees INTEGER NOT NULL,
	applied_count INTEGER NOT NULL,
	skipped_count INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accrual_runs_org ON accrual_runs(org_id, seq DESC);

CREATE TABLE IF NOT EXISTS conversion_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	code TEXT NOT NULL,
	credits_requested NUMERIC NOT NULL,
	status TEXT NOT NULL,
	approval JSONB NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	hr_approved_at TIMESTAMPTZ,
	dept_head_approved_at TIMESTAMPTZ,
	admin_approved_at TIMESTAMPTZ,
	rejected_reason TEXT,
	rejected_at TIMESTAMPTZ,
	rejected_by TEXT,
	rejected_stage TEXT,
	debit_applied BOOLEAN NOT NULL DEFAULT FALSE,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversion_requests_employee ON conversion_requests(employee_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_conversion_requests_status ON conversion_requests(status);

CREATE TABLE IF NOT EXISTS reschedule_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	role_at_submission TEXT NOT NULL,
	original_leave_id TEXT NOT NULL,
	original_code TEXT NOT NULL,
	original_start DATE NOT NULL,
	original_end DATE NOT NULL,
	original_total_days INTEGER NOT NULL,
	proposed_dates JSONB NOT NULL,
	reason TEXT NOT NULL,
	status TEXT NOT NULL,
	approval JSONB NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	hr_approved_at TIMESTAMPTZ,
	hr_remarks TEXT,
	dept_head_approved_at TIMESTAMPTZ,
	dept_head_remarks TEXT,
	rejected_reason TEXT,
	rejected_at TIMESTAMPTZ,
	rejected_by TEXT,
	rejected_stage TEXT,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reschedule_requests_employee ON reschedule_requests(employee_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_reschedule_requests_status ON reschedule_requests(status);
CREATE INDEX IF NOT EXISTS idx_reschedule_requests_leave ON reschedule_requests(original_leave_id);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

type txKey struct{}

type txState struct {
	owner *Store
	tx    pgx.Tx
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(context.WithValue(ctx, txKey{}, &txState{owner: s, tx: tx})); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) txFrom(ctx context.Context) pgx.Tx {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.owner == s {
		return st.tx
	}
	return nil
}

func (s *Store) conn(ctx context.Context) querier {
	if tx := s.txFrom(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `employee_id, code, balance::text, imported_at, last_accrual_period, version, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, employeeID generic.EmployeeID, code generic.LeaveCode) (generic.Account, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM leave_accounts WHERE employee_id = $1 AND code = $2`,
		string(employeeID), string(code))
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Account{}, generic.ErrAccountNotFound
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Account, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+accountColumns+` FROM leave_accounts WHERE employee_id = $1 ORDER BY code`,
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

func (s *Store) SaveAccount(ctx context.Context, acct generic.Account) (generic.Account, error) {
	q := s.conn(ctx)
	if acct.Version == 0 {
		_, err := q.Exec(ctx, `
			INSERT INTO leave_accounts (employee_id, code, balance, imported_at, last_accrual_period, version, created_at, updated_at)
			VALUES ($1, $2, $3::numeric, $4, $5, 1, $6, $7)`,
			string(acct.EmployeeID), string(acct.Code), acct.Balance.String(),
			acct.ImportedAt, nullable(acct.LastAccrualPeriod.String()), acct.CreatedAt, acct.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return generic.Account{}, generic.ErrConcurrentModification
		}
		if err != nil {
			return generic.Account{}, fmt.Errorf("insert account: %w", err)
		}
		acct.Version = 1
		return acct, nil
	}

	tag, err := q.Exec(ctx, `
		UPDATE leave_accounts
		SET balance = $1::numeric, imported_at = $2, last_accrual_period = $3, version = version + 1, updated_at = $4
		WHERE employee_id = $5 AND code = $6 AND version = $7`,
		acct.Balance.String(), acct.ImportedAt, nullable(acct.LastAccrualPeriod.String()), acct.UpdatedAt,
		string(acct.EmployeeID), string(acct.Code), acct.Version,
	)
	if err := checkVersioned(tag, err); err != nil {
		return generic.Account{}, err
	}
	acct.Version++
	return acct, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO ledger_transactions (id, employee_id, code, tx_type, delta, balance_after,
			period, reference_id, reason, idempotency_key, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)`,
		string(tx.ID), string(tx.EmployeeID), string(tx.Code), string(tx.Type),
		tx.Delta.String(), tx.BalanceAfter.String(), nullable(tx.Period.String()),
		nullable(tx.ReferenceID), nullable(tx.Reason), nullable(tx.IdempotencyKey),
		nullable(tx.CreatedBy), tx.CreatedAt,
	)
	if isUniqueViolation(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	return err
}

func (s *Store) Transactions(ctx context.Context, employeeID generic.EmployeeID, code generic.LeaveCode) ([]generic.Transaction, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, employee_id, code, tx_type, delta::text, balance_after::text, period,
			reference_id, reason, idempotency_key, created_by, created_at
		FROM ledger_transactions
		WHERE employee_id = $1 AND code = $2
		ORDER BY seq`,
		string(employeeID), string(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []generic.Transaction{}
	for rows.Next() {
		var (
			tx                                  generic.Transaction
			id, emp, c, typ, delta, after       string
			period, ref, reason, key, createdBy *string
		)
		if err := rows.Scan(&id, &emp, &c, &typ, &delta, &after, &period, &ref, &reason, &key, &createdBy, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.ID = generic.TransactionID(id)
		tx.EmployeeID = generic.EmployeeID(emp)
		tx.Code = generic.LeaveCode(c)
		tx.Type = generic.TxType(typ)
		var err error
		if tx.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("decode transaction %s: column delta: %w", id, err)
		}
		if tx.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("decode transaction %s: column balance_after: %w", id, err)
		}
		if tx.Period, err = generic.ParsePeriod(deref(period)); err != nil {
			return nil, fmt.Errorf("decode transaction %s: column period: %w", id, err)
		}
		tx.ReferenceID = deref(ref)
		tx.Reason = deref(reason)
		tx.IdempotencyKey = deref(key)
		tx.CreatedBy = deref(createdBy)
		result = append(result, tx)
	}
	return result, rows.Err()
}

// =============================================================================
// ACCRUAL RUNS
// =============================================================================

func (s *Store) SaveAccrualRun(ctx context.Context, run generic.AccrualRun) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO accrual_runs (id, org_id, period, employees, applied_count, skipped_count, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, string(run.OrgID), run.Period.String(), run.Employees, run.AppliedCount, run.SkippedCount,
		run.StartedAt, run.CompletedAt,
	)
	return err
}

func (s *Store) ListAccrualRuns(ctx context.Context, orgID generic.OrgID) ([]generic.AccrualRun, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, org_id, period, employees, applied_count, skipped_count, started_at, completed_at
		FROM accrual_runs WHERE org_id = $1 ORDER BY seq DESC`, string(orgID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []generic.AccrualRun{}
	for rows.Next() {
		var (
			run         generic.AccrualRun
			org, period string
		)
		if err := rows.Scan(&run.ID, &org, &period, &run.Employees, &run.AppliedCount, &run.SkippedCount, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		run.OrgID = generic.OrgID(org)
		var err error
		if run.Period, err = generic.ParsePeriod(period); err != nil {
			return nil, fmt.Errorf("decode accrual run %s: column period: %w", run.ID, err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// =============================================================================
// EMPLOYEES / LEAVE REQUESTS
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO employees (id, org_id, name, role, department, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			department = EXCLUDED.department,
			active = EXCLUDED.active`,
		string(emp.ID), string(emp.OrgID), emp.Name, string(emp.Role), nullable(emp.Department), emp.Active,
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT id, org_id, name, role, department, active FROM employees WHERE id = $1`, string(id))
	emp, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Employee{}, generic.ErrEmployeeNotFound
	}
	return emp, err
}

func (s *Store) ListActiveEmployees(ctx context.Context, orgID generic.OrgID) ([]generic.Employee, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, org_id, name, role, department, active
		FROM employees WHERE org_id = $1 AND active ORDER BY id`, string(orgID))
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

func (s *Store) SaveLeaveRequest(ctx context.Context, lr generic.LeaveRequest) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO leave_requests (id, employee_id, code, start_date, end_date, total_days, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		string(lr.ID), string(lr.EmployeeID), string(lr.Code), lr.StartDate.Time, lr.EndDate.Time,
		lr.TotalDays, string(lr.Status), lr.CreatedAt,
	)
	return err
}

func (s *Store) GetLeaveRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	var (
		lr                     generic.LeaveRequest
		lid, emp, code, status string
		start, end             time.Time
	)
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, employee_id, code, start_date, end_date, total_days, status, created_at
		FROM leave_requests WHERE id = $1`, string(id),
	).Scan(&lid, &emp, &code, &start, &end, &lr.TotalDays, &status, &lr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.LeaveRequest{}, generic.ErrLeaveRequestNotFound
	}
	if err != nil {
		return generic.LeaveRequest{}, err
	}
	lr.ID = generic.RequestID(lid)
	lr.EmployeeID = generic.EmployeeID(emp)
	lr.Code = generic.LeaveCode(code)
	lr.StartDate = generic.DateOf(start)
	lr.EndDate = generic.DateOf(end)
	lr.Status = generic.LeaveStatus(status)
	return lr, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func scanAccount(row pgx.Row) (generic.Account, error) {
	var (
		acct               generic.Account
		emp, code, balance string
		lastPeriod         *string
	)
	if err := row.Scan(&emp, &code, &balance, &acct.ImportedAt, &lastPeriod, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return generic.Account{}, err
	}
	acct.EmployeeID = generic.EmployeeID(emp)
	acct.Code = generic.LeaveCode(code)
	var err error
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return generic.Account{}, fmt.Errorf("decode account %s/%s: column balance: %w", emp, code, err)
	}
	if acct.LastAccrualPeriod, err = generic.ParsePeriod(deref(lastPeriod)); err != nil {
		return generic.Account{}, fmt.Errorf("decode account %s/%s: column last_accrual_period: %w", emp, code, err)
	}
	return acct, nil
}

func scanEmployee(row pgx.Row) (generic.Employee, error) {
	var (
		emp                 generic.Employee
		id, org, name, role string
		dept                *string
	)
	if err := row.Scan(&id, &org, &name, &role, &dept, &emp.Active); err != nil {
		return generic.Employee{}, err
	}
	emp.ID = generic.EmployeeID(id)
	emp.OrgID = generic.OrgID(org)
	emp.Name = name
	emp.Role = generic.Role(role)
	emp.Department = deref(dept)
	return emp, nil
}

func checkVersioned(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
