/*
store.go - Persistence interfaces for accounts, history and accrual runs

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  LedgerStore:     Accounts (versioned rows) + append-only history
  AccrualRunStore: One row per accrueMonthly call
  TxManager:       Runs a function inside one storage transaction

OPTIMISTIC LOCKING:
  SaveAccount is a compare-and-set on Account.Version:
  - Version 0 inserts; an existing row yields ErrConcurrentModification
  - Version N updates only if the stored version is still N
  - The stored version becomes N+1 and is returned
  Accrual crediting relies on this: two concurrent runs for the same
  (employee, period) race on the same version and only one wins.

TRANSACTIONS:
  WithTx carries the open transaction in the context. Every store method
  called with that context joins it; nested WithTx calls join the outer
  transaction. Returning an error from fn rolls everything back.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:     SQLite (mattn/go-sqlite3)
  - store/postgres/postgres.go: PostgreSQL (pgx)
  - store/memory/memory.go:     In-memory for testing

SEE ALSO:
  - ledger.go: CreditLedger, the only writer of accounts
*/
package generic

import "context"

// =============================================================================
// LEDGER STORE
// =============================================================================

type LedgerStore interface {
	// GetAccount returns ErrAccountNotFound when no row exists.
	GetAccount(ctx context.Context, employeeID EmployeeID, code LeaveCode) (Account, error)

	// ListAccounts returns every account for the employee, ordered by code.
	ListAccounts(ctx context.Context, employeeID EmployeeID) ([]Account, error)

	// SaveAccount writes acct if acct.Version matches the stored version.
	// Returns the saved account with its new version.
	SaveAccount(ctx context.Context, acct Account) (Account, error)

	// AppendTransaction adds a history entry. Fails with
	// ErrDuplicateIdempotencyKey if the key already exists.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// Transactions returns history for employee+code, oldest first.
	Transactions(ctx context.Context, employeeID EmployeeID, code LeaveCode) ([]Transaction, error)
}

// =============================================================================
// ACCRUAL RUN STORE
// =============================================================================

type AccrualRunStore interface {
	SaveAccrualRun(ctx context.Context, run AccrualRun) error

	// ListAccrualRuns returns runs for org, newest first.
	ListAccrualRuns(ctx context.Context, orgID OrgID) ([]AccrualRun, error)
}

// =============================================================================
// TRANSACTION MANAGER
// =============================================================================

type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
