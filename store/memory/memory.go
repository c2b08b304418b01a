// Package memory provides an in-memory implementation of every store
// interface (ledger, accrual runs, requests, directory). Used by tests and
// by the server when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/reschedule"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex
	data
}

// data is everything a transaction snapshot must restore.
type data struct {
	accounts     map[accountKey]generic.Account
	transactions map[accountKey][]generic.Transaction
	idempotency  map[string]bool
	runs         []generic.AccrualRun
	conversions  map[generic.RequestID]conversion.Request
	reschedules  map[generic.RequestID]reschedule.Request
	employees    map[generic.EmployeeID]generic.Employee
	leaves       map[generic.RequestID]generic.LeaveRequest
}

type accountKey struct {
	EmployeeID generic.EmployeeID
	Code       generic.LeaveCode
}

func New() *Store {
	return &Store{data: data{
		accounts:     make(map[accountKey]generic.Account),
		transactions: make(map[accountKey][]generic.Transaction),
		idempotency:  make(map[string]bool),
		conversions:  make(map[generic.RequestID]conversion.Request),
		reschedules:  make(map[generic.RequestID]reschedule.Request),
		employees:    make(map[generic.EmployeeID]generic.Employee),
		leaves:       make(map[generic.RequestID]generic.LeaveRequest),
	}}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type txKey struct{}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn; store calls made with the
// returned context skip locking.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) snapshot() data {
	d := data{
		accounts:     make(map[accountKey]generic.Account, len(s.accounts)),
		transactions: make(map[accountKey][]generic.Transaction, len(s.transactions)),
		idempotency:  make(map[string]bool, len(s.idempotency)),
		runs:         append([]generic.AccrualRun(nil), s.runs...),
		conversions:  make(map[generic.RequestID]conversion.Request, len(s.conversions)),
		reschedules:  make(map[generic.RequestID]reschedule.Request, len(s.reschedules)),
		employees:    make(map[generic.EmployeeID]generic.Employee, len(s.employees)),
		leaves:       make(map[generic.RequestID]generic.LeaveRequest, len(s.leaves)),
	}
	for k, v := range s.accounts {
		d.accounts[k] = v
	}
	for k, v := range s.transactions {
		d.transactions[k] = append([]generic.Transaction(nil), v...)
	}
	for k, v := range s.idempotency {
		d.idempotency[k] = v
	}
	// Requests are stored by value and replaced wholesale on update, so a
	// shallow copy of each map is enough.
	for k, v := range s.conversions {
		d.conversions[k] = v
	}
	for k, v := range s.reschedules {
		d.reschedules[k] = v
	}
	for k, v := range s.employees {
		d.employees[k] = v
	}
	for k, v := range s.leaves {
		d.leaves[k] = v
	}
	return d
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, employeeID generic.EmployeeID, code generic.LeaveCode) (generic.Account, error) {
	defer s.rlock(ctx)()

	acct, ok := s.accounts[accountKey{employeeID, code}]
	if !ok {
		return generic.Account{}, generic.ErrAccountNotFound
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Account, error) {
	defer s.rlock(ctx)()

	result := []generic.Account{}
	for k, acct := range s.accounts {
		if k.EmployeeID == employeeID {
			result = append(result, acct)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (s *Store) SaveAccount(ctx context.Context, acct generic.Account) (generic.Account, error) {
	defer s.lock(ctx)()

	k := accountKey{acct.EmployeeID, acct.Code}
	stored, exists := s.accounts[k]
	switch {
	case acct.Version == 0 && exists:
		return generic.Account{}, generic.ErrConcurrentModification
	case acct.Version > 0 && (!exists || stored.Version != acct.Version):
		return generic.Account{}, generic.ErrConcurrentModification
	}

	acct.Version++
	s.accounts[k] = acct
	return acct, nil
}

// AppendTransaction adds a history entry. Append-only.
func (s *Store) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	defer s.lock(ctx)()

	if tx.IdempotencyKey != "" {
		if s.idempotency[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		s.idempotency[tx.IdempotencyKey] = true
	}
	k := accountKey{tx.EmployeeID, tx.Code}
	s.transactions[k] = append(s.transactions[k], tx)
	return nil
}

func (s *Store) Transactions(ctx context.Context, employeeID generic.EmployeeID, code generic.LeaveCode) ([]generic.Transaction, error) {
	defer s.rlock(ctx)()

	src := s.transactions[accountKey{employeeID, code}]
	result := make([]generic.Transaction, len(src))
	copy(result, src)
	return result, nil
}

// =============================================================================
// ACCRUAL RUNS
// =============================================================================

func (s *Store) SaveAccrualRun(ctx context.Context, run generic.AccrualRun) error {
	defer s.lock(ctx)()
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) ListAccrualRuns(ctx context.Context, orgID generic.OrgID) ([]generic.AccrualRun, error) {
	defer s.rlock(ctx)()

	result := []generic.AccrualRun{}
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].OrgID == orgID {
			result = append(result, s.runs[i])
		}
	}
	return result, nil
}

// =============================================================================
// DIRECTORY / LEAVE REQUESTS
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	defer s.lock(ctx)()
	s.employees[emp.ID] = emp
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (generic.Employee, error) {
	defer s.rlock(ctx)()

	emp, ok := s.employees[id]
	if !ok {
		return generic.Employee{}, generic.ErrEmployeeNotFound
	}
	return emp, nil
}

func (s *Store) ListActiveEmployees(ctx context.Context, orgID generic.OrgID) ([]generic.Employee, error) {
	defer s.rlock(ctx)()

	result := []generic.Employee{}
	for _, emp := range s.employees {
		if emp.OrgID == orgID && emp.Active {
			result = append(result, emp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SaveLeaveRequest(ctx context.Context, lr generic.LeaveRequest) error {
	defer s.lock(ctx)()
	s.leaves[lr.ID] = lr
	return nil
}

func (s *Store) GetLeaveRequest(ctx context.Context, id generic.RequestID) (generic.LeaveRequest, error) {
	defer s.rlock(ctx)()

	lr, ok := s.leaves[id]
	if !ok {
		return generic.LeaveRequest{}, generic.ErrLeaveRequestNotFound
	}
	return lr, nil
}

// =============================================================================
// CONVERSION REQUESTS
// =============================================================================

func (s *Store) CreateConversion(ctx context.Context, r conversion.Request) (conversion.Request, error) {
	defer s.lock(ctx)()

	if _, exists := s.conversions[r.ID]; exists {
		return conversion.Request{}, generic.ErrConcurrentModification
	}
	r.Version = 1
	s.conversions[r.ID] = r
	return r, nil
}

func (s *Store) GetConversion(ctx context.Context, id generic.RequestID) (conversion.Request, error) {
	defer s.rlock(ctx)()

	r, ok := s.conversions[id]
	if !ok {
		return conversion.Request{}, generic.ErrRequestNotFound
	}
	return r, nil
}

func (s *Store) UpdateConversion(ctx context.Context, r conversion.Request) (conversion.Request, error) {
	defer s.lock(ctx)()

	stored, ok := s.conversions[r.ID]
	if !ok {
		return conversion.Request{}, generic.ErrRequestNotFound
	}
	if stored.Version != r.Version {
		return conversion.Request{}, generic.ErrConcurrentModification
	}
	r.Version++
	s.conversions[r.ID] = r
	return r, nil
}

func (s *Store) ListConversionsByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]conversion.Request, error) {
	defer s.rlock(ctx)()

	result := []conversion.Request{}
	for _, r := range s.conversions {
		if r.EmployeeID == employeeID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SubmittedAt.After(result[j].SubmittedAt) })
	return result, nil
}

func (s *Store) ListConversionsByStatus(ctx context.Context, status conversion.Status) ([]conversion.Request, error) {
	defer s.rlock(ctx)()

	result := []conversion.Request{}
	for _, r := range s.conversions {
		if r.Status == status {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SubmittedAt.Before(result[j].SubmittedAt) })
	return result, nil
}

// =============================================================================
// RESCHEDULE REQUESTS
// =============================================================================

func (s *Store) CreateReschedule(ctx context.Context, r reschedule.Request) (reschedule.Request, error) {
	defer s.lock(ctx)()

	if _, exists := s.reschedules[r.ID]; exists {
		return reschedule.Request{}, generic.ErrConcurrentModification
	}
	r.Version = 1
	s.reschedules[r.ID] = r
	return r, nil
}

func (s *Store) GetReschedule(ctx context.Context, id generic.RequestID) (reschedule.Request, error) {
	defer s.rlock(ctx)()

	r, ok := s.reschedules[id]
	if !ok {
		return reschedule.Request{}, generic.ErrRequestNotFound
	}
	return r, nil
}

func (s *Store) UpdateReschedule(ctx context.Context, r reschedule.Request) (reschedule.Request, error) {
	defer s.lock(ctx)()

	stored, ok := s.reschedules[r.ID]
	if !ok {
		return reschedule.Request{}, generic.ErrRequestNotFound
	}
	if stored.Version != r.Version {
		return reschedule.Request{}, generic.ErrConcurrentModification
	}
	r.Version++
	s.reschedules[r.ID] = r
	return r, nil
}

func (s *Store) ListReschedulesByEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]reschedule.Request, error) {
	return s.filterReschedules(ctx, func(r reschedule.Request) bool { return r.EmployeeID == employeeID }, true)
}

func (s *Store) ListReschedulesByStatus(ctx context.Context, status reschedule.Status) ([]reschedule.Request, error) {
	return s.filterReschedules(ctx, func(r reschedule.Request) bool { return r.Status == status }, false)
}

func (s *Store) ListReschedulesByLeave(ctx context.Context, leaveID generic.RequestID) ([]reschedule.Request, error) {
	return s.filterReschedules(ctx, func(r reschedule.Request) bool { return r.OriginalLeaveID == leaveID }, false)
}

func (s *Store) filterReschedules(ctx context.Context, keep func(reschedule.Request) bool, newestFirst bool) ([]reschedule.Request, error) {
	defer s.rlock(ctx)()

	result := []reschedule.Request{}
	for _, r := range s.reschedules {
		if keep(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if newestFirst {
			return result[i].SubmittedAt.After(result[j].SubmittedAt)
		}
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}
