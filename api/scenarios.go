/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the stores with realistic
	data for demos. Each scenario creates employees, approved leave
	requests and imported balances that exercise one workflow.

AVAILABLE SCENARIOS:
	new-hire:             Employee with no accounts yet; run an accrual
	conversion-ready:     15 VL credits, ready for a 10-credit conversion
	insufficient-balance: 8 VL credits; any conversion is refused
	reschedule:           Employee and department head with approved leave

HOW SCENARIOS WORK:
 1. Upsert the org's approvers (hr, dept_head, admin)
 2. Upsert the scenario's employees
 3. Upsert approved leave requests
 4. Import balances through Override (recorded in history)

	Loading is repeatable: ids are fixed, so loading twice overwrites
	the same rows and appends one more override entry per balance.

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "conversion-ready"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add a scenarioData entry in scenarioFixtures

SEE ALSO:
  - handlers.go: Handler
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-credits/generic"
)

// DemoOrg is the org every scenario seeds.
const DemoOrg generic.OrgID = "demo-org"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-hire",
		Name:        "New Hire",
		Description: "Employee without accounts; monthly accrual creates SL and VL at 1.25",
	},
	{
		ID:          "conversion-ready",
		Name:        "Conversion Ready",
		Description: "15 VL credits imported; submit and approve a 10-credit conversion",
	},
	{
		ID:          "insufficient-balance",
		Name:        "Insufficient Balance",
		Description: "8 VL credits imported; conversions are refused with insufficient_balance",
	},
	{
		ID:          "reschedule",
		Name:        "Reschedule",
		Description: "Approved leave for an employee (hr then dept_head) and a dept head (hr only)",
	},
}

type seedBalance struct {
	EmployeeID generic.EmployeeID
	Code       generic.LeaveCode
	Balance    string
}

type scenarioData struct {
	Employees []generic.Employee
	Leaves    []generic.LeaveRequest
	Balances  []seedBalance
}

var approvers = []generic.Employee{
	{ID: "demo-hr", OrgID: DemoOrg, Name: "Helena Reyes", Role: generic.RoleHR, Department: "People", Active: true},
	{ID: "demo-head", OrgID: DemoOrg, Name: "Dario Cruz", Role: generic.RoleDeptHead, Department: "Engineering", Active: true},
	{ID: "demo-admin", OrgID: DemoOrg, Name: "Ada Santos", Role: generic.RoleAdmin, Department: "Office", Active: true},
}

func scenarioFixtures(now time.Time) map[string]scenarioData {
	today := generic.DateOf(now)
	nextMonth := generic.DateOf(now.AddDate(0, 1, 0))

	return map[string]scenarioData{
		"new-hire": {
			Employees: []generic.Employee{
				{ID: "demo-new-hire", OrgID: DemoOrg, Name: "Nina Ocampo", Role: generic.RoleEmployee, Department: "Engineering", Active: true},
			},
		},
		"conversion-ready": {
			Employees: []generic.Employee{
				{ID: "demo-saver", OrgID: DemoOrg, Name: "Sam Villanueva", Role: generic.RoleEmployee, Department: "Engineering", Active: true},
			},
			Balances: []seedBalance{
				{EmployeeID: "demo-saver", Code: generic.LeaveVL, Balance: "15"},
				{EmployeeID: "demo-saver", Code: generic.LeaveSL, Balance: "6.25"},
			},
		},
		"insufficient-balance": {
			Employees: []generic.Employee{
				{ID: "demo-short", OrgID: DemoOrg, Name: "Tomas Lim", Role: generic.RoleEmployee, Department: "Finance", Active: true},
			},
			Balances: []seedBalance{
				{EmployeeID: "demo-short", Code: generic.LeaveVL, Balance: "8"},
			},
		},
		"reschedule": {
			Employees: []generic.Employee{
				{ID: "demo-traveler", OrgID: DemoOrg, Name: "Rosa Medina", Role: generic.RoleEmployee, Department: "Engineering", Active: true},
			},
			Leaves: []generic.LeaveRequest{
				{
					ID: "demo-leave-traveler", EmployeeID: "demo-traveler", Code: generic.LeaveVL,
					StartDate: nextMonth, EndDate: nextMonth.AddDays(2), TotalDays: 3,
					Status: generic.LeaveApproved, CreatedAt: now,
				},
				{
					ID: "demo-leave-head", EmployeeID: "demo-head", Code: generic.LeaveVL,
					StartDate: today.AddDays(7), EndDate: today.AddDays(8), TotalDays: 2,
					Status: generic.LeaveApproved, CreatedAt: now,
				},
			},
		},
	}
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario seeds one scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
		"org_id":      DemoOrg,
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	data, ok := scenarioFixtures(h.Ledger.Clock.Now())[id]
	if !ok {
		return &generic.ValidationError{Field: "scenario_id", Code: "unknown_scenario", Message: fmt.Sprintf("unknown scenario %q", id)}
	}
	if h.Seeder == nil {
		return fmt.Errorf("scenario loading requires a seeder")
	}

	for _, emp := range append(append([]generic.Employee(nil), approvers...), data.Employees...) {
		if err := h.Seeder.SaveEmployee(ctx, emp); err != nil {
			return fmt.Errorf("seed employee %s: %w", emp.ID, err)
		}
	}
	for _, lr := range data.Leaves {
		if err := h.Seeder.SaveLeaveRequest(ctx, lr); err != nil {
			return fmt.Errorf("seed leave request %s: %w", lr.ID, err)
		}
	}
	imported := h.Ledger.Clock.Now()
	for _, b := range data.Balances {
		if _, err := h.Ledger.Override(ctx, b.EmployeeID, b.Code, generic.MustParseDecimal(b.Balance), &imported, "scenario:"+id); err != nil {
			return fmt.Errorf("seed balance %s/%s: %w", b.EmployeeID, b.Code, err)
		}
	}

	h.Logger.Info("scenario loaded",
		zap.String("scenario_id", id),
		zap.Int("employees", len(data.Employees)),
		zap.Int("leaves", len(data.Leaves)),
		zap.Int("balances", len(data.Balances)),
	)
	return nil
}
