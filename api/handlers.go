/*
handlers.go - HTTP API handlers for the leave-credit service

PURPOSE:
  Exposes the credit ledger and both approval workflows via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  domain logic. Handlers hold no business rules of their own.

ENDPOINTS:
  Accounts:
    GET    /api/employees/{id}/accounts                       All accounts
    GET    /api/employees/{id}/accounts/{code}                One account
    PUT    /api/employees/{id}/accounts/{code}                HR override
    GET    /api/employees/{id}/accounts/{code}/transactions   History

  Accruals:
    POST   /api/accruals                    Run monthly accrual
    GET    /api/accruals/runs?org_id=       Past runs
    GET    /api/accruals/status?org_id=&period=

  Conversions:
    POST   /api/conversions                 Submit
    GET    /api/conversions?status=         Approver queue
    GET    /api/conversions/{id}
    POST   /api/conversions/{id}/approve    {acting_role, remarks}
    POST   /api/conversions/{id}/reject     {acting_role, remarks}
    GET    /api/employees/{id}/conversions

  Reschedules:
    Same shape as conversions under /api/reschedules.

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with HTTP status:
  - 400: Validation errors, invalid input
  - 403: Acting role cannot act on the current stage
  - 404: Resource not found
  - 409: Terminal / already advanced / concurrent change / insufficient balance
  - 422: Eligibility rule failed (code names the rule)
  - 500: Internal errors

SECURITY NOTE:
  The acting role is taken from the request body. Authentication is
  expected in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-credits/conversion"
	"github.com/warp/leave-credits/generic"
	"github.com/warp/leave-credits/observability"
	"github.com/warp/leave-credits/reschedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Seeder writes collaborator data owned by other systems (employees and
// ordinary leave requests). Only demo scenarios use it.
type Seeder interface {
	SaveEmployee(ctx context.Context, emp generic.Employee) error
	SaveLeaveRequest(ctx context.Context, lr generic.LeaveRequest) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger      *generic.CreditLedger
	Conversions *conversion.Workflow
	Reschedules *reschedule.Workflow
	Seeder      Seeder
	Logger      *zap.Logger
	Metrics     *observability.Metrics

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. Logger and metrics come from the ledger.
func NewHandler(ledger *generic.CreditLedger, conversions *conversion.Workflow, reschedules *reschedule.Workflow, seeder Seeder) *Handler {
	return &Handler{
		Ledger:      ledger,
		Conversions: conversions,
		Reschedules: reschedules,
		Seeder:      seeder,
		Logger:      observability.OrNop(ledger.Logger),
		Metrics:     ledger.Metrics,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns every leave account of an employee.
// GET /api/employees/{id}/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))

	accounts, err := h.Ledger.Accounts(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns one account. A missing account reads as balance 0.
// GET /api/employees/{id}/accounts/{code}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	code, err := generic.LookupLeaveCode(chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	acct, err := h.Ledger.Account(r.Context(), id, code)
	if errors.Is(err, generic.ErrAccountNotFound) {
		acct = generic.Account{EmployeeID: id, Code: code}
		err = nil
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// OverrideBalance replaces a balance (HR import).
// PUT /api/employees/{id}/accounts/{code}
func (h *Handler) OverrideBalance(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	code, err := generic.LookupLeaveCode(chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req OverrideRequest
	if !h.decode(w, r, &req) {
		return
	}

	acct, err := h.Ledger.Override(r.Context(), id, code, req.Balance, req.ImportedAt, req.Actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListTransactions returns the account history, oldest first.
// GET /api/employees/{id}/accounts/{code}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	code, err := generic.LookupLeaveCode(chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	txs, err := h.Ledger.History(r.Context(), id, code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

// RunAccrual credits every active employee of an org for one month.
// POST /api/accruals
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrueRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OrgID == "" {
		h.writeError(w, r, &generic.ValidationError{Field: "org_id", Code: "required", Message: "org_id is required"})
		return
	}

	period := h.Ledger.CurrentPeriod()
	if req.Period != "" {
		p, err := generic.ParsePeriod(req.Period)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		period = p
	}

	ctx, cancel := generic.AccrualContext(r.Context())
	defer cancel()

	result, err := h.Ledger.AccrueMonthly(ctx, generic.OrgID(req.OrgID), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAccrualRuns returns recorded runs for an org, newest first.
// GET /api/accruals/runs?org_id=
func (h *Handler) ListAccrualRuns(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org_id")
	if org == "" {
		h.writeError(w, r, &generic.ValidationError{Field: "org_id", Code: "required", Message: "org_id is required"})
		return
	}

	runs, err := h.Ledger.ListAccrualRuns(r.Context(), generic.OrgID(org))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]AccrualRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAccrualRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AccrualStatus reports whether a period was already credited for an org.
// GET /api/accruals/status?org_id=&period=
func (h *Handler) AccrualStatus(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org_id")
	if org == "" {
		h.writeError(w, r, &generic.ValidationError{Field: "org_id", Code: "required", Message: "org_id is required"})
		return
	}

	period := h.Ledger.CurrentPeriod()
	if raw := r.URL.Query().Get("period"); raw != "" {
		p, err := generic.ParsePeriod(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		period = p
	}

	credited, err := h.Ledger.PeriodCredited(r.Context(), generic.OrgID(org), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccrualStatusDTO{OrgID: org, Period: period, Credited: credited})
}

// =============================================================================
// CONVERSION HANDLERS
// =============================================================================

// SubmitConversion files a new conversion request.
// POST /api/conversions
func (h *Handler) SubmitConversion(w http.ResponseWriter, r *http.Request) {
	var req SubmitConversionRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := conversion.SubmitInput{
		EmployeeID: generic.EmployeeID(req.EmployeeID),
		Credits:    req.Credits,
	}
	if req.LeaveCode != "" {
		// Unknown codes are still passed through so the workflow reports
		// wrong_leave_type rather than a lookup failure.
		in.Code = generic.LeaveCode(req.LeaveCode)
		if code, err := generic.LookupLeaveCode(req.LeaveCode); err == nil {
			in.Code = code
		}
	}

	out, err := h.Conversions.Submit(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversionDTO(out))
}

// GetConversion returns one conversion request.
// GET /api/conversions/{id}
func (h *Handler) GetConversion(w http.ResponseWriter, r *http.Request) {
	out, err := h.Conversions.Get(r.Context(), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversionDTO(out))
}

// ListConversions returns requests in a status, oldest first. Without a
// status it returns every request still awaiting an approver.
// GET /api/conversions?status=
func (h *Handler) ListConversions(w http.ResponseWriter, r *http.Request) {
	statuses := []conversion.Status{conversion.StatusPending, conversion.StatusHRApproved, conversion.StatusDeptHeadApproved}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := conversion.ParseStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		statuses = []conversion.Status{st}
	}

	var merged []conversion.Request
	for _, st := range statuses {
		list, err := h.Conversions.ListByStatus(r.Context(), st)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		merged = append(merged, list...)
	}
	// Per-status lists are each oldest first; keep that across the merge.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].SubmittedAt.Before(merged[j].SubmittedAt)
	})

	dtos := make([]ConversionDTO, len(merged))
	for i, c := range merged {
		dtos[i] = toConversionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListEmployeeConversions returns an employee's requests, newest first.
// GET /api/employees/{id}/conversions
func (h *Handler) ListEmployeeConversions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Conversions.ListByEmployee(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ConversionDTO, len(list))
	for i, c := range list {
		dtos[i] = toConversionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveConversion approves the current stage.
// POST /api/conversions/{id}/approve
func (h *Handler) ApproveConversion(w http.ResponseWriter, r *http.Request) {
	id, role, req, ok := h.action(w, r)
	if !ok {
		return
	}
	out, err := h.Conversions.ApproveStage(r.Context(), id, role, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversionDTO(out))
}

// RejectConversion rejects at the current stage. Remarks are required.
// POST /api/conversions/{id}/reject
func (h *Handler) RejectConversion(w http.ResponseWriter, r *http.Request) {
	id, role, req, ok := h.action(w, r)
	if !ok {
		return
	}
	out, err := h.Conversions.Reject(r.Context(), id, role, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversionDTO(out))
}

// =============================================================================
// RESCHEDULE HANDLERS
// =============================================================================

// SubmitReschedule files a new reschedule request.
// POST /api/reschedules
func (h *Handler) SubmitReschedule(w http.ResponseWriter, r *http.Request) {
	var req SubmitRescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.Reschedules.Submit(r.Context(), reschedule.SubmitInput{
		EmployeeID:      generic.EmployeeID(req.EmployeeID),
		OriginalLeaveID: generic.RequestID(req.OriginalLeaveID),
		ProposedDates:   req.ProposedDates,
		Reason:          req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRescheduleDTO(out))
}

// GetReschedule returns one reschedule request.
// GET /api/reschedules/{id}
func (h *Handler) GetReschedule(w http.ResponseWriter, r *http.Request) {
	out, err := h.Reschedules.Get(r.Context(), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRescheduleDTO(out))
}

// ListReschedules returns requests in a status, oldest first. Without a
// status it returns both pending states.
// GET /api/reschedules?status=
func (h *Handler) ListReschedules(w http.ResponseWriter, r *http.Request) {
	statuses := []reschedule.Status{reschedule.StatusPendingHR, reschedule.StatusPendingDeptHead}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := reschedule.ParseStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		statuses = []reschedule.Status{st}
	}

	var merged []reschedule.Request
	for _, st := range statuses {
		list, err := h.Reschedules.ListByStatus(r.Context(), st)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		merged = append(merged, list...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].SubmittedAt.Before(merged[j].SubmittedAt)
	})

	dtos := make([]RescheduleDTO, len(merged))
	for i, rr := range merged {
		dtos[i] = toRescheduleDTO(rr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListEmployeeReschedules returns an employee's requests, newest first.
// GET /api/employees/{id}/reschedules
func (h *Handler) ListEmployeeReschedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reschedules.ListByEmployee(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]RescheduleDTO, len(list))
	for i, rr := range list {
		dtos[i] = toRescheduleDTO(rr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveReschedule approves the current stage.
// POST /api/reschedules/{id}/approve
func (h *Handler) ApproveReschedule(w http.ResponseWriter, r *http.Request) {
	id, role, req, ok := h.action(w, r)
	if !ok {
		return
	}
	out, err := h.Reschedules.ApproveStage(r.Context(), id, role, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRescheduleDTO(out))
}

// RejectReschedule rejects at the current stage. Remarks are required.
// POST /api/reschedules/{id}/reject
func (h *Handler) RejectReschedule(w http.ResponseWriter, r *http.Request) {
	id, role, req, ok := h.action(w, r)
	if !ok {
		return
	}
	out, err := h.Reschedules.Reject(r.Context(), id, role, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRescheduleDTO(out))
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// action parses the id path parameter and the approve/reject body.
func (h *Handler) action(w http.ResponseWriter, r *http.Request) (generic.RequestID, generic.Role, ActionRequest, bool) {
	var req ActionRequest
	if !h.decode(w, r, &req) {
		return "", "", req, false
	}
	role, err := generic.ParseRole(req.ActingRole)
	if err != nil {
		h.writeError(w, r, err)
		return "", "", req, false
	}
	return generic.RequestID(chi.URLParam(r, "id")), role, req, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "invalid_payload",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to a status and stable code. Server errors are logged
// with the request id; client errors only at debug.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	code := generic.ReasonCode(err)

	fields := []zap.Field{
		zap.String("request_id", middlewareRequestID(r)),
		zap.String("path", r.URL.Path),
		zap.String("code", code),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", fields...)
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: code})
		return
	}
	h.Logger.Debug("request rejected", fields...)
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: code, Details: err.Error()})
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrConcurrentBalanceChange):
		return http.StatusConflict
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrEligibility):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrUnauthorizedStage):
		return http.StatusForbidden
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrInvalidState),
		errors.Is(err, generic.ErrInsufficientBalance),
		errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
