package observability_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-credits/observability"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *observability.Metrics

	assert.NotPanics(t, func() {
		m.AccrualApplied("VL", 1.25)
		m.AccrualRun(true)
		m.ApprovalAction("conversion", "hr", "accepted")
		m.Debited(10)
		m.Conflict("ledger")
		m.HTTPRequest("GET", "/healthz", 200)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Counters(t *testing.T) {
	m := observability.NewMetrics()

	m.AccrualApplied("VL", 1.25)
	m.AccrualApplied("VL", 1.25)
	m.AccrualRun(false)
	m.AccrualRun(true)
	m.AccrualRun(true)
	m.ApprovalAction("conversion", "admin", "accepted")
	m.Debited(10)
	m.Conflict("ledger")
	m.HTTPRequest("POST", "/api/conversions/", 201)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, line := range []string{
		`leavecredits_accrual_credits_applied_total{code="VL"} 2.5`,
		`leavecredits_accrual_runs_total{result="applied"} 1`,
		`leavecredits_accrual_runs_total{result="already_credited"} 2`,
		`leavecredits_approval_actions_total{outcome="accepted",stage="admin",workflow="conversion"} 1`,
		`leavecredits_conversion_debited_credits_total 10`,
		`leavecredits_concurrency_conflicts_total{component="ledger"} 1`,
		`leavecredits_http_requests_total{method="POST",route="/api/conversions/",status="201"} 1`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	logger, err := observability.NewLogger(observability.LoggerConfig{Level: "debug", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	logger.Debug("accrual applied")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"accrual applied"`)
	assert.Contains(t, string(data), `"level":"debug"`)
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	logger, err := observability.NewLogger(observability.LoggerConfig{Level: "chatty", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, observability.OrNop(nil))
}
