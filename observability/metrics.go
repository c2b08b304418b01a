package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leavecredits"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	AccrualCreditsApplied *prometheus.CounterVec
	AccrualRuns           *prometheus.CounterVec
	ApprovalActions       *prometheus.CounterVec
	ConversionDebited     prometheus.Counter
	ConcurrencyConflicts  *prometheus.CounterVec
	HTTPRequests          *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AccrualCreditsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "credits_applied_total",
			Help:      "Leave credits added by monthly accrual.",
		}, []string{"code"}),

		AccrualRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "runs_total",
			Help:      "Monthly accrual invocations by result (applied, already_credited).",
		}, []string{"result"}),

		ApprovalActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "actions_total",
			Help:      "Approval stage actions by workflow, stage and outcome.",
		}, []string{"workflow", "stage", "outcome"}),

		ConversionDebited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "debited_credits_total",
			Help:      "VL credits debited by fully approved conversions.",
		}),

		ConcurrencyConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Optimistic version conflicts that survived the retry.",
		}, []string{"component"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AccrualApplied(code string, credits float64) {
	if m == nil {
		return
	}
	m.AccrualCreditsApplied.WithLabelValues(code).Add(credits)
}

func (m *Metrics) AccrualRun(alreadyCredited bool) {
	if m == nil {
		return
	}
	result := "applied"
	if alreadyCredited {
		result = "already_credited"
	}
	m.AccrualRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) ApprovalAction(workflow, stage, outcome string) {
	if m == nil {
		return
	}
	m.ApprovalActions.WithLabelValues(workflow, stage, outcome).Inc()
}

func (m *Metrics) Debited(credits float64) {
	if m == nil {
		return
	}
	m.ConversionDebited.Add(credits)
}

func (m *Metrics) Conflict(component string) {
	if m == nil {
		return
	}
	m.ConcurrencyConflicts.WithLabelValues(component).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
