/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     zap request logging (method, path, status, duration)
  4. Metrics:    http_requests_total by route pattern
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for frontends

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint
  /api/employees/*      Accounts and per-employee request lists
  /api/accruals/*       Monthly accrual
  /api/conversions/*    VL monetization workflow
  /api/reschedules/*    Leave reschedule workflow
  /api/scenarios/*      Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/leavecredits/serve.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/leave-credits/observability"
)

// RouterOptions tunes the outer surface of the router.
type RouterOptions struct {
	AllowedOrigins []string
	MetricsPath    string // empty disables the endpoint
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(requestMetrics(h.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.MetricsPath != "" && h.Metrics != nil {
		r.Handle(opts.MetricsPath, h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/accounts", h.ListAccounts)
			r.Get("/accounts/{code}", h.GetAccount)
			r.Put("/accounts/{code}", h.OverrideBalance)
			r.Get("/accounts/{code}/transactions", h.ListTransactions)
			r.Get("/conversions", h.ListEmployeeConversions)
			r.Get("/reschedules", h.ListEmployeeReschedules)
		})

		// Accrual routes
		r.Route("/accruals", func(r chi.Router) {
			r.Post("/", h.RunAccrual)
			r.Get("/runs", h.ListAccrualRuns)
			r.Get("/status", h.AccrualStatus)
		})

		// Conversion routes
		r.Route("/conversions", func(r chi.Router) {
			r.Post("/", h.SubmitConversion)
			r.Get("/", h.ListConversions)
			r.Get("/{id}", h.GetConversion)
			r.Post("/{id}/approve", h.ApproveConversion)
			r.Post("/{id}/reject", h.RejectConversion)
		})

		// Reschedule routes
		r.Route("/reschedules", func(r chi.Router) {
			r.Post("/", h.SubmitReschedule)
			r.Get("/", h.ListReschedules)
			r.Get("/{id}", h.GetReschedule)
			r.Post("/{id}/approve", h.ApproveReschedule)
			r.Post("/{id}/reject", h.RejectReschedule)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = observability.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middlewareRequestID(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// requestMetrics counts requests by route pattern, not raw path, to keep
// label cardinality bounded.
func requestMetrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequest(r.Method, route, status)
		})
	}
}

func middlewareRequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
