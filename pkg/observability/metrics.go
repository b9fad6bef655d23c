package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	PlanDecisionsTotal       *prometheus.CounterVec
	PermissionChecksTotal    *prometheus.CounterVec
	ApprovalTransitionsTotal *prometheus.CounterVec
	MatrixSavesTotal         *prometheus.CounterVec

	// Cache metrics
	MembershipCacheTotal *prometheus.CounterVec

	// Brokered file transfers
	PresignedURLsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// creates unregistered collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitework_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitework_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PlanDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitework_plan_decisions_total",
				Help: "Plan-limit guard decisions by check and outcome",
			},
			[]string{"check", "outcome"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitework_permission_checks_total",
				Help: "Permission checks by module, action and outcome",
			},
			[]string{"module", "action", "outcome"},
		),
		ApprovalTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitework_approval_transitions_total",
				Help: "Approval workflow actions by outcome",
			},
			[]string{"action", "outcome"},
		),
		MatrixSavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitework_matrix_saves_total",
				Help: "Permission matrix saves by outcome",
			},
			[]string{"outcome"},
		),
		MembershipCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitework_membership_cache_total",
				Help: "Membership cache lookups by result (hit, miss, refresh, error)",
			},
			[]string{"result"},
		),
		PresignedURLsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitework_presigned_urls_total",
				Help: "Presigned object URLs issued by direction",
			},
			[]string{"direction"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.PlanDecisionsTotal,
			m.PermissionChecksTotal,
			m.ApprovalTransitionsTotal,
			m.MatrixSavesTotal,
			m.MembershipCacheTotal,
			m.PresignedURLsTotal,
		)
	}

	return m
}

// Outcome labels shared by the authorization metrics
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
	OutcomeSuccess = "success"
)

// ObservePlanDecision counts one guard decision. Safe on a nil receiver.
func (m *Metrics) ObservePlanDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	m.PlanDecisionsTotal.WithLabelValues(check, outcome(allowed)).Inc()
}

// ObservePermissionCheck counts one permission check. Safe on a nil receiver.
func (m *Metrics) ObservePermissionCheck(module, action string, allowed bool, err error) {
	if m == nil {
		return
	}
	result := outcome(allowed)
	if err != nil {
		result = OutcomeError
	}
	m.PermissionChecksTotal.WithLabelValues(module, action, result).Inc()
}

// ObserveApprovalTransition counts one approval action
func (m *Metrics) ObserveApprovalTransition(action, result string) {
	if m == nil {
		return
	}
	m.ApprovalTransitionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveMatrixSave counts one matrix save
func (m *Metrics) ObserveMatrixSave(result string) {
	if m == nil {
		return
	}
	m.MatrixSavesTotal.WithLabelValues(result).Inc()
}

// ObserveMembershipCache counts one membership cache lookup result
func (m *Metrics) ObserveMembershipCache(result string) {
	if m == nil {
		return
	}
	m.MembershipCacheTotal.WithLabelValues(result).Inc()
}

// ObservePresign counts one issued presigned URL
func (m *Metrics) ObservePresign(direction string) {
	if m == nil {
		return
	}
	m.PresignedURLsTotal.WithLabelValues(direction).Inc()
}

func outcome(allowed bool) string {
	if allowed {
		return OutcomeAllowed
	}
	return OutcomeDenied
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeOf returns the route template for a request so label cardinality
// stays bounded; when nil the raw path is used.
func HTTPMetricsMiddleware(metrics *Metrics, routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeOf != nil {
				route = routeOf(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
