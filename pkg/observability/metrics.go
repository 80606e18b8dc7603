package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionRecorder receives measurements from the session core
type SessionRecorder interface {
	Transition(app, from, to string)
	Cascade(app, role, trigger string)
	LogoutSignal(app, outcome string)
	RedirectSuppressed(app string)
	ProviderCall(app, op, outcome string, duration time.Duration)
	StorageCleared(app string, entries int)
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionTransitionsTotal *prometheus.CounterVec
	CascadesTotal           *prometheus.CounterVec
	LogoutSignalsTotal      *prometheus.CounterVec
	RedirectsSuppressed     *prometheus.CounterVec
	ProviderCallsTotal      *prometheus.CounterVec
	ProviderCallDuration    *prometheus.HistogramVec
	StorageClearsTotal      *prometheus.CounterVec
	StorageEntriesCleared   *prometheus.CounterVec
}

var _ SessionRecorder = (*Metrics)(nil)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssosync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssosync_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		SessionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_session_transitions_total",
				Help: "Session state transitions",
			},
			[]string{"app", "from", "to"},
		),
		CascadesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_cascades_total",
				Help: "Forced logouts propagated from an app instance",
			},
			[]string{"app", "role", "trigger"},
		),
		LogoutSignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_logout_signals_total",
				Help: "Logout signals observed by the hub",
			},
			[]string{"app", "outcome"},
		),
		RedirectsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_redirects_suppressed_total",
				Help: "Navigation attempts dropped because another was in flight",
			},
			[]string{"app"},
		),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_provider_calls_total",
				Help: "Calls into the identity provider client",
			},
			[]string{"app", "op", "outcome"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssosync_provider_call_duration_seconds",
				Help:    "Identity provider call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"app", "op"},
		),
		StorageClearsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_storage_clears_total",
				Help: "Clear-all operations on per-origin credential storage",
			},
			[]string{"app"},
		),
		StorageEntriesCleared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_storage_entries_cleared_total",
				Help: "Credential entries removed by clear-all",
			},
			[]string{"app"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SessionTransitionsTotal,
		m.CascadesTotal,
		m.LogoutSignalsTotal,
		m.RedirectsSuppressed,
		m.ProviderCallsTotal,
		m.ProviderCallDuration,
		m.StorageClearsTotal,
		m.StorageEntriesCleared,
	)

	return m
}

func (m *Metrics) Transition(app, from, to string) {
	m.SessionTransitionsTotal.WithLabelValues(app, from, to).Inc()
}

func (m *Metrics) Cascade(app, role, trigger string) {
	m.CascadesTotal.WithLabelValues(app, role, trigger).Inc()
}

func (m *Metrics) LogoutSignal(app, outcome string) {
	m.LogoutSignalsTotal.WithLabelValues(app, outcome).Inc()
}

func (m *Metrics) RedirectSuppressed(app string) {
	m.RedirectsSuppressed.WithLabelValues(app).Inc()
}

func (m *Metrics) ProviderCall(app, op, outcome string, duration time.Duration) {
	m.ProviderCallsTotal.WithLabelValues(app, op, outcome).Inc()
	m.ProviderCallDuration.WithLabelValues(app, op).Observe(duration.Seconds())
}

func (m *Metrics) StorageCleared(app string, entries int) {
	m.StorageClearsTotal.WithLabelValues(app).Inc()
	m.StorageEntriesCleared.WithLabelValues(app).Add(float64(entries))
}

// NopRecorder discards every measurement
type NopRecorder struct{}

func (NopRecorder) Transition(app, from, to string)                              {}
func (NopRecorder) Cascade(app, role, trigger string)                            {}
func (NopRecorder) LogoutSignal(app, outcome string)                             {}
func (NopRecorder) RedirectSuppressed(app string)                                {}
func (NopRecorder) ProviderCall(app, op, outcome string, duration time.Duration) {}
func (NopRecorder) StorageCleared(app string, entries int)                       {}

// MultiRecorder fans measurements out to several recorders
type MultiRecorder []SessionRecorder

func (m MultiRecorder) Transition(app, from, to string) {
	for _, r := range m {
		r.Transition(app, from, to)
	}
}

func (m MultiRecorder) Cascade(app, role, trigger string) {
	for _, r := range m {
		r.Cascade(app, role, trigger)
	}
}

func (m MultiRecorder) LogoutSignal(app, outcome string) {
	for _, r := range m {
		r.LogoutSignal(app, outcome)
	}
}

func (m MultiRecorder) RedirectSuppressed(app string) {
	for _, r := range m {
		r.RedirectSuppressed(app)
	}
}

func (m MultiRecorder) ProviderCall(app, op, outcome string, duration time.Duration) {
	for _, r := range m {
		r.ProviderCall(app, op, outcome, duration)
	}
}

func (m MultiRecorder) StorageCleared(app string, entries int) {
	for _, r := range m {
		r.StorageCleared(app, entries)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template so path parameters do not
// explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
