// Package obs holds the Prometheus metrics of the booking service.
package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of one service instance.
type Metrics struct {
	registry prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	bookings          *prometheus.CounterVec
	conflicts         prometheus.Counter
	statusTransitions prometheus.Counter
	sessionsIssued    *prometheus.CounterVec
	evictions         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Meeting operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_conflicts_total",
			Help: "Bookings rejected because the room was taken.",
		}),
		statusTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_status_transitions_total",
			Help: "Meetings moved by the status sweeper.",
		}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_credentials_issued_total",
			Help: "Credentials issued by reason.",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_device_evictions_total",
			Help: "Devices evicted by the per-user device cap.",
		}),
	}
	reg.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.bookings, m.conflicts, m.statusTransitions, m.sessionsIssued, m.evictions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBooking counts one meeting operation. kind is the error kind, or
// empty on success.
func (m *Metrics) ObserveBooking(operation, kind string) {
	if m == nil {
		return
	}
	outcome := "ok"
	if kind != "" {
		outcome = kind
	}
	m.bookings.WithLabelValues(operation, outcome).Inc()
	if kind == "conflict" {
		m.conflicts.Inc()
	}
}

// ObserveTransitions adds n sweeper transitions.
func (m *Metrics) ObserveTransitions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.statusTransitions.Add(float64(n))
}

// ObserveCredential counts an issued credential; reason is login or refresh.
func (m *Metrics) ObserveCredential(reason string) {
	if m == nil {
		return
	}
	m.sessionsIssued.WithLabelValues(reason).Inc()
}

// ObserveEviction counts a device removed by the cap.
func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// Instrument measures request count, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath replaces identifiers with placeholders so labels stay
// bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) >= 2 && (parts[0] == "rooms" || parts[0] == "meetings" || parts[0] == "devices"):
		if parts[0] == "rooms" && parts[1] == "available" {
			break
		}
		parts[1] = ":id"
		if len(parts) == 4 && parts[2] == "participants" {
			parts[3] = ":user_id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
