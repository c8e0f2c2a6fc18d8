package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Whether the service considers itself ready (1) or not (0).",
	})
)

// Admission-control metrics.
var (
	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Rate limit decisions by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_store_errors_total",
			Help: "Backing store failures absorbed by fail-mode policy.",
		},
		[]string{"component"},
	)

	janitorSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_janitor_sweeps_total",
			Help: "Janitor cleanup cycles by result.",
		},
		[]string{"result"},
	)

	janitorRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "token_janitor_removed_total",
		Help: "Expired refresh token records deleted by the janitor.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		admissionDecisions, storeErrors, janitorSweeps, janitorRemoved,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady publishes the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CountDecision records a rate-limit decision for a tier.
func CountDecision(tier string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	admissionDecisions.WithLabelValues(tier, outcome).Inc()
}

// CountStoreError records an absorbed backing-store failure.
func CountStoreError(component string) {
	storeErrors.WithLabelValues(component).Inc()
}

// CountJanitorSweep records a cleanup cycle and how many rows it removed.
func CountJanitorSweep(removed int64, err error) {
	if err != nil {
		janitorSweeps.WithLabelValues("error").Inc()
		return
	}
	janitorSweeps.WithLabelValues("ok").Inc()
	janitorRemoved.Add(float64(removed))
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
