package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by all handlers.
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
)

// Pipeline metrics.
var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidence_submissions_total",
			Help: "Incidence submissions by pipeline outcome.",
		},
		[]string{"path", "outcome"},
	)

	relayRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_relay_retries_total",
		Help: "Retried media relay attempts.",
	})

	relayFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_relay_failures_total",
			Help: "Media relay operations that exhausted all attempts.",
		},
		[]string{"op"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_jobs_total",
			Help: "Background submission jobs by terminal status.",
		},
		[]string{"status"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		submissionsTotal, relayRetriesTotal, relayFailuresTotal, jobsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission records a submission outcome for the given pipeline path
// ("incidence" or "fixation").
func ObserveSubmission(path, outcome string) {
	submissionsTotal.WithLabelValues(path, outcome).Inc()
}

// ObserveRelayRetry counts one retried relay attempt.
func ObserveRelayRetry() { relayRetriesTotal.Inc() }

// ObserveRelayFailure counts a relay operation that gave up.
func ObserveRelayFailure(op string) { relayFailuresTotal.WithLabelValues(op).Inc() }

// ObserveJob records a background job reaching a terminal status.
func ObserveJob(status string) { jobsTotal.WithLabelValues(status).Inc() }

// CanonicalPath collapses per-resource identifiers so metric cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	if len(parts) == 4 && parts[1] == "api" && parts[2] == "jobs" && parts[3] != "" && parts[3] != "stream" {
		return "/api/jobs/:id"
	}
	return path
}

// Instrument wraps the handler with request counting, latency and in-flight
// tracking.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// statusWriter captures the response code for metrics and logs.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the metrics wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
