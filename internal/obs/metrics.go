package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics for the demo transport.
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

// Decision metrics for the trust core itself.
var (
	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_auth_attempts_total",
			Help: "Authentication attempts by credential kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	resolveDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_resolve_decisions_total",
			Help: "Permission resolutions by decision reason.",
		},
		[]string{"reason"},
	)

	resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trust_resolve_duration_seconds",
		Help:    "Latency of single-node permission resolution.",
		Buckets: prometheus.DefBuckets,
	})

	rateLimitDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_rate_limit_denials_total",
			Help: "Rate limit denials by key class.",
		},
		[]string{"class"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authAttempts, resolveDecisions, resolveDuration, rateLimitDenials,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth records the outcome of one authentication attempt.
func ObserveAuth(kind, result string) {
	authAttempts.WithLabelValues(kind, result).Inc()
}

// ObserveResolve records a permission resolution and its latency.
func ObserveResolve(reason string, d time.Duration) {
	resolveDecisions.WithLabelValues(reason).Inc()
	resolveDuration.Observe(d.Seconds())
}

// ObserveRateLimitDenial records a denied rate-limit check. The class is the
// key prefix (e.g. "authn"), never the full key, to keep cardinality bounded.
func ObserveRateLimitDenial(class string) {
	rateLimitDenials.WithLabelValues(class).Inc()
}

// Instrument wraps an http.Handler with request count/latency/in-flight metrics.
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

// statusWriter captures the response code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
