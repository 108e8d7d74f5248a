package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "physionotify_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "physionotify_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	dispatchSubjects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "physionotify_dispatch_subjects_total",
			Help: "Physios processed by dispatch batches, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	dispatchMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "physionotify_dispatch_messages_total",
			Help: "Emails attempted by dispatch batches, by recipient role and delivery status",
		},
		[]string{"role", "status"},
	)

	dispatchBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "physionotify_dispatch_batch_duration_seconds",
			Help:    "Wall time of whole dispatch batches",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "physionotify_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	idempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "physionotify_idempotency_replays_total",
			Help: "Dispatch responses replayed from the idempotency cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatchSubject records the outcome of one physio within a batch
func RecordDispatchSubject(kind string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	dispatchSubjects.WithLabelValues(kind, outcome).Inc()
}

// RecordDispatchMessage records one email attempt by role and delivery status
func RecordDispatchMessage(role, status string) {
	dispatchMessages.WithLabelValues(role, status).Inc()
}

// RecordBatchDuration records the wall time of a whole dispatch batch
func RecordBatchDuration(kind string, duration time.Duration) {
	dispatchBatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// RecordIdempotencyReplay records a dispatch response served from cache
func RecordIdempotencyReplay() {
	idempotencyReplays.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
