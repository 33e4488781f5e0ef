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
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_jobs_enqueued_total",
			Help: "Total notification jobs enqueued by channel and priority",
		},
		[]string{"channel", "priority"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_jobs_processed_total",
			Help: "Total delivery attempts by outcome and channel",
		},
		[]string{"outcome", "channel"},
	)

	attemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_attempt_duration_seconds",
			Help:    "Provider send call latency per channel",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_queue_depth",
			Help: "Jobs waiting in the queue by state (pending, delayed, processing)",
		},
		[]string{"state"},
	)

	contactSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_contact_submissions_total",
			Help: "Contact form submissions by outcome (accepted, dropped)",
		},
		[]string{"outcome"},
	)

	idempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_idempotency_replays_total",
			Help: "Intake requests replayed from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_rate_limit_rejections_total",
			Help: "Contact form requests rejected by the rate limiter",
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

// RecordJobEnqueued records a job accepted by the intake API
func RecordJobEnqueued(channel string, priority int) {
	jobsEnqueued.WithLabelValues(channel, strconv.Itoa(priority)).Inc()
}

// RecordJobProcessed records one delivery attempt outcome
// (sent, retried, or failed).
func RecordJobProcessed(outcome, channel string) {
	jobsProcessed.WithLabelValues(outcome, channel).Inc()
}

// RecordAttemptDuration records how long a provider send call took
func RecordAttemptDuration(channel string, d time.Duration) {
	attemptDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// SetQueueDepth sets the current queue depth for one state
func SetQueueDepth(state string, n int64) {
	queueDepth.WithLabelValues(state).Set(float64(n))
}

// RecordContactSubmission records a contact form outcome
func RecordContactSubmission(outcome string) {
	contactSubmissions.WithLabelValues(outcome).Inc()
}

// RecordIdempotencyReplay records a request served from the idempotency cache
func RecordIdempotencyReplay() {
	idempotencyReplays.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
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
