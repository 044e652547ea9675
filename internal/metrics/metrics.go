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
			Name: "keywatch_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keywatch_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	messagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keywatch_messages_consumed_total",
			Help: "Group chat messages pulled from the listener stream",
		},
	)

	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_evaluations_total",
			Help: "Subscription evaluations by terminal outcome",
		},
		[]string{"outcome"},
	)

	stageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keywatch_stage_latency_seconds",
			Help:    "Per-stage cascade latency",
			Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5, 15},
		},
		[]string{"stage"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_notifications_sent_total",
			Help: "Notifications delivered, split by instant vs delayed path",
		},
		[]string{"path", "channel"},
	)

	delayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keywatch_delay_queue_depth",
			Help: "Entries currently waiting in the delayed delivery queue",
		},
	)

	embedCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_embed_cache_total",
			Help: "Message embedding cache lookups by result",
		},
		[]string{"result"},
	)

	verificationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keywatch_verification_retries_total",
			Help: "Retried calls to the verification service",
		},
	)

	verificationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keywatch_verification_fallbacks_total",
			Help: "Verification calls that exhausted retries and failed closed",
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

// RecordMessageConsumed counts one message pulled from the stream
func RecordMessageConsumed() {
	messagesConsumed.Inc()
}

// RecordEvaluation records a cascade terminal outcome
func RecordEvaluation(outcome string) {
	evaluationsTotal.WithLabelValues(outcome).Inc()
}

// RecordStageLatency records how long one cascade stage took
func RecordStageLatency(stage string, d time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordNotificationSent records a delivered notification
func RecordNotificationSent(path, channel string) {
	notificationsSent.WithLabelValues(path, channel).Inc()
}

// SetDelayQueueDepth sets the current delayed queue size
func SetDelayQueueDepth(n int) {
	delayQueueDepth.Set(float64(n))
}

// RecordEmbedCache records an embedding cache hit or miss
func RecordEmbedCache(result string) {
	embedCacheHits.WithLabelValues(result).Inc()
}

// RecordVerificationRetry counts one retried verification call
func RecordVerificationRetry() {
	verificationRetries.Inc()
}

// RecordVerificationFallback counts one fail-closed verification fallback
func RecordVerificationFallback() {
	verificationFallbacks.Inc()
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
