package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "healthrecords"

// Registry holds every collector exposed at /metrics.
var Registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	documentsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_registered_total",
		Help:      "Documents registered for classification.",
	})

	documentTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "document_status_transitions_total",
		Help:      "Applied document status transitions.",
	}, []string{"from", "to"})

	jobOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_completed_total",
		Help:      "Jobs reaching a terminal outcome, by pool and outcome.",
	}, []string{"pool", "outcome"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time from job start to terminal outcome.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"pool", "outcome"})

	jobAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_attempts",
		Help:      "Attempts used per job.",
		Buckets:   []float64{1, 2, 3, 4, 5},
	}, []string{"pool"})

	jobRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_retries_total",
		Help:      "Job attempts that failed and were scheduled for retry.",
	}, []string{"pool"})

	poolQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_queued_jobs",
		Help:      "Jobs waiting for a worker slot.",
	}, []string{"pool"})

	poolRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_running_jobs",
		Help:      "Jobs holding a worker slot.",
	}, []string{"pool"})

	queueMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_messages_total",
		Help:      "Queue messages handled by the worker, by transport and result.",
	}, []string{"transport", "result"})

	panics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_panics_total",
		Help:      "Handler panics recovered by the HTTP middleware.",
	})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		documentsRegistered,
		documentTransitions,
		jobOutcomes,
		jobDuration,
		jobAttempts,
		jobRetries,
		poolQueued,
		poolRunning,
		queueMessages,
		breakerState,
		panics,
	)
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// IncDocumentsRegistered increments the registered counter.
func IncDocumentsRegistered() {
	documentsRegistered.Inc()
}

// IncStatusTransition counts an applied status change.
func IncStatusTransition(from, to string) {
	documentTransitions.WithLabelValues(from, to).Inc()
}

// ObserveJobOutcome records a job's terminal outcome, duration and attempts.
func ObserveJobOutcome(pool, outcome string, elapsed time.Duration, attempts int) {
	jobOutcomes.WithLabelValues(pool, outcome).Inc()
	jobDuration.WithLabelValues(pool, outcome).Observe(elapsed.Seconds())
	if attempts > 0 {
		jobAttempts.WithLabelValues(pool).Observe(float64(attempts))
	}
}

// IncJobRetry counts a scheduled retry.
func IncJobRetry(pool string) {
	jobRetries.WithLabelValues(pool).Inc()
}

// SetPoolGauges publishes current queue depth and running job count.
func SetPoolGauges(pool string, queued, running int) {
	poolQueued.WithLabelValues(pool).Set(float64(queued))
	poolRunning.WithLabelValues(pool).Set(float64(running))
}

// IncQueueMessage counts a worker-side queue message result.
func IncQueueMessage(transport, result string) {
	queueMessages.WithLabelValues(transport, result).Inc()
}

// SetBreakerState publishes a breaker state value.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
	return gin.WrapH(h)
}

// IncPanic counts a recovered handler panic.
func IncPanic() {
	panics.Inc()
}
