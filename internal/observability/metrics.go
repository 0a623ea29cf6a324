package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_jobs_enqueued_total",
			Help: "Jobs accepted into the admission queue",
		},
		[]string{"type"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_jobs_processed_total",
			Help: "Jobs resolved by workers, by outcome",
		},
		[]string{"type", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seats_job_duration_seconds",
			Help:    "Time spent executing a job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_job_retries_total",
			Help: "Jobs re-enqueued after an infrastructure failure",
		},
	)

	StaleJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_stale_jobs_total",
			Help: "In-flight jobs reclaimed by the stale sweep",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seats_queue_depth",
			Help: "Jobs waiting in the admission queue",
		},
	)

	InFlightJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seats_inflight_jobs",
			Help: "Jobs dequeued but not yet resolved",
		},
	)

	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_lock_contention_total",
			Help: "Hold attempts that found the seat lock taken",
		},
	)

	SeatsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_released_total",
			Help: "Seats returned to Available by the reconciler",
		},
		[]string{"source"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seats_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last pass",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rabbit_publish_failures_total",
			Help: "Rabbit publishes that failed and will be retried",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
