package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "correlator"

var (
	// JobsTotal counts finished sweep jobs by terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of correlation jobs by terminal status",
		},
		[]string{"status"},
	)

	// JobDuration tracks wall-clock time of sweep jobs
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of correlation sweep jobs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// QueueDepth is the number of queued jobs not yet picked up
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of correlation jobs waiting for a worker",
		},
	)

	CandidatesCompared = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_compared_total",
			Help:      "Total number of candidate comparisons completed",
		},
	)

	// CandidateErrors counts skipped candidates by reason
	CandidateErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_errors_total",
			Help:      "Total number of candidates skipped because of an error",
		},
		[]string{"reason"},
	)

	EdgesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_persisted_total",
			Help:      "Total number of correlation edges written by confidence label",
		},
		[]string{"label"},
	)

	EdgesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_discarded_total",
			Help:      "Total number of compared pairs below the discard floor",
		},
	)

	EdgesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_removed_total",
			Help:      "Total number of proposed edges removed after rescoring below the floor",
		},
	)

	// Merges counts duplicate merges by reason
	Merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Total number of duplicate merges by reason",
		},
		[]string{"reason"},
	)

	// StoreRetries counts retried store operations
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Total number of retried store operations",
		},
		[]string{"op"},
	)

	// HTTPRequests tracks API latency by route pattern and status class
	HTTPRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests by method, route and status class",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	WebSocketEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_evictions_total",
			Help:      "Websocket clients disconnected because their send buffer was full",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published by subject and outcome",
		},
		[]string{"subject", "outcome"},
	)
)

// RegisterPoolStats exposes database connection pool gauges, read on every scrape
func RegisterPoolStats(reg prometheus.Registerer, stat func() (acquired, idle, total int32)) {
	gauge := func(name, help string, pick func(a, i, t int32) int32) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(stat()))
		})
	}
	reg.MustRegister(
		gauge("acquired_conns", "Connections currently checked out of the pool", func(a, _, _ int32) int32 { return a }),
		gauge("idle_conns", "Idle connections in the pool", func(_, i, _ int32) int32 { return i }),
		gauge("total_conns", "Total connections in the pool", func(_, _, t int32) int32 { return t }),
	)
}
