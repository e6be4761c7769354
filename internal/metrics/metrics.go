package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// History engine counters and histograms, partitioned by chain + source.

var (
	// Fetcher
	FetcherPagesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "fetcher",
		Name:      "pages_applied_total",
		Help:      "Total source pages applied to session state",
	}, []string{"chain", "source"})

	FetcherRecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "fetcher",
		Name:      "records_fetched_total",
		Help:      "Total raw records fetched from remote sources",
	}, []string{"chain", "source"})

	FetcherFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "fetcher",
		Name:      "failures_total",
		Help:      "Total page fetches that exhausted a source after failing",
	}, []string{"chain", "source"})

	FetcherStaleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "fetcher",
		Name:      "stale_responses_total",
		Help:      "Total page results discarded because the subject changed",
	}, []string{"chain", "source"})

	FetcherLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "history",
		Subsystem: "fetcher",
		Name:      "page_duration_seconds",
		Help:      "Remote page fetch duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"chain", "source"})

	// Normalizer
	NormalizerAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "normalizer",
		Name:      "anomalies_total",
		Help:      "Total records degraded to the other category",
	}, []string{"chain", "source"})

	// Merger
	MergeCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "merger",
		Name:      "cycles_total",
		Help:      "Total merge cycles",
	}, []string{"chain"})

	MergedRecords = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "history",
		Subsystem: "merger",
		Name:      "merged_records",
		Help:      "Merged history list length per cycle",
		Buckets:   []float64{0, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"chain"})

	// Cache
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Total cache reads by outcome (hit, miss, error)",
	}, []string{"backend", "outcome"})

	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Total cache writes by outcome (ok, error, superseded)",
	}, []string{"backend", "outcome"})

	// Sessions
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "history",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of live history sessions",
	})

	SessionVisibleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "sessions",
		Name:      "visible_events_total",
		Help:      "Total viewport visibility events by outcome (scheduled, idle, stopped)",
	}, []string{"outcome"})

	// Postgres cache backend connection pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "history",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Open connections in the postgres pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "history",
		Subsystem: "db_pool",
		Name:      "in_use",
		Help:      "Connections currently in use",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "history",
		Subsystem: "db_pool",
		Name:      "idle",
		Help:      "Idle connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "history",
		Subsystem: "db_pool",
		Name:      "wait_count",
		Help:      "Total number of connections waited for",
	})

	DBPoolWaitDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "history",
		Subsystem: "db_pool",
		Name:      "wait_duration_seconds",
		Help:      "Total time blocked waiting for a connection",
	})

	// HTTP API
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total API requests by route pattern, method and status code",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "history",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency by route pattern",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// Remote API
	RemoteRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "remote",
		Name:      "rate_limit_waits_total",
		Help:      "Total times remote calls waited for the rate limiter",
	}, []string{"chain"})

	RemoteCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Subsystem: "remote",
		Name:      "calls_total",
		Help:      "Total remote API calls by endpoint and status class",
	}, []string{"chain", "endpoint", "status"})

	RemoteCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "history",
		Subsystem: "remote",
		Name:      "circuit_state",
		Help:      "Circuit breaker state per chain (0=closed, 1=open, 2=half-open)",
	}, []string{"chain"})
)
