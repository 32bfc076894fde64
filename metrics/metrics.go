package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_events_ingested_total",
			Help: "Total number of events offered to the pipeline",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_dropped_total",
			Help: "Total number of events dropped, by reason",
		},
		[]string{"reason"},
	)

	MatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_matches_dispatched_total",
			Help: "Total number of rule matches handed to the dispatcher",
		},
		[]string{"severity"},
	)

	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rule_evaluations_total",
			Help: "Total number of rule evaluations, by result",
		},
		[]string{"result"}, // match, no_match, error
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to process events through the pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_hits_total",
			Help: "Total number of cache hits, by cache",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_misses_total",
			Help: "Total number of cache misses, by cache",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_errors_total",
			Help: "Total number of cache errors, by cache and operation",
		},
		[]string{"cache", "operation"},
	)

	CircuitBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_circuit_breaker_open",
			Help: "1 when the admission circuit breaker is open, 0 otherwise",
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_active_workers",
			Help: "Number of active workers per pool (-1 indicates leaked shutdown)",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_size",
			Help: "Current queued tasks per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Total tasks processed per pool",
		},
		[]string{"pool"},
	)

	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_batch_flushes_total",
			Help: "Total batch flushes, by trigger (size or timer)",
		},
		[]string{"trigger"},
	)

	TunerAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_tuner_adjustments_total",
			Help: "Total adaptive tuner adjustments, by knob",
		},
		[]string{"knob"},
	)

	PatternMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_pattern_matches_total",
			Help: "Total cross-event pattern matches reported by the collaborator",
		},
	)
)
