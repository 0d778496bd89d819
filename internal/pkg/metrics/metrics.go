package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 缓存相关指标。
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsentry_cache_hits_total",
		Help: "Number of cache reads that returned a fresh entry.",
	}, []string{"namespace"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsentry_cache_misses_total",
		Help: "Number of cache reads that found no usable entry.",
	}, []string{"namespace"})

	CacheExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cartsentry_cache_expired_total",
		Help: "Number of entries evicted lazily on read after TTL expiry.",
	})
)

// 价格轮询相关指标。
var (
	TrackerCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cartsentry_tracker_cycles_total",
		Help: "Number of completed price polling cycles.",
	})

	TrackerQuoteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cartsentry_tracker_quote_failures_total",
		Help: "Number of per-product quote fetch failures (logged and skipped).",
	})

	AlertsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsentry_alerts_emitted_total",
		Help: "Number of price alerts derived, by kind.",
	}, []string{"kind"})

	TrackedProductsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cartsentry_tracked_products",
		Help: "Current number of tracked products.",
	})
)

// 批处理调度相关指标。
var (
	BatchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsentry_batch_runs_total",
		Help: "Number of batch job runs, by outcome (completed / skipped_entitlement / skipped_busy).",
	}, []string{"outcome"})

	BatchSubtaskFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsentry_batch_subtask_failures_total",
		Help: "Number of failed batch sub-tasks, by sub-task name.",
	}, []string{"subtask"})
)

// 智能分析客户端相关指标。
var (
	IntelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartsentry_intel_requests_total",
		Help: "Number of intelligence endpoint requests, by feature and status.",
	}, []string{"feature", "status"})

	IntelRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cartsentry_intel_request_duration_seconds",
		Help:    "Latency of intelligence endpoint requests.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// 限流相关指标。
var (
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cartsentry_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cartsentry_ratelimit_timeouts_total",
		Help: "Number of rate limit acquisitions abandoned due to context cancellation.",
	})
)
