package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EngineRequests 按引擎与结果类型统计上游请求
	EngineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasearch_engine_requests_total",
			Help: "Upstream engine requests by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	// EngineLatency 上游请求耗时
	EngineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metasearch_engine_request_seconds",
			Help:    "Upstream engine request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	// CacheLookups 缓存命中与未命中
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasearch_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	// RateLimited 被限流拒绝的请求
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metasearch_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)

	// Searches 聚合请求，按是否被拦截/过滤分类
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasearch_searches_total",
			Help: "Aggregated searches by status",
		},
		[]string{"status"},
	)
)

const (
	OutcomeOK = "ok"
	CacheHit  = "hit"
	CacheMiss = "miss"
	CacheErr  = "error"
)
