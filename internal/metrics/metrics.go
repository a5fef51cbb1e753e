package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityweather_provider_calls_total",
			Help: "Total weather provider calls by outcome",
		},
		[]string{"status"},
	)

	ProviderLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cityweather_provider_latency_seconds",
			Help:    "Weather provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityweather_cache_requests_total",
			Help: "Query cache lookups by result (hit, miss, joined)",
		},
		[]string{"result"},
	)

	CacheRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityweather_cache_retries_total",
			Help: "Automatic retries issued by the query cache",
		},
	)

	CacheDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityweather_cache_discarded_total",
			Help: "Fetch results dropped because a newer fetch had already landed",
		},
	)

	CacheEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityweather_cache_evicted_total",
			Help: "Idle unobserved entries evicted from the query cache",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cityweather_active_subscriptions",
			Help: "Open query cache subscriptions",
		},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityweather_submissions_total",
			Help: "City submissions by outcome",
		},
		[]string{"status"},
	)
)
