package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heliotrends_upstream_calls_total",
			Help: "Total upstream API calls",
		},
		[]string{"source", "endpoint", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heliotrends_upstream_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "endpoint"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heliotrends_fallbacks_total",
			Help: "Total times a mock payload replaced an upstream payload",
		},
		[]string{"source", "endpoint"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heliotrends_cache_lookups_total",
			Help: "Upstream cache lookups by result",
		},
		[]string{"source", "result"},
	)

	CorrelationCoefficient = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heliotrends_correlation_coefficient",
			Help: "Most recently computed correlation coefficient",
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heliotrends_anomalies_detected_total",
			Help: "Total anomalies detected by type",
		},
		[]string{"type"},
	)

	NotificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heliotrends_notifications_emitted_total",
			Help: "Total dashboard notifications by type",
		},
		[]string{"type"},
	)
)
