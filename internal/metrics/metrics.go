// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wey_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wey_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 5, 30, 120},
		},
		[]string{"method", "route"},
	)

	// Streaming metrics
	StreamSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wey_stream_sessions_total",
			Help: "Streaming sessions by terminal outcome",
		},
		[]string{"outcome"}, // completed, failed, cancelled
	)

	StreamTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wey_stream_tokens_total",
			Help: "Total tokens forwarded to streaming clients",
		},
	)

	StreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wey_stream_duration_seconds",
			Help:    "Wall time of a streaming session",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wey_active_streams",
			Help: "Streaming sessions currently in flight",
		},
	)

	// Persistence metrics
	PersistQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wey_persist_queue_depth",
			Help: "Messages waiting in the persistence queue",
		},
	)

	PersistWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wey_persist_writes_total",
			Help: "Persistence write attempts by result",
		},
		[]string{"result"}, // ok, busy, timeout, chat_not_found, other
	)

	// Realtime metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wey_websocket_connections",
			Help: "Registered websocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wey_websocket_messages_total",
			Help: "Inbound websocket envelopes by type",
		},
		[]string{"type"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wey_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
