package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localhub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localhub_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HttpPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localhub_http_panics_total",
			Help: "Handler panics recovered by RecoverJSON",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localhub_websocket_connections_active",
			Help: "Current number of active WebSocket sessions",
		},
	)

	WebSocketEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localhub_websocket_events_total",
			Help: "Inbound WebSocket events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// WebSocketDropped counts sessions closed because their send buffer was full.
	WebSocketDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localhub_websocket_slow_clients_dropped_total",
			Help: "Sessions closed due to a full send buffer",
		},
	)

	// WebSocketRejected counts upgrade requests refused before the handshake.
	WebSocketRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localhub_websocket_rejected_total",
			Help: "WebSocket upgrades refused before the handshake",
		},
		[]string{"reason"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localhub_notifications_created_total",
			Help: "Persisted notifications by action type",
		},
		[]string{"action"},
	)

	FanoutBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localhub_fanout_batch_duration_seconds",
			Help:    "Duration of one proximity fan-out batch (insert and push)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	FanoutBatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localhub_fanout_batch_failures_total",
			Help: "Fan-out batches whose insert failed; the other batches still run",
		},
		[]string{"action"},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localhub_push_deliveries_total",
			Help: "Realtime and web push deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)
)
