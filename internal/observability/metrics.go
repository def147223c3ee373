package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts API requests by route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookdesk_http_requests_total",
		Help: "Total HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	// HTTPLatency records API latency by route.
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookdesk_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// OutboxPublished counts change feed events by result.
	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookdesk_outbox_events_total",
		Help: "Outbox events processed by event type and result",
	}, []string{"event_type", "result"})

	// DeliveryAttempts counts channel send attempts.
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookdesk_delivery_attempts_total",
		Help: "Delivery attempts by channel and result",
	}, []string{"channel", "result"})

	// DeliveryOutcomes counts terminal states of the delivery state machine.
	DeliveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookdesk_delivery_outcomes_total",
		Help: "Delivery outcomes by final state",
	}, []string{"state"})

	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookdesk_delivery_retry_queue_depth",
		Help: "Entries waiting in the delivery retry queue",
	})

	OfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookdesk_delivery_offline_queue_depth",
		Help: "Entries waiting in the delivery offline queue",
	})

	// Online is 1 while the connectivity monitor sees the backends.
	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookdesk_connectivity_online",
		Help: "1 when the service considers itself online",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookdesk_notifications_sent_total",
		Help: "Notifications handed to sinks by sink and kind",
	}, []string{"sink", "kind"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookdesk_notifications_dropped_total",
		Help: "Queued notifications dropped for being stale",
	})

	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookdesk_notification_queue_depth",
		Help: "Notifications waiting to be dispatched",
	})

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookdesk_websocket_connections",
		Help: "Active admin websocket connections",
	})

	// WebSocketDrops counts frames dropped because a client send buffer was full.
	WebSocketDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookdesk_websocket_backpressure_drops_total",
		Help: "WebSocket frames dropped due to backpressure",
	})
)
