package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// WebSocketConnectionsTotal is the gauge of registered realtime connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// RoomMemberships is the gauge of (connection, room) memberships.
	RoomMemberships = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_room_memberships",
		Help: "Number of connection memberships across all rooms",
	})

	// WebSocketEventsTotal counts inbound WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// OutboundEventsTotal counts delivered outbound events by type.
	OutboundEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_outbound_events_total",
		Help: "Total outbound events queued to connections",
	}, []string{"event_type"})

	// MessageThroughput counts chat messages persisted by message type.
	MessageThroughput = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_message_throughput_total",
		Help: "Total number of chat messages persisted",
	}, []string{"message_type"})

	// NotificationsCreated counts persisted notifications by type and whether they were pushed live.
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notifications_created_total",
		Help: "Total notifications created",
	}, []string{"type", "pushed"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by component and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"component", "reason"})

	// RelayPublishedTotal counts envelopes published to the cross-process relay.
	RelayPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pubsub_published_total",
		Help: "Envelopes published to the Redis relay by scope",
	}, []string{"scope"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
