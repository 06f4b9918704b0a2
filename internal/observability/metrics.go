package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts Redis command failures by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// ActiveWebSockets is the number of open websocket connections on this instance.
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_websocket_connections",
		Help: "Number of open WebSocket connections",
	})

	// WebSocketEventsTotal counts inbound websocket events by name.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_websocket_events_total",
		Help: "Total inbound WebSocket events by name",
	}, []string{"event"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// DomainErrors counts failed inbound events by error code.
	DomainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_domain_errors_total",
		Help: "Total inbound events rejected by error code",
	}, []string{"code"})

	// OnlineUsers is the number of users with at least one session on this instance.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_online_users",
		Help: "Number of users online on this instance",
	})

	// ActiveCalls is the number of ringing or connected calls.
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_active_calls",
		Help: "Number of ringing or accepted calls",
	})

	// MessagesCreated counts persisted messages by type.
	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_messages_created_total",
		Help: "Total number of messages persisted by type",
	}, []string{"type"})

	// BusMessages counts cross-instance bus frames by direction.
	BusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_bus_messages_total",
		Help: "Total room bus frames by direction",
	}, []string{"direction"})

	// CacheLookups counts cache-aside reads by keyspace and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_cache_lookups_total",
		Help: "Total cache-aside lookups by keyspace and result",
	}, []string{"keyspace", "result"})
)
