package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub Metrics
var (
	// HubConnectedClients tracks the current number of registered clients
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Current number of registered WebSocket clients",
		},
	)

	// HubActiveChannels tracks the number of channels with at least one subscriber
	HubActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_channels",
			Help: "Number of channels with at least one subscriber",
		},
	)

	// HubBroadcastsTotal tracks broadcast calls by channel kind
	HubBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Total broadcast calls by message type",
		},
		[]string{"type"},
	)

	// HubMessagesSentTotal tracks messages successfully enqueued to clients
	HubMessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_sent_total",
			Help: "Total messages successfully enqueued for delivery",
		},
	)

	// HubSendFailuresTotal tracks failed deliveries (full buffer or dead writer)
	HubSendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_send_failures_total",
			Help: "Total failed message deliveries (client evicted)",
		},
	)

	// HubStaleClientsEvicted tracks clients evicted by the heartbeat sweep
	HubStaleClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_stale_clients_evicted_total",
			Help: "Total clients evicted for missing the liveness window",
		},
	)

	// HubPingFailuresTotal tracks liveness probes that failed to send
	HubPingFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_ping_failures_total",
			Help: "Total liveness probes that failed to send",
		},
	)

	// HubProtocolErrorsTotal tracks malformed or unknown control messages
	HubProtocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_protocol_errors_total",
			Help: "Total malformed or unknown control messages received",
		},
	)

	// HubCommandChannelDepth tracks current command channel depth
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current hub command channel depth",
		},
	)

	// HubDrainTimeoutsTotal tracks shutdowns that exceeded the drain deadline
	HubDrainTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_drain_timeouts_total",
			Help: "Hub shutdowns that exceeded the drain deadline",
		},
	)

	// HubPanicsTotal tracks hub panic recoveries
	HubPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_panics_total",
			Help: "Total hub panic recoveries",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsTotal tracks connection attempts by result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// WebSocketConnectionsRejected tracks rejected connection attempts by reason
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (rate_limit/per_ip_limit/global_limit/shutting_down)",
		},
		[]string{"reason"},
	)

	// WebSocketConnectionCapacity tracks connection capacity utilization as percentage
	WebSocketConnectionCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connection_capacity_percent",
			Help: "Current WebSocket connection capacity utilization (0-100%)",
		},
	)

	// WebSocketUniqueIPs tracks number of unique IP addresses with active connections
	WebSocketUniqueIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_unique_ips",
			Help: "Number of unique IP addresses with active WebSocket connections",
		},
	)

	// WebSocketConnectionDuration tracks WebSocket connection duration
	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)
)

// Data Feed Metrics
var (
	// FeedPublishTotal tracks publishes through the feed by channel kind
	FeedPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_publish_total",
			Help: "Total publishes through the data feed by channel kind",
		},
		[]string{"kind"},
	)

	// FeedPollErrorsTotal tracks upstream quote poll failures
	FeedPollErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_poll_errors_total",
			Help: "Total upstream quote poll failures",
		},
	)

	// FeedPollDuration tracks quote poll latency in seconds
	FeedPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_poll_duration_seconds",
			Help:    "Upstream quote poll duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// FeedBreakerState tracks the quote source circuit breaker state (0=closed, 1=half-open, 2=open)
	FeedBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_breaker_state",
			Help: "Quote source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Producer Ingest Metrics
var (
	// IngestMessagesTotal tracks producer messages received via Redis pub/sub by channel
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total producer messages received via Redis pub/sub by channel",
		},
		[]string{"channel"},
	)

	// IngestDroppedTotal tracks producer messages dropped (bad channel or payload)
	IngestDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_dropped_total",
			Help: "Total producer messages dropped due to bad channel or payload",
		},
	)
)

// Redis Metrics
var (
	// RedisOpsTotal tracks Redis operations by command and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_ops_total",
			Help: "Total Redis operations by command and status (success/error)",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency by command
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_op_duration_seconds",
			Help:    "Redis operation duration in seconds by command",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed Redis connection attempts
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total failed Redis connection attempts",
		},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
