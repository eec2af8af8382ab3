// Package metrics defines the Prometheus instrumentation for the relay,
// persistence layer, and event bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics
var (
	// ConnectedClients tracks the number of live WebSocket connections.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connected_clients",
			Help: "Number of currently connected WebSocket clients",
		},
	)

	// EventsRelayed tracks relayed events by event name.
	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total events relayed by event name",
		},
		[]string{"event"},
	)

	// EventsDropped tracks inbound events dropped before relay.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Total inbound events dropped by reason (malformed, empty, rate_limited, unknown)",
		},
		[]string{"reason"},
	)

	// SlowClientsEvicted tracks clients disconnected because their send buffer filled.
	SlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slow_clients_evicted_total",
			Help: "Total clients evicted because their send buffer was full",
		},
	)

	// RelayCommandChannelDepth tracks the hub command channel backlog.
	RelayCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_command_channel_depth",
			Help: "Current depth of the hub command channel",
		},
	)
)

// Persistence metrics
var (
	// DatabaseAvailable is 1 when the persistence backend is reachable, 0 otherwise.
	DatabaseAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "persistence_database_available",
			Help: "Whether the persistence backend is currently available (1) or not (0)",
		},
	)

	// PersistenceFailures tracks failed persistence operations by operation name.
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Total failed persistence operations by operation",
		},
		[]string{"operation"},
	)

	// AccountOperations tracks account service outcomes.
	AccountOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_operations_total",
			Help: "Account operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// DrawingsSaved tracks successfully persisted canvas snapshots.
	DrawingsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_drawings_saved_total",
			Help: "Total canvas snapshots persisted",
		},
	)
)

// Event bridge metrics
var (
	// BridgeMessages tracks cross-instance bridge traffic by direction.
	BridgeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_total",
			Help: "Cross-instance bridge messages by direction (published, received)",
		},
		[]string{"direction"},
	)

	// BridgeErrors tracks publish/subscribe failures on the event bridge.
	BridgeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total event bridge publish and subscribe errors",
		},
	)
)
