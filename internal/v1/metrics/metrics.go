package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the confession game server.
//
// Naming convention: namespace_subsystem_name
// - namespace: confessbox (application-level grouping)
// - subsystem: websocket, room, game (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, games)
// - Counter: Cumulative events (events processed, reveals, errors)
// - Histogram: Latency distributions (action processing time)

var (
	// ActiveConnections tracks the current number of live WebSocket attachments.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "confessbox",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "confessbox",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of players in each room.
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confessbox",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_code"})

	// ActiveGames tracks the current number of live game instances per type.
	ActiveGames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confessbox",
		Subsystem: "game",
		Name:      "games_active",
		Help:      "Current number of live game instances",
	}, []string{"game_type"})

	// WebsocketEvents tracks the total number of WebSocket events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confessbox",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// ActionProcessingDuration tracks the time spent executing queued game actions.
	ActionProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "confessbox",
		Subsystem: "game",
		Name:      "action_processing_seconds",
		Help:      "Time spent processing queued game actions",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"game_type"})

	// ConfessionsRevealed counts confessions revealed at game end.
	ConfessionsRevealed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "confessbox",
		Subsystem: "room",
		Name:      "confessions_revealed_total",
		Help:      "Total confessions revealed",
	})

	// RateLimitExceeded counts rejected events per event type.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confessbox",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total events rejected by rate limiting",
	}, []string{"event_type"})

	// CircuitBreakerState exposes the cache circuit breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confessbox",
		Subsystem: "cache",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open",
	}, []string{"name"})

	// CircuitBreakerFailures counts operations dropped by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confessbox",
		Subsystem: "cache",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total operations rejected by an open circuit breaker",
	}, []string{"name"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
