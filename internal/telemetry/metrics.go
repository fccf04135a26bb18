package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obsrelay_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "obsrelay_api_request_duration_seconds",
		Help:    "HTTP API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "obsrelay_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// APIWebSocketConnections gauges connected control WebSocket clients.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "obsrelay_ws_connections",
		Help: "Connected control WebSocket clients.",
	})

	// CommandsTotal counts dispatched commands by name and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obsrelay_commands_total",
		Help: "Commands dispatched through the command router.",
	}, []string{"command", "status"})

	// SessionState exports the supervisor state as a numeric gauge
	// (0 disconnected, 1 connecting, 2 connected, 3 reconnecting).
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "obsrelay_session_state",
		Help: "Upstream session state.",
	})

	// ReconnectAttemptsTotal counts upstream reconnect attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "obsrelay_reconnect_attempts_total",
		Help: "Upstream reconnect attempts.",
	})

	// EventsPublishedTotal counts events fanned out, by event type.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obsrelay_events_published_total",
		Help: "Events fanned out to subscribers.",
	}, []string{"event"})

	// EventsDroppedTotal counts events dropped from slow subscriber queues.
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "obsrelay_events_dropped_total",
		Help: "Events dropped due to subscriber queue overflow.",
	})

	// BroadcastSubscribers gauges registered broadcast subscribers.
	BroadcastSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "obsrelay_broadcast_subscribers",
		Help: "Registered broadcast subscribers.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
