package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	adminRequestsTotal  *prometheus.CounterVec
	adminLatencySeconds *prometheus.HistogramVec
	adminErrorsTotal    *prometheus.CounterVec

	chatConnectionsTotal   prometheus.Counter
	activeConnectionsGauge prometheus.Gauge
	chatMessagesTotal      *prometheus.CounterVec
	chatRejectionsTotal    *prometheus.CounterVec
	adminSubscriptionsNow  prometheus.Gauge
	roomsEndedTotal        *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used across the
// chat relay and the admin API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		adminRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_requests_total",
			Help: "Total number of admin API requests served.",
		}, []string{"method", "route", "status"})

		adminLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admin_latency_seconds",
			Help:    "Latency distribution for admin API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		adminErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_errors_total",
			Help: "Total number of error responses returned by admin endpoints.",
		}, []string{"method", "route", "status"})

		chatConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of websocket connections accepted.",
		})

		activeConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Websocket connections currently open.",
		})

		chatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages relayed, labelled by sender direction.",
		}, []string{"direction"})

		chatRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rejections_total",
			Help: "Connections and messages rejected, labelled by reason.",
		}, []string{"reason"})

		adminSubscriptionsNow = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_admin_subscriptions",
			Help: "Admin website subscriptions currently registered.",
		})

		roomsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rooms_ended_total",
			Help: "Rooms terminated, labelled by termination path.",
		}, []string{"reason"})

		prometheus.MustRegister(
			adminRequestsTotal, adminLatencySeconds, adminErrorsTotal,
			chatConnectionsTotal, activeConnectionsGauge, chatMessagesTotal,
			chatRejectionsTotal, adminSubscriptionsNow, roomsEndedTotal,
		)
	})
}

// AdminRequests exposes the counter for admin requests.
func AdminRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return adminRequestsTotal
}

// AdminLatency exposes the latency histogram for admin requests.
func AdminLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return adminLatencySeconds
}

// AdminErrors exposes the counter for admin error responses.
func AdminErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return adminErrorsTotal
}

// ChatConnections exposes the accepted-connections counter.
func ChatConnections() prometheus.Counter {
	RegisterMetrics()
	return chatConnectionsTotal
}

// ActiveConnections exposes the open-connections gauge.
func ActiveConnections() prometheus.Gauge {
	RegisterMetrics()
	return activeConnectionsGauge
}

// ChatMessages exposes the relayed-messages counter.
func ChatMessages() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesTotal
}

// ChatRejections exposes the rejections counter.
func ChatRejections() *prometheus.CounterVec {
	RegisterMetrics()
	return chatRejectionsTotal
}

// AdminSubscriptions exposes the live-subscriptions gauge.
func AdminSubscriptions() prometheus.Gauge {
	RegisterMetrics()
	return adminSubscriptionsNow
}

// RoomsEnded exposes the terminated-rooms counter.
func RoomsEnded() *prometheus.CounterVec {
	RegisterMetrics()
	return roomsEndedTotal
}
