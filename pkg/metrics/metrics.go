package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RealtimeConnections tracks open websocket connections on the hub.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_realtime_connections",
			Help: "Number of open realtime connections",
		},
	)

	// RealtimeSubscriptions tracks live topic subscriptions across all
	// connections.
	RealtimeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_realtime_subscriptions",
			Help: "Number of live topic subscriptions",
		},
	)

	// EventsPublished counts broker events by topic kind.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_events_published_total",
			Help: "Total number of events published to the realtime broker",
		},
		[]string{"topic"},
	)
)
