package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	dispatchTotal   *prometheus.CounterVec
	deadTotal       *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec

	pending prometheus.Gauge
	locked  prometheus.Gauge

	wsConnections prometheus.Gauge
	wsDropped     prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookline",
			Subsystem: "notify",
			Name:      "dispatch_total",
			Help:      "Total number of notification dispatch attempts.",
		}, []string{"type", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookline",
			Subsystem: "notify",
			Name:      "dead_total",
			Help:      "Notifications that exhausted their delivery attempts.",
		}, []string{"type"}),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookline",
			Subsystem: "notify",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency distribution for notification dispatch.",
			Buckets: []float64{
				0.001, 0.005, 0.01,
				0.05, 0.1, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"result"}),
		pending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookline",
			Subsystem: "notify",
			Name:      "pending",
			Help:      "Notifications not yet delivered.",
		}),
		locked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookline",
			Subsystem: "notify",
			Name:      "locked",
			Help:      "Notifications currently claimed by a relay.",
		}),
		wsConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "bookline",
			Name:      "websocket_active_connections",
			Help:      "Current number of active websocket connections.",
		}),
		wsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "bookline",
			Name:      "websocket_dropped_total",
			Help:      "Messages dropped because a websocket client was too slow.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
