package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shelfswap",
		Subsystem: "realtime",
		Name:      "subscriptions",
		Help:      "Live subscriptions currently registered.",
	})

	metricSubscriptionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "realtime",
		Name:      "subscriptions_evicted_total",
		Help:      "Subscriptions replaced by a newer connection for the same user.",
	})

	metricPushesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "realtime",
		Name:      "pushes_delivered_total",
		Help:      "Events enqueued to a live subscriber.",
	})

	metricPushesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "realtime",
		Name:      "pushes_dropped_total",
		Help:      "Events dropped instead of delivered.",
	}, []string{"reason"})
)
