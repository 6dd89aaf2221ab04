package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConversationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "messaging",
		Name:      "conversations_started_total",
		Help:      "Conversation requests successfully created.",
	})

	metricRequestsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "messaging",
		Name:      "requests_resolved_total",
		Help:      "Conversation requests resolved by the recipient.",
	}, []string{"outcome"})

	metricMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shelfswap",
		Subsystem: "messaging",
		Name:      "messages_sent_total",
		Help:      "Messages appended to accepted conversations.",
	})
)
