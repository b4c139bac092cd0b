package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "noise"

var (
	Registry = prometheus.NewRegistry()

	StoreSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "saved_total",
			Help:      "Records handed to the store, by outcome.",
		},
		[]string{"result"},
	)

	SignDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "sign_seconds",
			Help:      "Time spent searching for a proof of work counter.",
			// 1ms .. ~65s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 17),
		},
	)

	SyncSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "sessions_total",
			Help:      "Sync sessions by result.",
		},
		[]string{"result"},
	)

	SyncSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "messages_sent_total",
			Help:      "Records streamed to peers.",
		},
	)

	SyncReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "messages_received_total",
			Help:      "Records received from peers.",
		},
	)
)

func init() {
	Registry.MustRegister(
		StoreSaved,
		SignDuration,
		SyncSessions,
		SyncSent,
		SyncReceived,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
