package h2bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2bridge_messages_delivered_total",
			Help: "Total number of aggregated messages delivered downstream",
		},
		[]string{"type"},
	)

	streamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "h2bridge_stream_errors_total",
			Help: "Total number of per-stream aggregation failures",
		},
		[]string{"kind"},
	)

	pendingStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "h2bridge_pending_streams",
			Help: "Current number of streams with a pending message",
		},
	)

	messageBodyBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "h2bridge_message_body_bytes",
			Help:    "Body size of delivered messages in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
	)
)
