package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections          = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatrelay_active_connections", Help: "Connections currently registered in the table"})
	AdmissionsTotal            = promauto.NewCounter(prometheus.CounterOpts{Name: "chatrelay_admissions_total", Help: "Connections admitted after a successful handshake"})
	RejectionsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatrelay_rejections_total", Help: "Connections closed before admission by reason"}, []string{"reason"})
	MessagesTotal              = promauto.NewCounter(prometheus.CounterOpts{Name: "chatrelay_messages_total", Help: "Chat messages received from clients"})
	BroadcastSendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "chatrelay_broadcast_send_failures_total", Help: "Failed or short per-recipient sends"})
	ErrorsTotal                = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatrelay_errors_total", Help: "Errors by type"}, []string{"type"})
	MessageBytes               = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatrelay_message_bytes", Help: "Size of received chat messages", Buckets: prometheus.ExponentialBuckets(1, 2, 11)})
	ConnectionDurationSeconds  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatrelay_connection_duration_seconds", Help: "Connection lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 20)})
)
