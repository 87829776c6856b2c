package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transportMetrics = struct {
	Connects          *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	Disconnects       prometheus.Counter
	Writes            *prometheus.CounterVec
	Reads             prometheus.Counter
	BytesWritten      prometheus.Counter
	BytesRead         prometheus.Counter
}{
	Connects: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafkanet", Subsystem: "transport", Name: "connects_total",
			Help: "Connect attempts by outcome",
		},
		[]string{"status"},
	),
	ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafkanet", Subsystem: "transport", Name: "reconnect_attempts_total",
		Help: "Reconnection attempts",
	}),
	Disconnects: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafkanet", Subsystem: "transport", Name: "disconnects_total",
		Help: "Sessions ended by a server disconnect",
	}),
	Writes: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafkanet", Subsystem: "transport", Name: "writes_total",
			Help: "Write requests executed, by api key",
		},
		[]string{"api_key"},
	),
	Reads: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafkanet", Subsystem: "transport", Name: "reads_total",
		Help: "Read requests completed in full",
	}),
	BytesWritten: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafkanet", Subsystem: "transport", Name: "bytes_written_total",
		Help: "Bytes written to the socket",
	}),
	BytesRead: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kafkanet", Subsystem: "transport", Name: "bytes_read_total",
		Help: "Bytes read from the socket",
	}),
}
