package dht

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dht"

// Metrics are the engine counters, each engine owns a registry so
// several engines can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	sent         *prometheus.CounterVec
	received     *prometheus.CounterVec
	timeouts     prometheus.Counter
	decodeErrors prometheus.Counter
	limited      prometheus.Counter
	dropped      prometheus.Counter
	sendQueue    prometheus.Gauge
	recvQueue    prometheus.Gauge
	waiting      prometheus.Gauge
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "KRPC messages handed to the transport, by kind.",
		}, []string{"kind"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Decoded KRPC messages, by kind.",
		}, []string{"kind"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "query_timeouts_total",
			Help:      "Queries resolved without reply.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_errors_total",
			Help:      "Inbound datagrams dropped as malformed.",
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Inbound datagrams dropped by the per IP limit.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recv_queue_dropped_total",
			Help:      "Inbound datagrams dropped on a full receive queue.",
		}),
		sendQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "send_queue_length",
			Help:      "Messages waiting to be sent.",
		}),
		recvQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "recv_queue_length",
			Help:      "Datagrams waiting to be processed.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "waiting_queries",
			Help:      "Sent queries awaiting a reply.",
		}),
	}

	m.registry.MustRegister(m.sent, m.received, m.timeouts, m.decodeErrors,
		m.limited, m.dropped, m.sendQueue, m.recvQueue, m.waiting)
	return m
}

// Registry is served on /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
