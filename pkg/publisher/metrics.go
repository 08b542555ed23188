package publisher

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "gridpulse"

// Metrics holds the publisher's prometheus collectors.
type Metrics struct {
	ConnectedClients  prometheus.Gauge
	SubscribedClients prometheus.Gauge
	FramesPublished   prometheus.Counter
	PacketsDropped    *prometheus.CounterVec
	KeyRotations      *prometheus.CounterVec
	HeartbeatFailures prometheus.Counter
	Commands          *prometheus.CounterVec
	AuthFailures      prometheus.Counter
	DataReconnects    prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_clients",
			Help:      "Number of open subscriber command channels.",
		}),
		SubscribedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscribed_clients",
			Help:      "Number of connections receiving data.",
		}),
		FramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_published_total",
			Help:      "Frames handed to Broadcast.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_dropped_total",
			Help:      "Data packets dropped before transmission, by reason.",
		}, []string{"reason"}),
		KeyRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "key_rotations_total",
			Help:      "Cipher key rotations, by result.",
		}, []string{"result"}),
		HeartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "heartbeat_failures_total",
			Help:      "NoOP heartbeats that could not be sent.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands received from subscribers.",
		}, []string{"command"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_failures_total",
			Help:      "Rejected Authenticate commands.",
		}),
		DataReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "data_channel_reconnects_total",
			Help:      "Data channels re-established after unexpected loss.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectedClients,
			m.SubscribedClients,
			m.FramesPublished,
			m.PacketsDropped,
			m.KeyRotations,
			m.HeartbeatFailures,
			m.Commands,
			m.AuthFailures,
			m.DataReconnects,
		)
	}
	return m
}
