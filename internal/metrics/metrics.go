// Package metrics holds the Prometheus series exported by the streamer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "torrent_streamer"

type Metrics struct {
	registry         *prometheus.Registry
	httpRequests     *prometheus.CounterVec
	streamBytes      prometheus.Counter
	activeSession    prometheus.Gauge
	castCommands     *prometheus.CounterVec
	transcodeStreams *prometheus.GaugeVec
	transcodeExits   *prometheus.CounterVec
	sapPackets       *prometheus.CounterVec
}

// New creates and registers all series on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
		streamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Bytes written to range delivery clients.",
		}),
		activeSession: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_session",
			Help:      "1 while an active stream session is installed.",
		}),
		castCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cast_commands_total",
			Help:      "Cast device commands by family, action and result.",
		}, []string{"family", "action", "result"}),
		transcodeStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcode_streams",
			Help:      "Live encoder subprocesses by protocol.",
		}, []string{"protocol"}),
		transcodeExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_exits_total",
			Help:      "Encoder exits by outcome.",
		}, []string{"outcome"}),
		sapPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sap_packets_total",
			Help:      "Session announcement packets sent by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.streamBytes,
		m.activeSession,
		m.castCommands,
		m.transcodeStreams,
		m.transcodeExits,
		m.sapPackets,
	)
	return m
}

func (m *Metrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) AddStreamBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.streamBytes.Add(float64(n))
}

func (m *Metrics) SetActiveSession(active bool) {
	if m == nil {
		return
	}
	if active {
		m.activeSession.Set(1)
		return
	}
	m.activeSession.Set(0)
}

func (m *Metrics) ObserveCastCommand(family, action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.castCommands.WithLabelValues(family, action, result).Inc()
}

func (m *Metrics) TranscodeStarted(protocol string) {
	if m == nil {
		return
	}
	m.transcodeStreams.WithLabelValues(protocol).Inc()
}

// TranscodeEnded decrements the live gauge and counts the exit outcome.
func (m *Metrics) TranscodeEnded(protocol, outcome string) {
	if m == nil {
		return
	}
	m.transcodeStreams.WithLabelValues(protocol).Dec()
	m.transcodeExits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSAPPackets(kind string) {
	if m == nil {
		return
	}
	m.sapPackets.WithLabelValues(kind).Inc()
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
