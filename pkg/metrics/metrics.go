// Package metrics exposes Prometheus collectors for the tutor pipeline.
//
// All recording methods are safe on a nil *Metrics, so components can take
// an optional metrics handle without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "robotbox"

// Gateway flavours used as label values.
const (
	FlavourTurn = "turn"
	FlavourLive = "live"
)

// Metrics holds every robotbox collector and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	framesPublished   prometheus.Counter
	framesOverwritten prometheus.Counter
	framesRejected    prometheus.Counter

	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec

	livePushes    prometheus.Counter
	liveResponses prometheus.Counter
	liveSessions  prometheus.Gauge

	dispatchedParts *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, including Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "frames", Name: "published_total",
			Help: "Frames published to the frame buffer.",
		}),
		framesOverwritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "frames", Name: "overwritten_total",
			Help: "Frames replaced before any reader took a snapshot.",
		}),
		framesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "frames", Name: "rejected_total",
			Help: "Captured frames dropped because conversion failed.",
		}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "requests_total",
			Help: "Model gateway calls by flavour and outcome.",
		}, []string{"flavour", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "latency_seconds",
			Help:    "Model gateway call latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"flavour"}),
		livePushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live", Name: "pushes_total",
			Help: "Frames pushed on live sessions.",
		}),
		liveResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live", Name: "responses_total",
			Help: "Response payloads received on live sessions.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "live", Name: "sessions_active",
			Help: "Live sessions currently connected.",
		}),
		dispatchedParts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "parts_total",
			Help: "Response parts routed to sinks, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.framesPublished, m.framesOverwritten, m.framesRejected,
		m.gatewayRequests, m.gatewayLatency,
		m.livePushes, m.liveResponses, m.liveSessions,
		m.dispatchedParts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// FramePublished records one publish; overwritten is true when the previous
// frame was never read.
func (m *Metrics) FramePublished(overwritten bool) {
	if m == nil {
		return
	}
	m.framesPublished.Inc()
	if overwritten {
		m.framesOverwritten.Inc()
	}
}

// FrameRejected records a frame the capture callback could not convert.
func (m *Metrics) FrameRejected() {
	if m == nil {
		return
	}
	m.framesRejected.Inc()
}

// GatewayCall records a completed gateway call.
func (m *Metrics) GatewayCall(flavour string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.gatewayRequests.WithLabelValues(flavour, outcome).Inc()
	m.gatewayLatency.WithLabelValues(flavour).Observe(elapsed.Seconds())
}

// LivePush records one live push.
func (m *Metrics) LivePush() {
	if m == nil {
		return
	}
	m.livePushes.Inc()
}

// LiveResponse records one payload received on a live session.
func (m *Metrics) LiveResponse() {
	if m == nil {
		return
	}
	m.liveResponses.Inc()
}

// LiveSessionStarted and LiveSessionEnded track connected sessions.
func (m *Metrics) LiveSessionStarted() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

func (m *Metrics) LiveSessionEnded() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

// PartDispatched records a response part routed to a sink.
func (m *Metrics) PartDispatched(kind string) {
	if m == nil {
		return
	}
	m.dispatchedParts.WithLabelValues(kind).Inc()
}
