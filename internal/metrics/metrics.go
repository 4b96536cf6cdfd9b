package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	UpstreamRequestsTotal    *prometheus.CounterVec
	SynthesisContextsActive  prometheus.Gauge
	SentenceSegmentsTotal    prometheus.Counter
	WebsocketConnections     prometheus.Gauge
	ScratchFilesRemovedTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_requests_total",
				Help: "Total number of calls to hosted speech, LLM and news APIs",
			},
			[]string{"stage", "outcome"},
		),
		SynthesisContextsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "synthesis_contexts_active",
				Help: "Number of live streaming synthesis contexts",
			},
		),
		SentenceSegmentsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sentence_segments_total",
				Help: "Total number of sentence fragments forwarded to synthesis",
			},
		),
		WebsocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ws_connections_active",
				Help: "Number of open client websocket connections",
			},
		),
		ScratchFilesRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scratch_files_removed_total",
				Help: "Total number of scratch audio files removed",
			},
		),
	}

	registry.MustRegister(
		m.UpstreamRequestsTotal,
		m.SynthesisContextsActive,
		m.SentenceSegmentsTotal,
		m.WebsocketConnections,
		m.ScratchFilesRemovedTotal,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUpstream counts one upstream call; err decides the outcome label.
func (m *Metrics) ObserveUpstream(stage string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequestsTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ContextOpened() {
	if m != nil {
		m.SynthesisContextsActive.Inc()
	}
}

func (m *Metrics) ContextClosed() {
	if m != nil {
		m.SynthesisContextsActive.Dec()
	}
}

func (m *Metrics) SegmentSent() {
	if m != nil {
		m.SentenceSegmentsTotal.Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.WebsocketConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.WebsocketConnections.Dec()
	}
}

func (m *Metrics) ScratchRemoved(n int) {
	if m != nil && n > 0 {
		m.ScratchFilesRemovedTotal.Add(float64(n))
	}
}
