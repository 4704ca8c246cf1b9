package live

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the live-channel collectors.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeTopics prometheus.Gauge
	frames       *prometheus.CounterVec
	reconnects   prometheus.Counter
}

// NewMetrics registers the live-channel collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "souk",
			Subsystem: "live",
			Name:      "active_topics",
			Help:      "Open upstream topic subscriptions.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souk",
			Subsystem: "live",
			Name:      "frames_total",
			Help:      "Inbound frames by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "souk",
			Subsystem: "live",
			Name:      "reconnects_total",
			Help:      "Socket reconnect attempts.",
		}),
	}
	reg.MustRegister(m.activeTopics, m.frames, m.reconnects)
	return m
}

func (m *Metrics) TopicOpened() {
	if m == nil {
		return
	}
	m.activeTopics.Inc()
}

func (m *Metrics) TopicClosed() {
	if m == nil {
		return
	}
	m.activeTopics.Dec()
}

func (m *Metrics) FrameOK() {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("ok").Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("dropped").Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
