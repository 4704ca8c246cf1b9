package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache outcomes per resource type. The repository layer
// drives these, since it owns the freshness decision.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	servedStale   *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

// NewMetrics registers the cache collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souk",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Fresh cache hits by resource type.",
		}, []string{"type"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souk",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses (absent or stale while online) by resource type.",
		}, []string{"type"}),
		servedStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souk",
			Subsystem: "cache",
			Name:      "served_stale_total",
			Help:      "Stale entries served in degraded mode by resource type.",
		}, []string{"type"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souk",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Explicit invalidations by resource type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.hits, m.misses, m.servedStale, m.invalidations)
	return m
}

// Hit records a fresh hit.
func (m *Metrics) Hit(resourceType string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(resourceType).Inc()
}

// Miss records an absent or stale-while-online lookup.
func (m *Metrics) Miss(resourceType string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(resourceType).Inc()
}

// ServedStale records a stale entry served under degraded conditions.
func (m *Metrics) ServedStale(resourceType string) {
	if m == nil {
		return
	}
	m.servedStale.WithLabelValues(resourceType).Inc()
}

// Invalidated records an explicit invalidation.
func (m *Metrics) Invalidated(resourceType string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(resourceType).Inc()
}
