package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of one engine. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// PacketsTotal counts ingested packets by outcome
	PacketsTotal *prometheus.CounterVec
	// PublicationsTotal counts published aggregation entries by class
	PublicationsTotal *prometheus.CounterVec
	// EvictionsTotal counts silent evictions by kind (pending, reset)
	EvictionsTotal *prometheus.CounterVec
	// TraversalsTotal counts scheduled hop traversals
	TraversalsTotal prometheus.Counter

	Nodes   prometheus.Gauge
	Links   prometheus.Gauge
	Pending prometheus.Gauge
	Flows   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshflow_packets_total",
				Help: "Total number of packets handed to the engine",
			},
			[]string{"outcome"},
		),
		PublicationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshflow_publications_total",
				Help: "Total number of published aggregation entries",
			},
			[]string{"class"},
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshflow_evictions_total",
				Help: "Aggregation entries dropped without publishing",
			},
			[]string{"reason"},
		),
		TraversalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshflow_traversals_total",
			Help: "Total number of hop traversals scheduled",
		}),
		Nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshflow_nodes",
			Help: "Current number of graph nodes",
		}),
		Links: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshflow_links",
			Help: "Current number of tracked links",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshflow_pending_entries",
			Help: "Current number of open aggregation entries",
		}),
		Flows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshflow_active_traversals",
			Help: "Current number of traversals not yet retired",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PacketsTotal,
			m.PublicationsTotal,
			m.EvictionsTotal,
			m.TraversalsTotal,
			m.Nodes,
			m.Links,
			m.Pending,
			m.Flows,
		)
	}
	return m
}

func (m *Metrics) packet(outcome Outcome) {
	if m == nil {
		return
	}
	m.PacketsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) published(class Classification, traversals int) {
	if m == nil {
		return
	}
	m.PublicationsTotal.WithLabelValues(string(class)).Inc()
	m.TraversalsTotal.Add(float64(traversals))
}

func (m *Metrics) evicted(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) observe(e *Engine) {
	if m == nil {
		return
	}
	m.Nodes.Set(float64(e.graph.NodeCount()))
	m.Links.Set(float64(e.graph.LinkCount()))
	m.Pending.Set(float64(e.window.Len()))
	m.Flows.Set(float64(e.flows.Len()))
}
