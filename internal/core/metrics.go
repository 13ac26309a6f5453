package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// Metrics records run activity. A nil *Metrics discards everything.
type Metrics struct {
	registry *prometheus.Registry

	agentCalls    *prometheus.CounterVec
	agentDuration *prometheus.HistogramVec
	chapters      *prometheus.CounterVec
	revisions     prometheus.Counter
	proposals     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
}

// NewMetrics registers the run metrics on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		agentCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Agent invocations by role and outcome",
		}, []string{"role", "outcome"}),
		agentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Agent invocation latency",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"role"}),
		chapters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chapters_total",
			Help:      "Chapters reaching a terminal status",
		}, []string{"status"}),
		revisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_total",
			Help:      "Revision cycles across all chapters",
		}),
		proposals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Rewrite proposals by source and decision",
		}, []string{"source", "decision"}),
		phaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each run phase",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"phase"}),
	}
}

// Registry exposes the registry for export.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) agentCall(role narrative.Role, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentCalls.WithLabelValues(string(role), outcome).Inc()
	m.agentDuration.WithLabelValues(string(role)).Observe(d.Seconds())
}

func (m *Metrics) chapter(state ChapterState) {
	if m == nil {
		return
	}
	m.chapters.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) revision() {
	if m == nil {
		return
	}
	m.revisions.Inc()
}

func (m *Metrics) proposalsMerged(out mergeOutcome) {
	if m == nil {
		return
	}
	for _, p := range out.Applied {
		m.proposals.WithLabelValues(string(p.Source), "applied").Inc()
	}
	for _, p := range out.Discarded {
		m.proposals.WithLabelValues(string(p.Source), "discarded").Inc()
	}
}

func (m *Metrics) phase(p RunPhase, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(string(p)).Observe(d.Seconds())
}
