// Package metrics exposes queue and publish counters. The process is short
// lived, so instead of an HTTP endpoint the registry is written to a
// node_exporter textfile after every tick.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notepost"

type Metrics struct {
	registry *prometheus.Registry
	textfile string

	ticks           *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	publishDuration prometheus.Histogram
	stageDepth      *prometheus.GaugeVec
	announceErrors  *prometheus.CounterVec
}

// New creates a registry. textfile may be empty, in which case Flush is a
// no-op.
func New(textfile string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Queue ticks by final state.",
		}, []string{"state"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_outcomes_total",
			Help:      "Publish attempts by result and failing phase.",
		}, []string{"result", "phase"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Wall time of one publish attempt, spawn to exit.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 300},
		}),
		stageDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_articles",
			Help:      "Articles currently in each stage.",
		}, []string{"stage"}),
		announceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announce_errors_total",
			Help:      "Failed post announcements by target.",
		}, []string{"target"}),
	}
	m.registry.MustRegister(m.ticks, m.outcomes, m.publishDuration, m.stageDepth, m.announceErrors)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Tick(state string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(state).Inc()
}

func (m *Metrics) Outcome(success bool, phase string, d time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.outcomes.WithLabelValues(result, phase).Inc()
	m.publishDuration.Observe(d.Seconds())
}

func (m *Metrics) StageDepth(stage string, n int) {
	if m == nil {
		return
	}
	m.stageDepth.WithLabelValues(stage).Set(float64(n))
}

func (m *Metrics) AnnounceError(target string) {
	if m == nil {
		return
	}
	m.announceErrors.WithLabelValues(target).Inc()
}

// Flush writes the registry to the configured textfile atomically.
func (m *Metrics) Flush() error {
	if m == nil || m.textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.textfile, m.registry)
}
