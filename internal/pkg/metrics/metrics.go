// Package metrics holds the Prometheus collectors of the upgrade service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "upgrade"

type Metrics struct {
	registry *prometheus.Registry

	Candidates *prometheus.CounterVec
	Executions *prometheus.CounterVec
	LockWait   prometheus.Histogram
}

// New creates the collectors on their own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Upgrade candidates offered, by strategy",
		}, []string{"strategy"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executed upgrades, by strategy and result",
		}, []string{"strategy", "result"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the upgrade lock",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2, 3, 5},
		}),
	}
	reg.MustRegister(m.Candidates, m.Executions, m.LockWait)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordCandidate(strategy string) {
	m.Candidates.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordExecution(strategy, result string) {
	m.Executions.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.LockWait.Observe(d.Seconds())
}
