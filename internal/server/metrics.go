package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPrefix = "manifoldopt_"

// Metrics holds the Prometheus collectors of a server. Each server owns its
// registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	iterations   *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "runs_started_total",
			Help: "Number of optimization runs started grouped by solver",
		}, []string{"solver"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "runs_finished_total",
			Help: "Number of optimization runs finished grouped by solver and stop reason",
		}, []string{"solver", "stop"}),
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "iterations_total",
			Help: "Number of solver iterations grouped by solver",
		}, []string{"solver"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "run_duration_seconds",
			Help:    "Wall time of finished optimization runs grouped by solver",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"solver"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "active_runs",
			Help: "Number of optimization runs currently solving",
		}),
	}
}

func (m *Metrics) RecordStart(solver string) {
	m.runsStarted.With(prometheus.Labels{"solver": solver}).Inc()
	m.activeRuns.Inc()
}

func (m *Metrics) RecordIteration(solver string) {
	m.iterations.With(prometheus.Labels{"solver": solver}).Inc()
}

// RecordFinish counts a finished run. stop is the stop kind, or "error" when
// the run could not start.
func (m *Metrics) RecordFinish(solver, stop string, elapsed time.Duration) {
	m.runsFinished.With(prometheus.Labels{"solver": solver, "stop": stop}).Inc()
	m.runDuration.With(prometheus.Labels{"solver": solver}).Observe(elapsed.Seconds())
	m.activeRuns.Dec()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
