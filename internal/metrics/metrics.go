// Package metrics exposes engine counters via Prometheus. All methods are
// nil-safe so the engine can run without metrics wired.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nodeflow/internal/domain"
)

type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsInFlight prometheus.Gauge
	tasksByState *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
}

// New builds and registers the engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nodeflow_runs_started_total",
			Help: "Workflow runs accepted for execution.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeflow_runs_finished_total",
			Help: "Workflow runs by terminal status.",
		}, []string{"status"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodeflow_runs_in_flight",
			Help: "Workflow runs currently executing.",
		}),
		tasksByState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeflow_tasks_total",
			Help: "Tasks by terminal status.",
		}, []string{"status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nodeflow_node_duration_seconds",
			Help:    "Node executor wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type"}),
	}
	reg.MustRegister(m.runsStarted, m.runsFinished, m.runsInFlight, m.tasksByState, m.nodeDuration)
	return m
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.runsInFlight.Inc()
}

func (m *Metrics) RunFinished(status domain.RunStatus) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(string(status)).Inc()
	m.runsInFlight.Dec()
}

func (m *Metrics) TaskFinished(status domain.TaskStatus) {
	if m == nil {
		return
	}
	m.tasksByState.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) NodeExecuted(nodeType string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}
