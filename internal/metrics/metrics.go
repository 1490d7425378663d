// Package metrics exposes task lifecycle counters for the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the task lifecycle collectors. A nil *Metrics is a valid
// no-op receiver so tests can skip registration entirely.
type Metrics struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	cancelled prometheus.Counter
	running   prometheus.Gauge
}

// New registers the collectors with reg and returns the handle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_submitted_total",
			Help: "Tasks accepted by the dispatcher.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_completed_total",
			Help: "Tasks that reached completed.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_failed_total",
			Help: "Tasks that reached failed, cancellations excluded.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskforge_tasks_cancelled_total",
			Help: "Tasks failed by user cancellation.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskforge_tasks_running",
			Help: "Tasks currently executing.",
		}),
	}
	reg.MustRegister(m.submitted, m.completed, m.failed, m.cancelled, m.running)
	return m
}

func (m *Metrics) TaskSubmitted() {
	if m != nil {
		m.submitted.Inc()
	}
}

func (m *Metrics) TaskStarted() {
	if m != nil {
		m.running.Inc()
	}
}

func (m *Metrics) TaskCompleted() {
	if m != nil {
		m.completed.Inc()
		m.running.Dec()
	}
}

func (m *Metrics) TaskFailed() {
	if m != nil {
		m.failed.Inc()
		m.running.Dec()
	}
}

func (m *Metrics) TaskCancelled() {
	if m != nil {
		m.cancelled.Inc()
	}
}

// TaskAbandoned decrements the running gauge for an execution whose result
// was discarded because the record had already left running.
func (m *Metrics) TaskAbandoned() {
	if m != nil {
		m.running.Dec()
	}
}
