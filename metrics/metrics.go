// Package metrics exports prometheus gauges and counters for the runtime
// concerns the distilled spec treats as an afterthought but a production
// VM kernel tracks continuously: pool occupancy, queue depth, scheduler
// backlog, and per-node message traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors a VM registers once at startup.
type Metrics struct {
	PoolActive     *prometheus.GaugeVec
	SchedulerSize  *prometheus.GaugeVec
	QueueDepth     *prometheus.GaugeVec
	MessagesTotal  *prometheus.CounterVec
}

// New constructs and registers the collector set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ultravm",
			Subsystem: "pool",
			Name:      "active_workers",
			Help:      "Number of live worker goroutines in a thread pool.",
		}, []string{"pool"}),
		SchedulerSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ultravm",
			Subsystem: "scheduler",
			Name:      "pending_tasks",
			Help:      "Number of tasks currently queued in a scheduler.",
		}, []string{"pool"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ultravm",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of elements currently buffered in a queue.",
		}, []string{"queue"}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ultravm",
			Subsystem: "node",
			Name:      "messages_total",
			Help:      "Messages dispatched per node, by message type.",
		}, []string{"node", "type"}),
	}

	reg.MustRegister(m.PoolActive, m.SchedulerSize, m.QueueDepth, m.MessagesTotal)
	return m
}

// ObservePool records the active worker count for a named pool.
func (m *Metrics) ObservePool(name string, active int) {
	m.PoolActive.WithLabelValues(name).Set(float64(active))
}

// ObserveScheduler records the pending task count for a named scheduler.
func (m *Metrics) ObserveScheduler(name string, size int) {
	m.SchedulerSize.WithLabelValues(name).Set(float64(size))
}

// ObserveQueue records the current depth of a named queue.
func (m *Metrics) ObserveQueue(name string, depth int) {
	m.QueueDepth.WithLabelValues(name).Set(float64(depth))
}

// CountMessage increments the per-node, per-type message counter.
func (m *Metrics) CountMessage(node, typ string) {
	m.MessagesTotal.WithLabelValues(node, typ).Inc()
}
