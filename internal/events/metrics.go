package events

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/unitbrain/internal/agent/behavior"
)

// Metrics counts tree activity for one agent.
type Metrics struct {
	taskStarts   *prometheus.CounterVec
	taskEnds     *prometheus.CounterVec
	stacks       *prometheus.GaugeVec
	completions  *prometheus.CounterVec
	syncPayloads *prometheus.CounterVec
}

// NewMetrics registers the tree collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		taskStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bt_task_starts_total",
			Help: "Tasks started, by unit and kind",
		}, []string{"unit", "kind"}),
		taskEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bt_task_ends_total",
			Help: "Tasks ended, by unit, kind and final status",
		}, []string{"unit", "kind", "status"}),
		stacks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bt_running_stacks",
			Help: "Running stacks per unit",
		}, []string{"unit"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bt_tree_completions_total",
			Help: "Root completions per unit",
		}, []string{"unit"}),
		syncPayloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bt_sync_payloads_total",
			Help: "Sync payloads forwarded by sync actions",
		}, []string{"unit"}),
	}
	for _, c := range []prometheus.Collector{m.taskStarts, m.taskEnds, m.stacks, m.completions, m.syncPayloads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Sink returns an event sink feeding the collectors.
func (m *Metrics) Sink() behavior.EventSink {
	return Forward(m.observe)
}

func (m *Metrics) observe(r Record) {
	switch r.Event {
	case EventPreOnStart:
		m.taskStarts.WithLabelValues(r.UnitID, r.Kind).Inc()
	case EventPostOnEnd:
		m.taskEnds.WithLabelValues(r.UnitID, r.Kind, r.Status).Inc()
	case EventNewStack:
		m.stacks.WithLabelValues(r.UnitID).Inc()
	case EventRemoveStack:
		m.stacks.WithLabelValues(r.UnitID).Dec()
	case EventPostOnComplete:
		m.completions.WithLabelValues(r.UnitID).Inc()
	}
	if len(r.Data) > 0 {
		m.syncPayloads.WithLabelValues(r.UnitID).Add(float64(len(r.Data)))
	}
}
