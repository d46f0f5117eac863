package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's mutation counts and index size.
type Metrics struct {
	Mutations *prometheus.CounterVec
}

// Instrument registers the engine collectors on reg and starts counting
// mutations. Call it once per engine.
func (e *Engine) Instrument(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskline",
			Name:      "task_mutations_total",
			Help:      "Applied task mutations by event type.",
		}, []string{"type"}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "taskline",
		Name:      "index_size",
		Help:      "Tasks currently held in the priority index.",
	}, func() float64 { return float64(e.Len()) })

	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
	return m
}

// observe is called with e.mu held.
func (e *Engine) observe(evtType string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Mutations.WithLabelValues(evtType).Inc()
}
