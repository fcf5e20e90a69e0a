package live

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var Steps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "live",
	Name:      "steps_total",
	Help:      "Source batches processed.",
}, []string{"query"})

var Probes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "live",
	Name:      "probes_total",
	Help:      "Batched join key lookups.",
}, []string{"query"})

var WindowLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "live",
	Name:      "window_loads_total",
	Help:      "Index-ordered pages loaded.",
}, []string{"query"})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{Steps, Probes, WindowLoads}
}

// Stats are per-query counters.
type Stats struct {
	Steps       int64
	Probes      int64
	WindowLoads int64
}

type counters struct {
	steps       atomic.Int64
	probes      atomic.Int64
	windowLoads atomic.Int64
}

func (q *Query) countStep() {
	q.counters.steps.Add(1)
	Steps.WithLabelValues(q.id).Inc()
}

func (q *Query) countProbe() {
	q.counters.probes.Add(1)
	Probes.WithLabelValues(q.id).Inc()
}

func (q *Query) countWindowLoad() {
	q.counters.windowLoads.Add(1)
	WindowLoads.WithLabelValues(q.id).Inc()
}

// Stats returns the query's counters.
func (q *Query) Stats() Stats {
	return Stats{
		Steps:       q.counters.steps.Load(),
		Probes:      q.counters.probes.Load(),
		WindowLoads: q.counters.windowLoads.Load(),
	}
}
