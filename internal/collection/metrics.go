package collection

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var IndexLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "collection",
	Name:      "index_lookups_total",
}, []string{"collection"})

var FullScans = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "collection",
	Name:      "full_scans_total",
}, []string{"collection"})

var AutoIndexes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "collection",
	Name:      "auto_indexes_total",
}, []string{"collection"})

var ChangeBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "collection",
	Name:      "change_batches_total",
}, []string{"collection"})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{IndexLookups, FullScans, AutoIndexes, ChangeBatches}
}

// Stats are per-collection counters. They mirror the prometheus metrics
// without needing a registry.
type Stats struct {
	IndexLookups int64
	FullScans    int64
	AutoIndexes  int64
	Batches      int64
	Indexes      int
}

type counters struct {
	indexLookups atomic.Int64
	fullScans    atomic.Int64
	autoIndexes  atomic.Int64
	batches      atomic.Int64
}

func (c *Collection) countIndexLookup() {
	c.counters.indexLookups.Add(1)
	IndexLookups.WithLabelValues(c.id).Inc()
}

func (c *Collection) countFullScan() {
	c.counters.fullScans.Add(1)
	FullScans.WithLabelValues(c.id).Inc()
}

func (c *Collection) countAutoIndex() {
	c.counters.autoIndexes.Add(1)
	AutoIndexes.WithLabelValues(c.id).Inc()
}

func (c *Collection) countBatch() {
	c.counters.batches.Add(1)
	ChangeBatches.WithLabelValues(c.id).Inc()
}

// Stats returns the collection's counters.
func (c *Collection) Stats() Stats {
	c.mu.Lock()
	n := len(c.indexes)
	c.mu.Unlock()
	return Stats{
		IndexLookups: c.counters.indexLookups.Load(),
		FullScans:    c.counters.fullScans.Load(),
		AutoIndexes:  c.counters.autoIndexes.Load(),
		Batches:      c.counters.batches.Load(),
		Indexes:      n,
	}
}
