// Package metrics wires the engine's observable counters and histograms
// into a dedicated Prometheus registry, adapted from the application's
// HTTP/DB metrics collector to the embedded store's own operations (facts,
// flush, compaction, GC, queries, dictionary interning).
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the store publishes. One
// Collector is created per opened database handle, each with its own
// registry, so multiple handles in the same process don't collide on
// registration.
type Collector struct {
	registry *prometheus.Registry

	FactsAdded   prometheus.Counter
	FactsDeleted prometheus.Counter

	FlushTotal    prometheus.Counter
	FlushDuration prometheus.Histogram

	CompactionTotal    *prometheus.CounterVec
	CompactionDuration prometheus.Histogram
	PagesRetired       prometheus.Counter

	GCTotal          prometheus.Counter
	GCSkipped        prometheus.Counter
	GCPagesReclaimed prometheus.Counter
	GCBytesReclaimed prometheus.Counter

	QueriesByOrder *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec

	DictionaryInterns prometheus.Counter
	DictionaryHits    prometheus.Counter

	ReaderRegistrations   prometheus.Counter
	ReaderUnregistrations prometheus.Counter
}

var (
	mu        sync.Mutex
	instances int
)

// New creates a Collector under its own registry, namespaced so metrics
// from several opened handles in one process don't collide.
func New(namespace string) *Collector {
	mu.Lock()
	instances++
	id := instances
	mu.Unlock()
	if namespace == "" {
		namespace = "nervusdb"
	}

	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"handle": strconv.Itoa(id)}

	c := &Collector{
		registry: registry,
		FactsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "facts_added_total", Help: "Total facts added.", ConstLabels: constLabels,
		}),
		FactsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "facts_deleted_total", Help: "Total facts deleted.", ConstLabels: constLabels,
		}),
		FlushTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_total", Help: "Total flush operations.", ConstLabels: constLabels,
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "flush_duration_seconds", Help: "Flush duration.", ConstLabels: constLabels,
			Buckets: prometheus.DefBuckets,
		}),
		CompactionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "compaction_total", Help: "Total compaction invocations by mode.", ConstLabels: constLabels,
		}, []string{"mode"}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "compaction_duration_seconds", Help: "Compaction duration.", ConstLabels: constLabels,
			Buckets: prometheus.DefBuckets,
		}),
		PagesRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pages_retired_total", Help: "Pages moved to orphans by compaction.", ConstLabels: constLabels,
		}),
		GCTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_total", Help: "Total garbage collection invocations.", ConstLabels: constLabels,
		}),
		GCSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_skipped_total", Help: "GC invocations skipped due to registered readers.", ConstLabels: constLabels,
		}),
		GCPagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_pages_reclaimed_total", Help: "Pages deleted by GC.", ConstLabels: constLabels,
		}),
		GCBytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_bytes_reclaimed_total", Help: "Bytes reclaimed by GC.", ConstLabels: constLabels,
		}),
		QueriesByOrder: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queries_total", Help: "Queries by selected index order.", ConstLabels: constLabels,
		}, []string{"order"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_duration_seconds", Help: "Query duration by order.", ConstLabels: constLabels,
			Buckets: prometheus.DefBuckets,
		}, []string{"order"}),
		DictionaryInterns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dictionary_interns_total", Help: "New dictionary entries interned.", ConstLabels: constLabels,
		}),
		DictionaryHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dictionary_hits_total", Help: "Dictionary lookups served from an existing entry.", ConstLabels: constLabels,
		}),
		ReaderRegistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reader_registrations_total", Help: "Reader registry registrations.", ConstLabels: constLabels,
		}),
		ReaderUnregistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reader_unregistrations_total", Help: "Reader registry unregistrations.", ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(
		c.FactsAdded, c.FactsDeleted,
		c.FlushTotal, c.FlushDuration,
		c.CompactionTotal, c.CompactionDuration, c.PagesRetired,
		c.GCTotal, c.GCSkipped, c.GCPagesReclaimed, c.GCBytesReclaimed,
		c.QueriesByOrder, c.QueryDuration,
		c.DictionaryInterns, c.DictionaryHits,
		c.ReaderRegistrations, c.ReaderUnregistrations,
	)
	return c
}

// Registry exposes the underlying Prometheus registry, e.g. for a caller
// to serve it over its own HTTP mux.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
