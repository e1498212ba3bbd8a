// Package metrics exposes the engine's observability surface via
// prometheus/client_golang, replacing the ad-hoc Stats()/PrintStats()
// map-of-interfaces pattern with real counters, gauges, and
// histograms, following the promauto registration idiom this codebase
// already used for its other subsystems.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the storage engine reports.
type Registry struct {
	registry *prometheus.Registry

	WritesTotal       *prometheus.CounterVec
	ReadsTotal        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	FlushesTotal      prometheus.Counter
	FlushDuration     prometheus.Histogram
	CompactionsTotal  *prometheus.CounterVec
	CompactionDuration *prometheus.HistogramVec

	MemStoreBytes       *prometheus.GaugeVec
	MemStoreCells       *prometheus.GaugeVec
	SSTableCount        *prometheus.GaugeVec
	TombstonesReclaimed *prometheus.CounterVec
}

// New creates a Registry backed by a fresh prometheus registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}

	r.WritesTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "colstore_writes_total",
		Help: "Total number of put/delete operations, by column family and kind.",
	}, []string{"cf", "kind"})

	r.ReadsTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "colstore_reads_total",
		Help: "Total number of get/scan operations, by column family and result.",
	}, []string{"cf", "result"})

	r.OperationDuration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colstore_operation_duration_seconds",
		Help:    "Duration of storage operations.",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"op"})

	r.FlushesTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "colstore_flushes_total",
		Help: "Total number of MemStore flushes to SSTable.",
	})

	r.FlushDuration = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name:    "colstore_flush_duration_seconds",
		Help:    "Duration of MemStore flushes.",
		Buckets: prometheus.DefBuckets,
	})

	r.CompactionsTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "colstore_compactions_total",
		Help: "Total number of compactions run, by type and outcome.",
	}, []string{"type", "outcome"})

	r.CompactionDuration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colstore_compaction_duration_seconds",
		Help:    "Duration of compaction runs, by type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	r.MemStoreBytes = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "colstore_memstore_bytes",
		Help: "Approximate size of the active MemStore in bytes.",
	}, []string{"cf"})

	r.MemStoreCells = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "colstore_memstore_cells",
		Help: "Number of cells buffered in the active MemStore.",
	}, []string{"cf"})

	r.SSTableCount = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "colstore_sstable_count",
		Help: "Number of SSTables currently on disk for a column family.",
	}, []string{"cf"})

	r.TombstonesReclaimed = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "colstore_tombstones_reclaimed_total",
		Help: "Total number of tombstones physically discarded by compaction.",
	}, []string{"cf"})

	return r
}

// Gatherer exposes the underlying prometheus registry for an HTTP
// /metrics handler to scrape, kept outside this package's scope.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordWrite records a put/delete and its latency.
func (r *Registry) RecordWrite(cf, kind string, d time.Duration) {
	r.WritesTotal.WithLabelValues(cf, kind).Inc()
	r.OperationDuration.WithLabelValues("write").Observe(d.Seconds())
}

// RecordRead records a get/scan and its latency.
func (r *Registry) RecordRead(cf, result string, d time.Duration) {
	r.ReadsTotal.WithLabelValues(cf, result).Inc()
	r.OperationDuration.WithLabelValues("read").Observe(d.Seconds())
}

// RecordFlush records a completed flush and its latency.
func (r *Registry) RecordFlush(d time.Duration) {
	r.FlushesTotal.Inc()
	r.FlushDuration.Observe(d.Seconds())
}

// RecordCompaction records a completed compaction, its outcome, and
// how many tombstones it physically reclaimed.
func (r *Registry) RecordCompaction(cf, typ, outcome string, d time.Duration, tombstonesReclaimed int) {
	r.CompactionsTotal.WithLabelValues(typ, outcome).Inc()
	r.CompactionDuration.WithLabelValues(typ).Observe(d.Seconds())
	if tombstonesReclaimed > 0 {
		r.TombstonesReclaimed.WithLabelValues(cf).Add(float64(tombstonesReclaimed))
	}
}

// SetMemStoreSize updates the MemStore size gauges for a column family.
func (r *Registry) SetMemStoreSize(cf string, cells, bytes int) {
	r.MemStoreCells.WithLabelValues(cf).Set(float64(cells))
	r.MemStoreBytes.WithLabelValues(cf).Set(float64(bytes))
}

// SetSSTableCount updates the SSTable count gauge for a column family.
func (r *Registry) SetSSTableCount(cf string, count int) {
	r.SSTableCount.WithLabelValues(cf).Set(float64(count))
}
