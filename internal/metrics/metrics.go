// Package metrics exposes Prometheus instrumentation for the queue
// engine, the transaction executor, the cache, and the storage layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the observer seams of the engine, executor,
// cache, and Pebble wrapper against one Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	opTotal    *prometheus.CounterVec
	opLatency  *prometheus.HistogramVec
	waiting    *prometheus.GaugeVec
	conflicts  *prometheus.CounterVec
	cacheHits  prometheus.Counter
	cacheMiss  prometheus.Counter
	storeRead  prometheus.Histogram
	storeWrite prometheus.Histogram
	batchOps   prometheus.Histogram
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		opTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitline_queue_ops_total",
			Help: "Queue operations by name and outcome",
		}, []string{"op", "outcome"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pitline_queue_op_latency_seconds",
			Help:    "Queue operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pitline_queue_waiting",
			Help: "Current waiting entries per location",
		}, []string{"location"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitline_txn_conflicts_total",
			Help: "Optimistic write conflicts by operation",
		}, []string{"op"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitline_cache_hits_total",
			Help: "Cache hits",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitline_cache_misses_total",
			Help: "Cache misses",
		}),
		storeRead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pitline_store_read_seconds",
			Help:    "Storage read latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		storeWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pitline_store_write_seconds",
			Help:    "Storage write latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		batchOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pitline_store_batch_ops",
			Help:    "Operations per committed storage batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
	}

	c.registry.MustRegister(
		c.opTotal,
		c.opLatency,
		c.waiting,
		c.conflicts,
		c.cacheHits,
		c.cacheMiss,
		c.storeRead,
		c.storeWrite,
		c.batchOps,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test scraping.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// OpDone implements the queue engine observer.
func (c *Collector) OpDone(op, outcome string, elapsed time.Duration) {
	c.opTotal.WithLabelValues(op, outcome).Inc()
	c.opLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetWaiting implements the queue engine observer.
func (c *Collector) SetWaiting(location string, count int) {
	c.waiting.WithLabelValues(location).Set(float64(count))
}

// TxnConflict implements the executor observer.
func (c *Collector) TxnConflict(op string) {
	c.conflicts.WithLabelValues(op).Inc()
}

// CacheHit implements the cache observer.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss implements the cache observer.
func (c *Collector) CacheMiss() { c.cacheMiss.Inc() }

// ObserveRead implements the storage metrics hook.
func (c *Collector) ObserveRead(elapsed time.Duration, bytes int) {
	c.storeRead.Observe(elapsed.Seconds())
}

// ObserveWrite implements the storage metrics hook.
func (c *Collector) ObserveWrite(elapsed time.Duration, bytes int) {
	c.storeWrite.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements the storage metrics hook.
func (c *Collector) ObserveBatchCommit(elapsed time.Duration, numOps, bytes int) {
	c.storeWrite.Observe(elapsed.Seconds())
	c.batchOps.Observe(float64(numOps))
}
