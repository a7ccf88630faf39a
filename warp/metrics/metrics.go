// Package metrics provides Prometheus-compatible instrumentation for the
// materialization pipeline, grounded in the teacher engine's
// PrometheusMetrics (graph/metrics.go) and retargeted at WARP's own
// checkpoint/GC/index events instead of node execution.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes, all namespaced "warp_":
//
//  1. shard_cache_size (gauge): entries currently held by the bitmap
//     reader's LRU shard cache.
//  2. checkpoint_duration_ms (histogram): wall time to create or load a
//     checkpoint, labeled by graph and operation (create/load).
//  3. index_rebuild_duration_ms (histogram): wall time for
//     IndexRebuildService to walk+build+persist, labeled by graph and mode
//     (memory/streaming).
//  4. gc_runs_total (counter): completed GC runs, labeled by graph.
//  5. gc_dots_collected_total (counter): tombstoned dots physically
//     removed by compaction, labeled by graph.
//  6. staleness_checks_total (counter): staleness checks performed,
//     labeled by graph and result (fresh/stale).
//
// Thread-safe: every method is safe for concurrent use.
type Metrics struct {
	shardCacheSize        prometheus.Gauge
	checkpointDuration     *prometheus.HistogramVec
	indexRebuildDuration   *prometheus.HistogramVec
	gcRuns                *prometheus.CounterVec
	gcDotsCollected        *prometheus.CounterVec
	stalenessChecks        *prometheus.CounterVec

	registry prometheus.Registerer
	mu       sync.RWMutex
	enabled  bool
}

// New creates and registers every WARP metric with registry (the default
// global registerer if nil).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{registry: registry, enabled: true}

	m.shardCacheSize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "warp",
		Name:      "shard_cache_size",
		Help:      "Entries currently held by the bitmap index reader's LRU shard cache",
	})

	m.checkpointDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warp",
		Name:      "checkpoint_duration_ms",
		Help:      "Wall time to create or load a checkpoint, in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"graph", "op"})

	m.indexRebuildDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warp",
		Name:      "index_rebuild_duration_ms",
		Help:      "Wall time for an index rebuild (walk + build + persist), in milliseconds",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 30000, 60000, 300000},
	}, []string{"graph", "mode"})

	m.gcRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Name:      "gc_runs_total",
		Help:      "Completed garbage-collection runs",
	}, []string{"graph"})

	m.gcDotsCollected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Name:      "gc_dots_collected_total",
		Help:      "Tombstoned dots physically removed by compaction",
	}, []string{"graph"})

	m.stalenessChecks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Name:      "staleness_checks_total",
		Help:      "Index staleness checks performed",
	}, []string{"graph", "result"})

	return m
}

func (m *Metrics) SetShardCacheSize(n int) {
	if !m.isEnabled() {
		return
	}
	m.shardCacheSize.Set(float64(n))
}

func (m *Metrics) RecordCheckpointDuration(graph, op string, d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.checkpointDuration.WithLabelValues(graph, op).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RecordIndexRebuildDuration(graph, mode string, d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.indexRebuildDuration.WithLabelValues(graph, mode).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncrementGCRuns(graph string) {
	if !m.isEnabled() {
		return
	}
	m.gcRuns.WithLabelValues(graph).Inc()
}

func (m *Metrics) AddGCDotsCollected(graph string, n int) {
	if !m.isEnabled() || n <= 0 {
		return
	}
	m.gcDotsCollected.WithLabelValues(graph).Add(float64(n))
}

func (m *Metrics) IncrementStalenessChecks(graph, result string) {
	if !m.isEnabled() {
		return
	}
	m.stalenessChecks.WithLabelValues(graph, result).Inc()
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops recording without unregistering from the registry.
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}
