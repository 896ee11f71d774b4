// Package metrics wires the DB façade's counters and gauges into
// github.com/prometheus/client_golang, following the teacher's metrics.go
// field-grouping style but registered on a private per-Metrics registry
// (Metrics.Registry) instead of the global default, so embedding multiple
// DBs in one process doesn't collide on metric names.
package metrics

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// LevelStats summarizes one level of the table tree at a point in time.
type LevelStats struct {
	Level      int
	TableCount int
	Bytes      uint64
}

// Snapshot is the value returned by DB.Metrics(): a point-in-time view of
// the table tree's shape alongside cache and WAL throughput counters.
type Snapshot struct {
	Levels           []LevelStats
	CacheHits        uint64
	CacheMisses      uint64
	CacheHitRate     float64
	WALBytesWritten  uint64
	FlushCount       uint64
	CompactionCount  uint64
}

// Metrics holds the live counters/gauges for one DB.
type Metrics struct {
	Registry *prometheus.Registry

	flushCount      atomic.Uint64
	compactionCount atomic.Uint64
	cacheHits       atomic.Uint64
	cacheMisses     atomic.Uint64
	walBytesWritten atomic.Uint64

	promFlush       prometheus.Counter
	promCompaction  prometheus.Counter
	promCacheHits   prometheus.Counter
	promCacheMisses prometheus.Counter
	promWALBytes    prometheus.Counter
	promLevelTables *prometheus.GaugeVec
	promLevelBytes  *prometheus.GaugeVec
}

// New returns a Metrics with a fresh, private prometheus.Registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		promFlush: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvlite", Name: "flush_total", Help: "Number of memtable flushes to L0.",
		}),
		promCompaction: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvlite", Name: "compaction_total", Help: "Number of completed compactions.",
		}),
		promCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvlite", Name: "cache_hits_total", Help: "Block cache hits.",
		}),
		promCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvlite", Name: "cache_misses_total", Help: "Block cache misses.",
		}),
		promWALBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvlite", Name: "wal_bytes_written_total", Help: "Bytes appended to WAL files.",
		}),
		promLevelTables: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvlite", Name: "level_tables", Help: "Number of SSTables per level.",
		}, []string{"level"}),
		promLevelBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvlite", Name: "level_bytes", Help: "Total SSTable bytes per level.",
		}, []string{"level"}),
	}
	m.Registry.MustRegister(m.promFlush, m.promCompaction, m.promCacheHits,
		m.promCacheMisses, m.promWALBytes, m.promLevelTables, m.promLevelBytes)
	return m
}

// IncFlush records one completed flush.
func (m *Metrics) IncFlush() {
	m.flushCount.Add(1)
	m.promFlush.Inc()
}

// IncCompaction records one completed compaction.
func (m *Metrics) IncCompaction() {
	m.compactionCount.Add(1)
	m.promCompaction.Inc()
}

// RecordCacheHit records a block cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
	m.promCacheHits.Inc()
}

// RecordCacheMiss records a block cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
	m.promCacheMisses.Inc()
}

// AddWALBytes records n bytes appended to the active WAL.
func (m *Metrics) AddWALBytes(n uint64) {
	m.walBytesWritten.Add(n)
	m.promWALBytes.Add(float64(n))
}

// SetLevelStats updates the exported gauges for one level.
func (m *Metrics) SetLevelStats(level, tableCount int, bytes uint64) {
	l := strconv.Itoa(level)
	m.promLevelTables.WithLabelValues(l).Set(float64(tableCount))
	m.promLevelBytes.WithLabelValues(l).Set(float64(bytes))
}

// Snapshot returns a point-in-time copy of the counters, combined with the
// caller-supplied per-level stats (the DB façade derives those from its
// current Version).
func (m *Metrics) Snapshot(levels []LevelStats) Snapshot {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Snapshot{
		Levels:          levels,
		CacheHits:       hits,
		CacheMisses:     misses,
		CacheHitRate:    rate,
		WALBytesWritten: m.walBytesWritten.Load(),
		FlushCount:      m.flushCount.Load(),
		CompactionCount: m.compactionCount.Load(),
	}
}
