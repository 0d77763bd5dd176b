package redis

import (
	"sync/atomic"
	"time"
)

// Metrics tracks cache and staging statistics
type Metrics struct {
	// Read counters (ACTIVE generation)
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheErrors atomic.Uint64

	// Staging counters
	bulkSets    atomic.Uint64
	keysWritten atomic.Uint64
	keysStaged  atomic.Uint64 // prior values copied into SHADOW
	keysCreated atomic.Uint64 // keys with no prior ACTIVE value
	keysRestore atomic.Uint64 // values copied back into ACTIVE by rollback
	commits     atomic.Uint64
	rollbacks   atomic.Uint64
	leaseWaits  atomic.Uint64
	leaseRaces  atomic.Uint64

	// Timing metrics (in nanoseconds)
	totalGetLatency     atomic.Uint64
	getOperations       atomic.Uint64
	totalBulkSetLatency atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit increments cache hit counter
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss increments cache miss counter
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCacheError increments cache error counter
func (m *Metrics) RecordCacheError() {
	m.cacheErrors.Add(1)
}

// RecordGet records a get operation with latency
func (m *Metrics) RecordGet(duration time.Duration) {
	m.getOperations.Add(1)
	m.totalGetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordBulkSet records one bulk set with its key counts and latency
func (m *Metrics) RecordBulkSet(written, staged, created int, duration time.Duration) {
	m.bulkSets.Add(1)
	m.keysWritten.Add(uint64(written))
	m.keysStaged.Add(uint64(staged))
	m.keysCreated.Add(uint64(created))
	m.totalBulkSetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordCommit increments the commit counter
func (m *Metrics) RecordCommit() {
	m.commits.Add(1)
}

// RecordRollback records a rollback and the number of restored keys
func (m *Metrics) RecordRollback(restored int) {
	m.rollbacks.Add(1)
	m.keysRestore.Add(uint64(restored))
}

// RecordLeaseWait increments the counter of lease acquisitions that had to wait
func (m *Metrics) RecordLeaseWait() {
	m.leaseWaits.Add(1)
}

// RecordLeaseRace increments the counter of lease acquisitions that gave up
func (m *Metrics) RecordLeaseRace() {
	m.leaseRaces.Add(1)
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	var avgGet, avgBulkSet time.Duration
	if n := m.getOperations.Load(); n > 0 {
		avgGet = time.Duration(m.totalGetLatency.Load() / n)
	}
	bulkSets := m.bulkSets.Load()
	if bulkSets > 0 {
		avgBulkSet = time.Duration(m.totalBulkSetLatency.Load() / bulkSets)
	}

	return MetricsSnapshot{
		CacheHits:     hits,
		CacheMisses:   misses,
		CacheErrors:   m.cacheErrors.Load(),
		CacheHitRate:  hitRate,
		BulkSets:      bulkSets,
		KeysWritten:   m.keysWritten.Load(),
		KeysStaged:    m.keysStaged.Load(),
		KeysCreated:   m.keysCreated.Load(),
		KeysRestored:  m.keysRestore.Load(),
		Commits:       m.commits.Load(),
		Rollbacks:     m.rollbacks.Load(),
		LeaseWaits:    m.leaseWaits.Load(),
		LeaseRaces:    m.leaseRaces.Load(),
		AvgGetLatency: avgGet,
		AvgBulkSet:    avgBulkSet,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	// Read metrics
	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheErrors  uint64  `json:"cache_errors"`
	CacheHitRate float64 `json:"cache_hit_rate"` // Percentage

	// Staging metrics
	BulkSets     uint64 `json:"bulk_sets"`
	KeysWritten  uint64 `json:"keys_written"`
	KeysStaged   uint64 `json:"keys_staged"`
	KeysCreated  uint64 `json:"keys_created"`
	KeysRestored uint64 `json:"keys_restored"`
	Commits      uint64 `json:"commits"`
	Rollbacks    uint64 `json:"rollbacks"`
	LeaseWaits   uint64 `json:"lease_waits"`
	LeaseRaces   uint64 `json:"lease_races"`

	// Latency metrics
	AvgGetLatency time.Duration `json:"avg_get_latency"`
	AvgBulkSet    time.Duration `json:"avg_bulk_set"`
}
