// Package observability provides cache activity tracking for monitoring
// descriptor churn and spotting relations that rebuild too often.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/relmeta/relmeta/pkg/types"
)

// CacheStats tracks per-relation descriptor cache activity.
type CacheStats struct {
	mu        sync.RWMutex
	relations map[types.RelationID]*RelationStats
	window    time.Duration
}

// RelationStats holds cache counters for one relation.
type RelationStats struct {
	Relid         types.RelationID
	Hits          int64
	Misses        int64
	Rebuilds      int64
	Invalidations int64
	LastAccess    time.Time
}

// NewCacheStats creates a cache activity tracker.
// window: time duration for pruning idle entries (e.g., 1 hour)
func NewCacheStats(window time.Duration) *CacheStats {
	return &CacheStats{
		relations: make(map[types.RelationID]*RelationStats),
		window:    window,
	}
}

// RecordHit records a descriptor served from cache.
// This method is O(1) and thread-safe.
func (c *CacheStats) RecordHit(relid types.RelationID) {
	c.record(relid, func(s *RelationStats) { s.Hits++ })
}

// RecordMiss records a lookup that had to go to the catalog.
// This method is O(1) and thread-safe.
func (c *CacheStats) RecordMiss(relid types.RelationID) {
	c.record(relid, func(s *RelationStats) { s.Misses++ })
}

// RecordRebuild records a descriptor rebuild.
func (c *CacheStats) RecordRebuild(relid types.RelationID) {
	c.record(relid, func(s *RelationStats) { s.Rebuilds++ })
}

// RecordInvalidation records an invalidation applied to the relation.
func (c *CacheStats) RecordInvalidation(relid types.RelationID) {
	c.record(relid, func(s *RelationStats) { s.Invalidations++ })
}

func (c *CacheStats) record(relid types.RelationID, update func(*RelationStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.relations[relid]
	if !exists {
		stats = &RelationStats{Relid: relid}
		c.relations[relid] = stats
	}
	update(stats)
	stats.LastAccess = time.Now()
}

// Get returns a copy of one relation's counters.
func (c *CacheStats) Get(relid types.RelationID) (RelationStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats, ok := c.relations[relid]
	if !ok {
		return RelationStats{}, false
	}
	return *stats, true
}

// TopByChurn returns the top N relations by invalidation-plus-rebuild
// count. Returns copies sorted descending.
func (c *CacheStats) TopByChurn(n int) []RelationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || len(c.relations) == 0 {
		return []RelationStats{}
	}

	stats := make([]RelationStats, 0, len(c.relations))
	for _, s := range c.relations {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Invalidations+stats[i].Rebuilds >
			stats[j].Invalidations+stats[j].Rebuilds
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastAccess) > window.
// This should be called periodically.
func (c *CacheStats) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := time.Now().Add(-c.window)
	for relid, stats := range c.relations {
		if stats.LastAccess.Before(threshold) {
			delete(c.relations, relid)
		}
	}
}
