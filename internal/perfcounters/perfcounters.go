// Package perfcounters implements the side-effect-only perf-counter
// contract consumed by IdMap, DAG, and the derived-data framework.
// Counters are process-local integers; exporting them to a stats sink is
// an external collaborator's concern, outside this package's scope.
package perfcounters

import "sync"

// Counters is a named bag of monotonically-increasing counters. The zero
// value is ready to use.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
}

// Incr increments the named counter by one.
func (c *Counters) Incr(name string) { c.Add(name, 1) }

// Add increments the named counter by delta, creating it at zero first.
func (c *Counters) Add(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]int64)
	}
	c.values[name] += delta
}

// Get returns the current value of the named counter.
func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot returns a copy of all counters currently tracked.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Well-known counter names used by IdMap, the DAG, and the bookmark
// store. Reads record which handle served them; writes have a single
// counter per component.
const (
	IdMapReplicaRead = "idmap.read.replica"
	IdMapMasterRead  = "idmap.read.master"
	IdMapWrite       = "idmap.write"

	DagSegmentRead = "dag.segment.read"

	BookmarkRead  = "bookmarks.read"
	BookmarkWrite = "bookmarks.write"

	DeriveRun      = "derive.run"
	DeriveCacheHit = "derive.cache_hit"
)
