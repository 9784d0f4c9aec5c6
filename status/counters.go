// Package status defines the per-cycle accumulators the Downloader and
// Sender publish progress through, plus the weak-reference progress
// callback contract the spec requires: a caller that drops its
// observer must not keep the cycle's state alive.
package status

import "sync"

// EntityCounts tracks how many entities of one kind were present vs.
// expunged in a chunk, and how many of each have been processed so
// far. Present/Expunged are totals parsed from the chunk up front;
// ProcessedPresent/ProcessedExpunged advance as the processor works
// through them.
type EntityCounts struct {
	Present           int
	Expunged          int
	ProcessedPresent  int
	ProcessedExpunged int
}

// SyncChunksDataCounters accumulates totals and processed counts for
// notebooks, tags, saved searches and linked notebooks across however
// many chunks one scope (user-own or one linked notebook) produced.
// One mutex per cycle guards all mutation.
type SyncChunksDataCounters struct {
	mu sync.Mutex

	Notebooks       EntityCounts
	Tags            EntityCounts
	SavedSearches   EntityCounts
	LinkedNotebooks EntityCounts
}

// NewSyncChunksDataCounters returns counters with every total and
// processed count at zero; the present/expunged totals of the fetched
// chunks are added with AddTotals before the four entity processors
// start.
func NewSyncChunksDataCounters() *SyncChunksDataCounters {
	return &SyncChunksDataCounters{}
}

func (c *SyncChunksDataCounters) AddTotals(kind string, present, expunged int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ec := c.fieldLocked(kind)
	ec.Present += present
	ec.Expunged += expunged
}

func (c *SyncChunksDataCounters) MarkProcessed(kind string, present, expunged int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ec := c.fieldLocked(kind)
	ec.ProcessedPresent += present
	ec.ProcessedExpunged += expunged
}

// fieldLocked must be called with mu held.
func (c *SyncChunksDataCounters) fieldLocked(kind string) *EntityCounts {
	switch kind {
	case "notebooks":
		return &c.Notebooks
	case "tags":
		return &c.Tags
	case "saved_searches":
		return &c.SavedSearches
	case "linked_notebooks":
		return &c.LinkedNotebooks
	default:
		panic("status: unknown entity kind " + kind)
	}
}

// CountersSnapshot is a plain-data copy of SyncChunksDataCounters,
// safe to hand to a progress callback that may read it after the
// call that produced it returns.
type CountersSnapshot struct {
	Notebooks       EntityCounts
	Tags            EntityCounts
	SavedSearches   EntityCounts
	LinkedNotebooks EntityCounts
}

// Snapshot returns an independent copy safe to publish to callbacks.
func (c *SyncChunksDataCounters) Snapshot() CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CountersSnapshot{
		Notebooks:       c.Notebooks,
		Tags:            c.Tags,
		SavedSearches:   c.SavedSearches,
		LinkedNotebooks: c.LinkedNotebooks,
	}
}
