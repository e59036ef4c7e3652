package timeline

import "sync/atomic"

// Generation is a monotonically increasing counter guarding refresh
// staleness per timeline.
//
// Every refresh takes the next generation number before fetching; a fetch
// that completes after a newer refresh has started carries a stale number
// and its result is discarded rather than applied. Discards are expected
// steady-state behavior, never surfaced as errors.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Generation struct {
	seq atomic.Int64
}

// Next returns the next generation number and advances the counter.
func (g *Generation) Next() int64 {
	return g.seq.Add(1)
}

// Current returns the active generation without advancing.
func (g *Generation) Current() int64 {
	return g.seq.Load()
}

// ShouldCommit reports whether a fetch started at generation candidate may
// commit its result while active is the newest generation.
func ShouldCommit(active, candidate int64) bool {
	return active == candidate
}
