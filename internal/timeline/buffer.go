package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/unifeed/internal/feed"
)

// Snapshot summarizes buffered posts for the "N new posts" affordance.
type Snapshot struct {
	// Count is the number of posts held in the buffer.
	Count int

	// EarliestCreatedAt is the creation time of the oldest buffered post.
	EarliestCreatedAt time.Time

	// Sources lists the distinct platforms present, in first-seen order.
	Sources []feed.Platform
}

// Buffer holds posts fetched while the feed should not visually shift,
// e.g. a background poll landing mid-scroll.
//
// Buffering never mutates the visible feed; posts sit here until an
// explicit drain merges them.
type Buffer struct {
	mu    sync.Mutex
	posts []*feed.Post
	byID  map[feed.CanonicalPostID]struct{}
}

// NewBuffer creates an empty staging buffer.
func NewBuffer() *Buffer {
	return &Buffer{byID: make(map[feed.CanonicalPostID]struct{})}
}

// Append stages incoming posts, deduping against the currently visible set
// (by canonical identity) and against posts already buffered.
//
// Returns a snapshot of the buffer, or nil when nothing new was added.
func (b *Buffer) Append(incoming, visible []*feed.Post) *Snapshot {
	visibleIDs := make(map[feed.CanonicalPostID]struct{}, len(visible))
	for _, p := range visible {
		visibleIDs[feed.CanonicalID(p)] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, p := range incoming {
		if p == nil {
			continue
		}
		id := feed.CanonicalID(p)
		if _, seen := visibleIDs[id]; seen {
			continue
		}
		if _, seen := b.byID[id]; seen {
			continue
		}
		b.byID[id] = struct{}{}
		b.posts = append(b.posts, p)
		added++
	}

	if added == 0 {
		return nil
	}
	return b.snapshotLocked()
}

// Drain returns the buffered posts sorted strictly newest-first by creation
// time, clearing the buffer.
func (b *Buffer) Drain() []*feed.Post {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.posts
	b.posts = nil
	b.byID = make(map[feed.CanonicalPostID]struct{})

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Clear discards buffered posts, returning an empty snapshot.
func (b *Buffer) Clear() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.posts = nil
	b.byID = make(map[feed.CanonicalPostID]struct{})
	return Snapshot{}
}

// Snapshot returns the current buffer summary without mutating it.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.snapshotLocked()
	if snap == nil {
		return Snapshot{}
	}
	return *snap
}

func (b *Buffer) snapshotLocked() *Snapshot {
	if len(b.posts) == 0 {
		return &Snapshot{}
	}

	snap := &Snapshot{Count: len(b.posts)}
	seen := make(map[feed.Platform]struct{})
	for i, p := range b.posts {
		if i == 0 || p.CreatedAt.Before(snap.EarliestCreatedAt) {
			snap.EarliestCreatedAt = p.CreatedAt
		}
		if _, ok := seen[p.Platform]; !ok {
			seen[p.Platform] = struct{}{}
			snap.Sources = append(snap.Sources, p.Platform)
		}
	}
	return snap
}
