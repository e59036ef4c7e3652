package feed

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultMaxTracked caps the number of canonical posts held in memory.
// The reference behavior is unbounded; a cap prevents long-lived sessions
// from growing without limit.
const DefaultMaxTracked = 10000

// Store is the cross-timeline merge/dedup table.
//
// Repeated sightings of the same logical post - including boost wrappers
// surfaced via different source accounts - aggregate into one CanonicalPost
// shared by reference across every timeline that contains it. Each timeline
// holds at most one TimelineEntry per canonical identity.
//
// Thread-safety: all mutation goes through Store methods under a single
// mutex. Read accessors return copies, never internal slices.
type Store struct {
	mu sync.Mutex

	maxTracked int
	seq        int64 // recency stamp for eviction

	posts    map[CanonicalPostID]*CanonicalPost
	lastSeen map[CanonicalPostID]int64

	// events dedups SocialEvents by (actor, canonical id); eventOrder
	// preserves first-seen actor order per post for summary text.
	events     map[CanonicalPostID]map[string]SocialEvent
	eventOrder map[CanonicalPostID][]string

	timelines map[string]*timelineState
}

type timelineState struct {
	entries []TimelineEntry
	byID    map[CanonicalPostID]int // canonical id -> index into entries
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxTracked overrides the canonical post cap.
// Values <= 0 disable eviction entirely.
func WithMaxTracked(n int) StoreOption {
	return func(s *Store) {
		s.maxTracked = n
	}
}

// NewStore creates an empty canonical post store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		maxTracked: DefaultMaxTracked,
		posts:      make(map[CanonicalPostID]*CanonicalPost),
		lastSeen:   make(map[CanonicalPostID]int64),
		events:     make(map[CanonicalPostID]map[string]SocialEvent),
		eventOrder: make(map[CanonicalPostID][]string),
		timelines:  make(map[string]*timelineState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReplaceTimeline wholesale-replaces one timeline's entry set (cold refresh).
//
// Every supplied post is resolved to its canonical identity; canonical
// records are created or updated; entries are rebuilt with dedup. Two posts
// resolving to the same identity collapse to one entry, and boost wrappers
// record their actor as a SocialEvent.
func (s *Store) ReplaceTimeline(timelineID string, posts []*Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl := &timelineState{byID: make(map[CanonicalPostID]int)}
	s.timelines[timelineID] = tl

	for _, p := range posts {
		s.ingestLocked(tl, p)
	}
	sortEntriesNewestFirst(tl.entries)
	s.reindexLocked(tl)
	s.evictLocked()

	slog.Debug("timeline replaced",
		"timeline", timelineID,
		"incoming", len(posts),
		"entries", len(tl.entries),
	)
}

// ProcessIncomingPosts incrementally merges posts into a timeline
// (pagination, background refresh).
//
// Idempotent: processing the same boost twice never double-counts it -
// SocialEvents dedup by (actor, canonical id). Receiving "original then
// boost" or "boost then original" converges to the same final state.
func (s *Store) ProcessIncomingPosts(posts []*Post, timelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.timelines[timelineID]
	if !ok {
		tl = &timelineState{byID: make(map[CanonicalPostID]int)}
		s.timelines[timelineID] = tl
	}

	for _, p := range posts {
		s.ingestLocked(tl, p)
	}
	sortEntriesNewestFirst(tl.entries)
	s.reindexLocked(tl)
	s.evictLocked()
}

// ingestLocked records one sighting: canonical record, social events, and
// the timeline entry (created or upgraded in place).
func (s *Store) ingestLocked(tl *timelineState, p *Post) {
	if p == nil {
		return
	}

	id := CanonicalID(p)
	s.seq++
	s.lastSeen[id] = s.seq

	cp, exists := s.posts[id]
	if !exists {
		cp = &CanonicalPost{ID: id, Content: DisplayPost(p)}
		s.posts[id] = cp
	}
	// First-seen content wins; later sightings never overwrite it.

	if p.IsBoost() && p.AuthorHandle != "" {
		s.recordRepostLocked(cp, p)
	}

	origin := DisplayPost(p)

	if idx, ok := tl.byID[id]; ok {
		// Entry already present: a boost sighting upgrades attribution,
		// everything else is a no-op so ordering is arrival-independent.
		if p.IsBoost() && tl.entries[idx].Kind != EntryKindBoost {
			tl.entries[idx].Kind = EntryKindBoost
			tl.entries[idx].BoostedBy = p.AuthorHandle
		}
		return
	}

	// ParentID always derives from the origin, so a boosted reply keeps its
	// thread parent whichever sighting creates the entry.
	entry := TimelineEntry{
		ID:          string(id),
		Kind:        EntryKindNormal,
		ParentID:    origin.InReplyToID,
		CanonicalID: id,
		CreatedAt:   origin.CreatedAt,
	}
	switch {
	case p.IsBoost():
		entry.Kind = EntryKindBoost
		entry.BoostedBy = p.AuthorHandle
	case origin.InReplyToID != "":
		entry.Kind = EntryKindReply
	}

	tl.byID[id] = len(tl.entries)
	tl.entries = append(tl.entries, entry)
}

// recordRepostLocked accumulates a boost sighting into the canonical post's
// social context, deduped by actor handle.
func (s *Store) recordRepostLocked(cp *CanonicalPost, wrapper *Post) {
	byActor, ok := s.events[cp.ID]
	if !ok {
		byActor = make(map[string]SocialEvent)
		s.events[cp.ID] = byActor
	}
	if _, seen := byActor[wrapper.AuthorHandle]; seen {
		return
	}

	byActor[wrapper.AuthorHandle] = SocialEvent{
		ActorHandle: wrapper.AuthorHandle,
		Kind:        SocialEventRepost,
		CanonicalID: cp.ID,
		At:          wrapper.CreatedAt,
	}
	s.eventOrder[cp.ID] = append(s.eventOrder[cp.ID], wrapper.AuthorHandle)

	cp.Social.RepostActorCount = len(byActor)
	cp.Social.RepostActorNames = append([]string(nil), s.eventOrder[cp.ID]...)
}

// CanonicalPostFor returns the shared canonical record for an identity.
func (s *Store) CanonicalPostFor(id CanonicalPostID) (CanonicalPost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.posts[id]
	if !ok {
		return CanonicalPost{}, false
	}
	s.seq++
	s.lastSeen[id] = s.seq
	return *cp, true
}

// TimelineEntries returns the timeline's entries, newest-first.
func (s *Store) TimelineEntries(timelineID string) []TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.timelines[timelineID]
	if !ok {
		return []TimelineEntry{}
	}
	out := make([]TimelineEntry, len(tl.entries))
	copy(out, tl.entries)
	return out
}

// TimelinePosts returns the display posts backing a timeline's entries,
// newest-first. Entries whose canonical record was evicted are skipped.
func (s *Store) TimelinePosts(timelineID string) []*Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.timelines[timelineID]
	if !ok {
		return []*Post{}
	}
	out := make([]*Post, 0, len(tl.entries))
	for _, e := range tl.entries {
		if cp, ok := s.posts[e.CanonicalID]; ok {
			out = append(out, cp.Content)
		}
	}
	return out
}

// SocialEvents returns the deduplicated repost events for a canonical post
// in first-seen order.
func (s *Store) SocialEvents(id CanonicalPostID) []SocialEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.eventOrder[id]
	byActor := s.events[id]
	out := make([]SocialEvent, 0, len(order))
	for _, actor := range order {
		if ev, ok := byActor[actor]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// BoostSummaryText formats the distinct boosters of a canonical post in
// first-seen order: "a boosted", "a and b boosted",
// "a, b, and 2 others boosted". Empty string when nobody boosted.
func (s *Store) BoostSummaryText(id CanonicalPostID) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.eventOrder[id]
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s boosted", names[0])
	case 2:
		return fmt.Sprintf("%s and %s boosted", names[0], names[1])
	default:
		return fmt.Sprintf("%s, %s, and %d others boosted", names[0], names[1], len(names)-2)
	}
}

// TrackedCount returns the number of canonical posts currently held.
func (s *Store) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// evictLocked drops least-recently-seen canonical posts over the cap.
// Posts still referenced by a timeline entry are never evicted - removing
// them would corrupt visible ordering.
func (s *Store) evictLocked() {
	if s.maxTracked <= 0 || len(s.posts) <= s.maxTracked {
		return
	}

	referenced := make(map[CanonicalPostID]struct{})
	for _, tl := range s.timelines {
		for id := range tl.byID {
			referenced[id] = struct{}{}
		}
	}

	type candidate struct {
		id   CanonicalPostID
		seen int64
	}
	candidates := make([]candidate, 0, len(s.posts))
	for id := range s.posts {
		if _, ok := referenced[id]; ok {
			continue
		}
		candidates = append(candidates, candidate{id, s.lastSeen[id]})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].seen < candidates[j].seen
	})

	excess := len(s.posts) - s.maxTracked
	for i := 0; i < excess && i < len(candidates); i++ {
		id := candidates[i].id
		delete(s.posts, id)
		delete(s.lastSeen, id)
		delete(s.events, id)
		delete(s.eventOrder, id)
	}
}

// reindexLocked rebuilds the id->index map after a sort.
func (s *Store) reindexLocked(tl *timelineState) {
	for i, e := range tl.entries {
		tl.byID[e.CanonicalID] = i
	}
}

// sortEntriesNewestFirst orders entries by creation time descending, with
// entry id as a deterministic tiebreaker.
func sortEntriesNewestFirst(entries []TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
