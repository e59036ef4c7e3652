package action

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/unifeed/internal/feed"
)

// Store is the single source of truth for interaction state, addressable
// by stable post id.
//
// Author-level facts (follow/mute/block) propagate through a secondary
// index (author id -> tracked stable ids) so every visible post by the
// same author reflects them consistently.
//
// Thread-safety: single-writer discipline - all mutation goes through
// Store methods under one mutex. Reads return value copies.
type Store struct {
	mu sync.Mutex

	states   map[string]*PostActionState
	byAuthor map[string]map[string]struct{}

	// pending and inflight are disjoint: "pending" means queued and not
	// yet dispatched (offline), "inflight" means a request is in flight.
	pending  map[string]struct{}
	inflight map[string]struct{}

	now func() time.Time
}

// NewStore creates an empty action state store.
func NewStore() *Store {
	return &Store{
		states:   make(map[string]*PostActionState),
		byAuthor: make(map[string]map[string]struct{}),
		pending:  make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for deterministic tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// EnsureState returns the tracked state for a post, seeding one from the
// post's embedded counters on first sight. Idempotent: an existing state
// is returned untouched.
func (s *Store) EnsureState(p *feed.Post) PostActionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	origin := feed.DisplayPost(p)
	if st, ok := s.states[origin.StableID]; ok {
		return *st
	}

	st := &PostActionState{
		StableID:    origin.StableID,
		Platform:    origin.Platform,
		AuthorID:    origin.AuthorID,
		IsLiked:     origin.IsLiked,
		IsReposted:  origin.IsReposted,
		LikeCount:   origin.LikeCount,
		RepostCount: origin.RepostCount,
		ReplyCount:  origin.ReplyCount,
		LastUpdated: s.now(),
	}
	s.states[origin.StableID] = st
	s.indexAuthorLocked(origin.AuthorID, origin.StableID)
	return *st
}

// State returns a copy of the tracked state for a stable id.
func (s *Store) State(stableID string) (PostActionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stableID]
	if !ok {
		return PostActionState{}, false
	}
	return *st, true
}

// OptimisticLike flips the like flag and adjusts the like count.
// Returns the previous state so the caller can roll back on failure.
func (s *Store) OptimisticLike(stableID string, liked bool) (PostActionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stableID]
	if !ok {
		return PostActionState{}, false
	}
	prev := *st

	if st.IsLiked != liked {
		st.IsLiked = liked
		if liked {
			st.LikeCount++
		} else if st.LikeCount > 0 {
			st.LikeCount--
		}
	}
	st.LastUpdated = s.now()
	return prev, true
}

// OptimisticRepost flips the repost flag and adjusts the repost count.
// Returns the previous state so the caller can roll back on failure.
func (s *Store) OptimisticRepost(stableID string, reposted bool) (PostActionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stableID]
	if !ok {
		return PostActionState{}, false
	}
	prev := *st

	if st.IsReposted != reposted {
		st.IsReposted = reposted
		if reposted {
			st.RepostCount++
		} else if st.RepostCount > 0 {
			st.RepostCount--
		}
	}
	st.LastUpdated = s.now()
	return prev, true
}

// OptimisticFollow sets the follow flag on every tracked post by the author.
// Returns the previous states keyed by stable id for rollback.
func (s *Store) OptimisticFollow(authorID string, following bool) map[string]PostActionState {
	return s.mutateAuthor(authorID, func(st *PostActionState) {
		st.IsFollowingAuthor = following
	})
}

// OptimisticMute sets the mute flag on every tracked post by the author.
// Returns the previous states keyed by stable id for rollback.
func (s *Store) OptimisticMute(authorID string, muted bool) map[string]PostActionState {
	return s.mutateAuthor(authorID, func(st *PostActionState) {
		st.IsMutedAuthor = muted
	})
}

// OptimisticBlock sets the block flag on every tracked post by the author.
// Returns the previous states keyed by stable id for rollback.
func (s *Store) OptimisticBlock(authorID string, blocked bool) map[string]PostActionState {
	return s.mutateAuthor(authorID, func(st *PostActionState) {
		st.IsBlockedAuthor = blocked
	})
}

func (s *Store) mutateAuthor(authorID string, mutate func(*PostActionState)) map[string]PostActionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make(map[string]PostActionState)
	for stableID := range s.byAuthor[authorID] {
		st := s.states[stableID]
		prev[stableID] = *st
		mutate(st)
		st.LastUpdated = s.now()
	}
	return prev
}

// Reconcile overwrites local state with authoritative server values.
//
// Post-level fields land on the addressed state only; author-level fields
// (follow/mute/block) propagate to every sibling sharing the author.
func (s *Store) Reconcile(stableID string, server PostActionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stableID]
	if !ok {
		st = &PostActionState{StableID: stableID}
		s.states[stableID] = st
	}

	authorID := st.AuthorID
	if server.AuthorID != "" {
		authorID = server.AuthorID
	}

	*st = server
	st.StableID = stableID
	st.AuthorID = authorID
	st.LastUpdated = s.now()
	s.indexAuthorLocked(authorID, stableID)

	for siblingID := range s.byAuthor[authorID] {
		if siblingID == stableID {
			continue
		}
		sibling := s.states[siblingID]
		sibling.IsFollowingAuthor = server.IsFollowingAuthor
		sibling.IsMutedAuthor = server.IsMutedAuthor
		sibling.IsBlockedAuthor = server.IsBlockedAuthor
		sibling.LastUpdated = s.now()
	}
}

// Restore puts back a previously captured state (rollback after a failed
// post-level action).
func (s *Store) Restore(prev PostActionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(prev)
}

// RestoreAll puts back a set of previously captured states (rollback after
// a failed author-level action).
func (s *Store) RestoreAll(prev map[string]PostActionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range prev {
		s.restoreLocked(st)
	}
}

func (s *Store) restoreLocked(prev PostActionState) {
	st, ok := s.states[prev.StableID]
	if !ok {
		st = &PostActionState{}
		s.states[prev.StableID] = st
	}
	*st = prev
	s.indexAuthorLocked(prev.AuthorID, prev.StableID)
}

// MarkPending flags a post as queued-not-yet-dispatched. Clears inflight:
// the two sets stay disjoint.
func (s *Store) MarkPending(stableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, stableID)
	s.pending[stableID] = struct{}{}
}

// MarkInflight flags a post as having a request in flight. Clears pending:
// the two sets stay disjoint.
func (s *Store) MarkInflight(stableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, stableID)
	s.inflight[stableID] = struct{}{}
}

// ClearPending removes a post from the pending set.
func (s *Store) ClearPending(stableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, stableID)
}

// ClearInflight removes a post from the in-flight set.
func (s *Store) ClearInflight(stableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, stableID)
}

// PendingKeys returns the queued-not-yet-dispatched post ids, sorted.
func (s *Store) PendingKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.pending)
}

// InflightKeys returns the request-in-flight post ids, sorted.
func (s *Store) InflightKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.inflight)
}

// PostsByAuthor returns the tracked stable ids for an author, sorted.
func (s *Store) PostsByAuthor(authorID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.byAuthor[authorID])
}

func (s *Store) indexAuthorLocked(authorID, stableID string) {
	if authorID == "" || stableID == "" {
		return
	}
	set, ok := s.byAuthor[authorID]
	if !ok {
		set = make(map[string]struct{})
		s.byAuthor[authorID] = set
	}
	set[stableID] = struct{}{}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
