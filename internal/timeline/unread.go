package timeline

import "sync"

// UnreadTracker counts unread posts relative to the viewport.
//
// Posts are registered newest-first. As the user scrolls down, posts
// passing above the viewport are considered read and the count falls.
// Scrolling back up never resurrects them: the count is monotonically
// non-increasing until the next Reset.
type UnreadTracker struct {
	mu      sync.Mutex
	order   []string
	unread  map[string]struct{}
	maxSeen int // highest top-visible index observed
}

// NewUnreadTracker creates an empty tracker.
func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{unread: make(map[string]struct{})}
}

// Reset registers the unread set, newest-first, replacing prior state.
func (u *UnreadTracker) Reset(ids []string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.order = append([]string(nil), ids...)
	u.unread = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		u.unread[id] = struct{}{}
	}
	u.maxSeen = 0
}

// HandleTopVisibleIndex records that the post at the given index is now the
// topmost visible row; everything above it has scrolled past and is read.
func (u *UnreadTracker) HandleTopVisibleIndex(index int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if index <= u.maxSeen {
		return
	}
	u.maxSeen = index

	if index > len(u.order) {
		index = len(u.order)
	}
	for _, id := range u.order[:index] {
		delete(u.unread, id)
	}
}

// Count returns the number of posts still unread.
func (u *UnreadTracker) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.unread)
}

// MarkRead removes a single post from the unread set, e.g. when it is
// opened directly.
func (u *UnreadTracker) MarkRead(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.unread, id)
}
