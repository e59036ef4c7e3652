package timeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func unreadIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("post-%d", i)
	}
	return ids
}

func TestUnreadTracker_ScrollDownDecrements(t *testing.T) {
	u := NewUnreadTracker()
	u.Reset(unreadIDs(10))
	assert.Equal(t, 10, u.Count())

	u.HandleTopVisibleIndex(5)
	assert.Equal(t, 5, u.Count())

	u.HandleTopVisibleIndex(8)
	assert.Equal(t, 2, u.Count())
}

func TestUnreadTracker_ScrollBackUpNeverIncreases(t *testing.T) {
	u := NewUnreadTracker()
	u.Reset(unreadIDs(10))

	u.HandleTopVisibleIndex(8)
	assert.Equal(t, 2, u.Count())

	// Scrolling back to the top reports smaller indices; the count holds.
	u.HandleTopVisibleIndex(3)
	assert.Equal(t, 2, u.Count())
	u.HandleTopVisibleIndex(0)
	assert.Equal(t, 2, u.Count())
}

func TestUnreadTracker_IndexPastEndClamps(t *testing.T) {
	u := NewUnreadTracker()
	u.Reset(unreadIDs(3))

	u.HandleTopVisibleIndex(50)
	assert.Zero(t, u.Count())
}

func TestUnreadTracker_MarkRead(t *testing.T) {
	u := NewUnreadTracker()
	u.Reset(unreadIDs(4))

	u.MarkRead("post-2")
	assert.Equal(t, 3, u.Count())

	// Already read is a no-op.
	u.MarkRead("post-2")
	assert.Equal(t, 3, u.Count())
}

func TestUnreadTracker_ResetReplacesState(t *testing.T) {
	u := NewUnreadTracker()
	u.Reset(unreadIDs(10))
	u.HandleTopVisibleIndex(7)

	u.Reset(unreadIDs(4))
	assert.Equal(t, 4, u.Count())

	// maxSeen starts over after a reset.
	u.HandleTopVisibleIndex(1)
	assert.Equal(t, 3, u.Count())
}
