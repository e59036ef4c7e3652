package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/feed"
)

func tempQueuePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "queue.db")
}

func queuedLike(id, postID, nativeID string) action.QueuedAction {
	return action.QueuedAction{
		ID:             id,
		PostID:         postID,
		PlatformPostID: nativeID,
		Platform:       feed.PlatformMastodon,
		Type:           action.TypeLike,
		CreatedAt:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestQueue_EnqueueFIFO(t *testing.T) {
	q, err := Open(tempQueuePath(t))
	require.NoError(t, err)
	defer q.Close()

	require.True(t, q.Enqueue(queuedLike("q1", "p1", "")))
	require.True(t, q.Enqueue(queuedLike("q2", "p2", "")))
	require.True(t, q.Enqueue(queuedLike("q3", "p3", "")))

	snap := q.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "q1", snap[0].ID)
	assert.Equal(t, "q2", snap[1].ID)
	assert.Equal(t, "q3", snap[2].ID)
}

func TestQueue_RemovePreservesOrder(t *testing.T) {
	q, err := Open(tempQueuePath(t))
	require.NoError(t, err)
	defer q.Close()

	q.Enqueue(queuedLike("q1", "p1", ""))
	q.Enqueue(queuedLike("q2", "p2", ""))
	q.Enqueue(queuedLike("q3", "p3", ""))

	assert.True(t, q.Remove("q2"))
	assert.False(t, q.Remove("q2"), "second remove is a no-op")

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "q1", snap[0].ID)
	assert.Equal(t, "q3", snap[1].ID)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := tempQueuePath(t)

	q, err := Open(path)
	require.NoError(t, err)
	q.Enqueue(queuedLike("q1", "local-x", "109248"))
	q.Enqueue(queuedLike("q2", "local-y", ""))
	require.NoError(t, q.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	snap := reopened.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "q1", snap[0].ID)
	assert.Equal(t, "109248", snap[0].FetchPostID(), "native id preferred for replay")
	assert.Equal(t, "local-y", snap[1].FetchPostID(), "falls back to local id")
	assert.Equal(t, action.TypeLike, snap[0].Type)
	assert.Equal(t, feed.PlatformMastodon, snap[0].Platform)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), snap[0].CreatedAt)
}

func TestQueue_LoadsPreV1Rows(t *testing.T) {
	path := tempQueuePath(t)

	// Simulate a database written before platform_post_id existed.
	st, err := openStore(path)
	require.NoError(t, err)
	_, err = st.db.Exec(`
		INSERT INTO queued_actions (id, post_id, platform_post_id, platform, action_type, created_at, position)
		VALUES ('q-old', 'local-old', NULL, 'mastodon', 'like', 1709287200000, 0)
	`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	q, err := Open(path)
	require.NoError(t, err)
	defer q.Close()

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Empty(t, snap[0].PlatformPostID)
	assert.Equal(t, "local-old", snap[0].FetchPostID())
}

func TestQueue_EnqueueDuringFlushNotLost(t *testing.T) {
	q, err := Open(tempQueuePath(t))
	require.NoError(t, err)
	defer q.Close()

	q.Enqueue(queuedLike("q1", "p1", ""))

	// A flush iterates a snapshot; a concurrent enqueue lands in the live
	// queue and survives the flush's removals.
	snap := q.Snapshot()
	q.Enqueue(queuedLike("q2", "p2", ""))
	for _, item := range snap {
		q.Remove(item.ID)
	}

	remaining := q.Snapshot()
	require.Len(t, remaining, 1)
	assert.Equal(t, "q2", remaining[0].ID)
}

func TestQueue_RunPersistsOnSignal(t *testing.T) {
	path := tempQueuePath(t)
	q, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- q.Run(ctx) }()

	q.Enqueue(queuedLike("q1", "p1", ""))

	// Cancellation forces a final sync regardless of signal timing.
	cancel()
	select {
	case err := <-runDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("persister did not stop")
	}
	require.NoError(t, q.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q, err := Open(tempQueuePath(t))
	require.NoError(t, err)
	require.NoError(t, q.Close())

	assert.False(t, q.Enqueue(queuedLike("q1", "p1", "")))
}
