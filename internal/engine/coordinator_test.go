package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/feed"
	"github.com/roach88/unifeed/internal/queue"
)

// fakeClient scripts PostActionNetworking responses per call.
type fakeClient struct {
	mu    sync.Mutex
	calls []call

	// respond computes the reply for each call. Defaults to echoing an
	// authoritative state matching the intent.
	respond func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error)

	// gate, when non-nil, blocks the first call until released.
	gateStarted chan struct{}
	gateRelease chan struct{}
}

type call struct {
	intent action.Type
	post   *feed.Post
}

func (f *fakeClient) record(intent action.Type, post *feed.Post) (action.PostActionState, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, call{intent, post})
	respond := f.respond
	f.mu.Unlock()

	if n == 0 && f.gateStarted != nil {
		close(f.gateStarted)
		<-f.gateRelease
	}

	if respond != nil {
		return respond(n, intent, post)
	}
	return serverStateFor(intent, post), nil
}

// serverStateFor builds an authoritative reply consistent with the intent.
func serverStateFor(intent action.Type, post *feed.Post) action.PostActionState {
	st := action.PostActionState{
		StableID: post.StableID,
		Platform: post.Platform,
		AuthorID: post.AuthorID,
	}
	switch intent {
	case action.TypeLike:
		st.IsLiked = true
		st.LikeCount = 100
	case action.TypeUnlike:
		st.LikeCount = 99
	case action.TypeRepost:
		st.IsReposted = true
		st.RepostCount = 50
	case action.TypeFollow:
		st.IsFollowingAuthor = true
	case action.TypeMute:
		st.IsMutedAuthor = true
	case action.TypeBlock:
		st.IsBlockedAuthor = true
	}
	return st
}

func (f *fakeClient) callTypes() []action.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]action.Type, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.intent
	}
	return out
}

func (f *fakeClient) Like(ctx context.Context, p *feed.Post) (action.PostActionState, error) {
	return f.record(action.TypeLike, p)
}
func (f *fakeClient) Unlike(ctx context.Context, p *feed.Post) (action.PostActionState, error) {
	return f.record(action.TypeUnlike, p)
}
func (f *fakeClient) Repost(ctx context.Context, p *feed.Post) (action.PostActionState, error) {
	return f.record(action.TypeRepost, p)
}
func (f *fakeClient) Unrepost(ctx context.Context, p *feed.Post) (action.PostActionState, error) {
	return f.record(action.TypeUnrepost, p)
}
func (f *fakeClient) Follow(ctx context.Context, p *feed.Post, shouldFollow bool) (action.PostActionState, error) {
	if shouldFollow {
		return f.record(action.TypeFollow, p)
	}
	return f.record(action.TypeUnfollow, p)
}
func (f *fakeClient) Mute(ctx context.Context, p *feed.Post, shouldMute bool) (action.PostActionState, error) {
	if shouldMute {
		return f.record(action.TypeMute, p)
	}
	return f.record(action.TypeUnmute, p)
}
func (f *fakeClient) Block(ctx context.Context, p *feed.Post, shouldBlock bool) (action.PostActionState, error) {
	if shouldBlock {
		return f.record(action.TypeBlock, p)
	}
	return f.record(action.TypeUnblock, p)
}
func (f *fakeClient) FetchActions(ctx context.Context, p *feed.Post) (action.PostActionState, error) {
	return f.record("", p)
}

type fixture struct {
	store  *action.Store
	queue  *queue.Queue
	client *fakeClient
}

func newFixture(t *testing.T, opts ...Option) (*Coordinator, *fixture) {
	t.Helper()

	st := action.NewStore()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	client := &fakeClient{}
	clients := map[feed.Platform]PostActionNetworking{
		feed.PlatformMastodon: client,
	}

	base := append([]Option{
		WithIDGenerator(NewFixedGenerator("q1", "q2", "q3", "q4", "q5")),
	}, opts...)

	c := NewCoordinator(st, q, clients, base...)
	return c, &fixture{store: st, queue: q, client: client}
}

func feedPost(stableID string) *feed.Post {
	return &feed.Post{
		StableID:     stableID,
		PlatformID:   "native-" + stableID,
		Platform:     feed.PlatformMastodon,
		AuthorID:     "a1",
		AuthorHandle: "alice@example.social",
		LikeCount:    3,
	}
}

func TestCoordinator_ToggleLikeReconciles(t *testing.T) {
	c, fx := newFixture(t)
	post := feedPost("p1")

	require.NoError(t, c.ToggleLike(context.Background(), post))

	st, ok := fx.store.State("p1")
	require.True(t, ok)
	assert.True(t, st.IsLiked)
	assert.Equal(t, 100, st.LikeCount, "server count wins over the optimistic guess")
	assert.Empty(t, fx.store.InflightKeys())
	assert.Equal(t, []action.Type{action.TypeLike}, fx.client.callTypes())
}

func TestCoordinator_ToggleLikeTwiceSendsUnlike(t *testing.T) {
	c, fx := newFixture(t)
	post := feedPost("p1")

	require.NoError(t, c.ToggleLike(context.Background(), post))
	require.NoError(t, c.ToggleLike(context.Background(), post))

	assert.Equal(t, []action.Type{action.TypeLike, action.TypeUnlike}, fx.client.callTypes())
	st, _ := fx.store.State("p1")
	assert.False(t, st.IsLiked)
}

func TestCoordinator_RollbackOnTransientFailure(t *testing.T) {
	c, fx := newFixture(t)
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		return action.PostActionState{}, errors.New("500 internal server error")
	}
	post := feedPost("p1")
	before := fx.store.EnsureState(post)

	err := c.ToggleLike(context.Background(), post)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	after, _ := fx.store.State("p1")
	assert.Equal(t, before, after, "failed like must restore the exact pre-action state")
	assert.Empty(t, fx.store.InflightKeys())
	assert.Zero(t, fx.queue.Len(), "transient failures are not queued")
}

func TestCoordinator_PermanentRejectionNotQueued(t *testing.T) {
	c, fx := newFixture(t)
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		return action.PostActionState{}, NewPermanentError(post.StableID, intent, errors.New("404"))
	}
	post := feedPost("p1")
	before := fx.store.EnsureState(post)

	err := c.ToggleLike(context.Background(), post)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	after, _ := fx.store.State("p1")
	assert.Equal(t, before, after)
	assert.Zero(t, fx.queue.Len())
}

func TestCoordinator_OfflineDefersThroughQueue(t *testing.T) {
	c, fx := newFixture(t, WithConnectivity(ConnectivityFunc(func() bool { return false })))
	post := feedPost("p1")

	require.NoError(t, c.ToggleLike(context.Background(), post))

	// Optimistic edit stands - offline is deferred success, not failure.
	st, _ := fx.store.State("p1")
	assert.True(t, st.IsLiked)
	assert.Equal(t, 4, st.LikeCount)

	assert.Empty(t, fx.client.callTypes(), "no network call while offline")
	assert.Equal(t, []string{"p1"}, fx.store.PendingKeys())
	assert.Empty(t, fx.store.InflightKeys())

	snap := fx.queue.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "q1", snap[0].ID)
	assert.Equal(t, "p1", snap[0].PostID)
	assert.Equal(t, "native-p1", snap[0].PlatformPostID)
	assert.Equal(t, action.TypeLike, snap[0].Type)
}

func TestCoordinator_ConnectivityDropMidFlightQueues(t *testing.T) {
	c, fx := newFixture(t)
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		return action.PostActionState{}, NewOfflineError(post.StableID, intent, errors.New("connection reset"))
	}
	post := feedPost("p1")

	require.NoError(t, c.ToggleLike(context.Background(), post))

	st, _ := fx.store.State("p1")
	assert.True(t, st.IsLiked, "optimistic edit survives a mid-flight drop")
	assert.Equal(t, 1, fx.queue.Len())
	assert.Equal(t, []string{"p1"}, fx.store.PendingKeys())
}

func TestCoordinator_SupersedeWhileInFlight(t *testing.T) {
	c, fx := newFixture(t)
	fx.client.gateStarted = make(chan struct{})
	fx.client.gateRelease = make(chan struct{})

	post := feedPost("p1")
	done := make(chan error, 1)
	go func() { done <- c.ToggleLike(context.Background(), post) }()

	// Wait for the like to be in flight, then toggle again: the second
	// gesture must supersede, not fire a concurrent request.
	<-fx.client.gateStarted
	require.NoError(t, c.ToggleLike(context.Background(), post))
	close(fx.client.gateRelease)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight dispatch did not settle")
	}

	assert.Equal(t, []action.Type{action.TypeLike, action.TypeUnlike}, fx.client.callTypes(),
		"superseded flight re-sends with the latest intent, strictly serialized")
	st, _ := fx.store.State("p1")
	assert.False(t, st.IsLiked)
	assert.Empty(t, fx.store.InflightKeys())
}

func TestCoordinator_SupersedingFollowRollsBackSiblings(t *testing.T) {
	c, fx := newFixture(t)
	fx.client.gateStarted = make(chan struct{})
	fx.client.gateRelease = make(chan struct{})
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		if intent == action.TypeFollow {
			return action.PostActionState{}, NewPermanentError(post.StableID, intent, errors.New("forbidden"))
		}
		return serverStateFor(intent, post), nil
	}

	postA := feedPost("p1")
	postB := feedPost("p2") // same author a1
	fx.store.EnsureState(postB)

	done := make(chan error, 1)
	go func() { done <- c.ToggleLike(context.Background(), postA) }()

	// While the like is in flight, a follow on the same post joins the
	// flight and propagates to the author's sibling post.
	<-fx.client.gateStarted
	require.NoError(t, c.SetFollowing(context.Background(), postA, true))
	stB, _ := fx.store.State("p2")
	assert.True(t, stB.IsFollowingAuthor)

	close(fx.client.gateRelease)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight dispatch did not settle")
	}

	// The rejected follow unwinds on every sibling, and the like that was
	// absorbed into the same flight rolls back with it.
	for _, id := range []string{"p1", "p2"} {
		st, _ := fx.store.State(id)
		assert.False(t, st.IsFollowingAuthor, "rejected follow must roll back on %s", id)
	}
	stA, _ := fx.store.State("p1")
	assert.False(t, stA.IsLiked)
	assert.Empty(t, fx.store.InflightKeys())
}

func TestCoordinator_FollowPropagatesAndRollsBack(t *testing.T) {
	c, fx := newFixture(t)
	postA := feedPost("p1")
	postB := feedPost("p2") // same author a1
	fx.store.EnsureState(postB)

	require.NoError(t, c.SetFollowing(context.Background(), postA, true))
	for _, id := range []string{"p1", "p2"} {
		st, _ := fx.store.State(id)
		assert.True(t, st.IsFollowingAuthor, "follow is an account-level fact")
	}

	// A failing unfollow rolls both posts back to following.
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		return action.PostActionState{}, errors.New("boom")
	}
	err := c.SetFollowing(context.Background(), postB, false)
	require.Error(t, err)
	for _, id := range []string{"p1", "p2"} {
		st, _ := fx.store.State(id)
		assert.True(t, st.IsFollowingAuthor, "rollback must restore both siblings")
	}
}

func TestCoordinator_FetchActionsReconciles(t *testing.T) {
	c, fx := newFixture(t)
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		return action.PostActionState{
			StableID:  post.StableID,
			AuthorID:  post.AuthorID,
			IsLiked:   true,
			LikeCount: 7,
		}, nil
	}
	post := feedPost("p1")

	require.NoError(t, c.FetchActions(context.Background(), post))

	st, _ := fx.store.State("p1")
	assert.True(t, st.IsLiked)
	assert.Equal(t, 7, st.LikeCount)
}

func TestCoordinator_FlushReplaysFIFOAndResolvesNativeID(t *testing.T) {
	online := true
	c, fx := newFixture(t, WithConnectivity(ConnectivityFunc(func() bool { return online })))

	online = false
	require.NoError(t, c.ToggleLike(context.Background(), feedPost("p1")))
	require.NoError(t, c.ToggleRepost(context.Background(), feedPost("p2")))
	require.Equal(t, 2, fx.queue.Len())

	online = true
	require.NoError(t, c.FlushQueuedOfflineActions(context.Background()))

	assert.Zero(t, fx.queue.Len())
	assert.Empty(t, fx.store.PendingKeys())
	require.Equal(t, []action.Type{action.TypeLike, action.TypeRepost}, fx.client.callTypes())

	// Replay targets the platform-native id, not the local stable id.
	fx.client.mu.Lock()
	defer fx.client.mu.Unlock()
	assert.Equal(t, "native-p1", fx.client.calls[0].post.PlatformID)
	assert.Equal(t, "native-p2", fx.client.calls[1].post.PlatformID)
}

func TestCoordinator_FlushDequeuesPermanentRejection(t *testing.T) {
	online := true
	c, fx := newFixture(t, WithConnectivity(ConnectivityFunc(func() bool { return online })))

	online = false
	require.NoError(t, c.ToggleLike(context.Background(), feedPost("p1")))
	require.NoError(t, c.ToggleLike(context.Background(), feedPost("p2")))

	online = true
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		if post.StableID == "p1" {
			return action.PostActionState{}, NewPermanentError(post.StableID, intent, errors.New("gone"))
		}
		return serverStateFor(intent, post), nil
	}

	require.NoError(t, c.FlushQueuedOfflineActions(context.Background()))

	// The invalid action is dropped, never retried; the valid one lands.
	assert.Zero(t, fx.queue.Len())
	st, _ := fx.store.State("p2")
	assert.True(t, st.IsLiked)
}

func TestCoordinator_FlushStopsWhenStillOffline(t *testing.T) {
	online := true
	c, fx := newFixture(t, WithConnectivity(ConnectivityFunc(func() bool { return online })))

	online = false
	require.NoError(t, c.ToggleLike(context.Background(), feedPost("p1")))

	err := c.FlushQueuedOfflineActions(context.Background())
	require.Error(t, err)
	assert.True(t, IsOffline(err))
	assert.Equal(t, 1, fx.queue.Len(), "connectivity failures leave actions queued")
}

func TestCoordinator_FlushKeepsTransientFailures(t *testing.T) {
	online := true
	c, fx := newFixture(t, WithConnectivity(ConnectivityFunc(func() bool { return online })))

	online = false
	require.NoError(t, c.ToggleLike(context.Background(), feedPost("p1")))

	online = true
	fx.client.respond = func(n int, intent action.Type, post *feed.Post) (action.PostActionState, error) {
		return action.PostActionState{}, errors.New("503")
	}
	require.NoError(t, c.FlushQueuedOfflineActions(context.Background()))

	assert.Equal(t, 1, fx.queue.Len(), "transient replay failures stay queued for the next cycle")
}

func TestActionError_Helpers(t *testing.T) {
	transient := NewTransientError("p1", action.TypeLike, errors.New("x"))
	offline := NewOfflineError("p1", action.TypeLike, nil)
	permanent := NewPermanentError("p1", action.TypeLike, errors.New("x"))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(offline))
	assert.True(t, IsOffline(offline))
	assert.True(t, IsPermanent(permanent))

	// Wrapped errors still classify.
	wrapped := &wrapError{transient}
	assert.True(t, IsTransient(wrapped))

	assert.False(t, IsTransient(errors.New("plain")))
}

type wrapError struct{ inner error }

func (w *wrapError) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapError) Unwrap() error { return w.inner }
