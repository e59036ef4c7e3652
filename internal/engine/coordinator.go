// Package engine owns the network round-trip lifecycle for post actions:
// optimistic mutation, dispatch, reconcile-or-rollback, offline fallback,
// and replay of the offline queue.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/feed"
	"github.com/roach88/unifeed/internal/queue"
)

// Coordinator orchestrates one action on one post: apply the optimistic
// edit immediately, then reconcile against (or roll back from) the server.
//
// Concurrency model: store mutation happens inside the stores' own
// single-writer methods; the coordinator adds a per-post in-flight guard so
// at most one network call per post identity is outstanding. A toggle
// arriving while one is in flight supersedes it logically - the in-flight
// dispatch loop re-sends with the latest intent instead of firing a second
// concurrent request. Actions on different posts proceed independently.
type Coordinator struct {
	store   *action.Store
	queue   *queue.Queue
	clients map[feed.Platform]PostActionNetworking

	conn     Connectivity
	ids      IDGenerator
	limiter  *rate.Limiter
	debounce time.Duration
	now      func() time.Time

	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks one in-flight action per post identity.
//
// intent holds the latest desired action; rapid repeated toggles collapse
// into it. Every gesture the flight absorbs contributes an undo step, so a
// failed flight can unwind all of its optimistic edits, post-level and
// author-level alike.
type flight struct {
	intent action.Type
	undo   []undo // oldest first, guarded by Coordinator.mu
}

// undo is the rollback baseline captured before one optimistic edit.
// Exactly one of the two fields is set.
type undo struct {
	prev    *action.PostActionState           // post-level actions
	prevAll map[string]action.PostActionState // author-level actions
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConnectivity sets the connectivity signal consulted before dispatch.
func WithConnectivity(conn Connectivity) Option {
	return func(c *Coordinator) { c.conn = conn }
}

// WithIDGenerator overrides the queued-action id generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Coordinator) { c.ids = ids }
}

// WithDebounce delays the first dispatch of a flight so rapid repeated
// toggles on the same post collapse into a single request.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.debounce = d }
}

// WithRateLimit caps outgoing action dispatches.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Coordinator) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator wires a coordinator over its collaborators. Stores, queue,
// and platform clients are injected so tests can substitute fakes.
func NewCoordinator(
	store *action.Store,
	q *queue.Queue,
	clients map[feed.Platform]PostActionNetworking,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		store:   store,
		queue:   q,
		clients: clients,
		conn:    AlwaysOnline,
		ids:     UUIDv7Generator{},
		now:     time.Now,
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ToggleLike likes or unlikes a post depending on its current optimistic
// state. The local edit is visible immediately; the network result
// reconciles or rolls it back.
func (c *Coordinator) ToggleLike(ctx context.Context, post *feed.Post) error {
	origin := feed.DisplayPost(post)
	st := c.store.EnsureState(origin)

	intent := action.TypeLike
	if st.IsLiked {
		intent = action.TypeUnlike
	}
	prev, _ := c.store.OptimisticLike(origin.StableID, intent == action.TypeLike)

	return c.submit(ctx, origin, intent, undo{prev: &prev})
}

// ToggleRepost reposts or un-reposts a post depending on its current
// optimistic state.
func (c *Coordinator) ToggleRepost(ctx context.Context, post *feed.Post) error {
	origin := feed.DisplayPost(post)
	st := c.store.EnsureState(origin)

	intent := action.TypeRepost
	if st.IsReposted {
		intent = action.TypeUnrepost
	}
	prev, _ := c.store.OptimisticRepost(origin.StableID, intent == action.TypeRepost)

	return c.submit(ctx, origin, intent, undo{prev: &prev})
}

// SetFollowing follows or unfollows the post's author. The edit propagates
// to every tracked post sharing the author before any network call.
func (c *Coordinator) SetFollowing(ctx context.Context, post *feed.Post, shouldFollow bool) error {
	origin := feed.DisplayPost(post)
	c.store.EnsureState(origin)

	intent := action.TypeFollow
	if !shouldFollow {
		intent = action.TypeUnfollow
	}
	prevAll := c.store.OptimisticFollow(origin.AuthorID, shouldFollow)

	return c.submit(ctx, origin, intent, undo{prevAll: prevAll})
}

// SetMuted mutes or unmutes the post's author across all tracked posts.
func (c *Coordinator) SetMuted(ctx context.Context, post *feed.Post, shouldMute bool) error {
	origin := feed.DisplayPost(post)
	c.store.EnsureState(origin)

	intent := action.TypeMute
	if !shouldMute {
		intent = action.TypeUnmute
	}
	prevAll := c.store.OptimisticMute(origin.AuthorID, shouldMute)

	return c.submit(ctx, origin, intent, undo{prevAll: prevAll})
}

// SetBlocked blocks or unblocks the post's author across all tracked posts.
func (c *Coordinator) SetBlocked(ctx context.Context, post *feed.Post, shouldBlock bool) error {
	origin := feed.DisplayPost(post)
	c.store.EnsureState(origin)

	intent := action.TypeBlock
	if !shouldBlock {
		intent = action.TypeUnblock
	}
	prevAll := c.store.OptimisticBlock(origin.AuthorID, shouldBlock)

	return c.submit(ctx, origin, intent, undo{prevAll: prevAll})
}

// FetchActions pulls authoritative action state for a post and reconciles
// the store with it. No optimistic step, nothing to roll back.
func (c *Coordinator) FetchActions(ctx context.Context, post *feed.Post) error {
	origin := feed.DisplayPost(post)
	c.store.EnsureState(origin)

	client, err := c.clientFor(origin.Platform)
	if err != nil {
		return err
	}
	server, err := client.FetchActions(ctx, origin)
	if err != nil {
		return classify(origin.StableID, "", err)
	}
	c.store.Reconcile(origin.StableID, server)
	return nil
}

// submit routes an optimistically-applied action: offline goes to the
// queue, an existing flight absorbs the new intent, otherwise a new flight
// dispatches.
func (c *Coordinator) submit(ctx context.Context, post *feed.Post, intent action.Type, step undo) error {
	key := post.StableID

	if !c.conn.Online() {
		c.enqueueOffline(post, intent)
		return nil
	}

	c.mu.Lock()
	if existing, ok := c.flights[key]; ok {
		// Supersede: the in-flight dispatch loop picks up the latest
		// intent; no second concurrent request for this post. The new
		// gesture's baseline joins the flight so a failure unwinds it too.
		existing.intent = intent
		existing.undo = append(existing.undo, step)
		c.mu.Unlock()
		return nil
	}
	active := &flight{intent: intent, undo: []undo{step}}
	c.flights[key] = active
	c.mu.Unlock()

	c.store.MarkInflight(key)
	return c.dispatch(ctx, post, active)
}

// dispatch runs the network round trip for a flight, re-sending while the
// intent keeps being superseded, then reconciles or rolls back.
func (c *Coordinator) dispatch(ctx context.Context, post *feed.Post, fl *flight) error {
	key := post.StableID

	if c.debounce > 0 {
		timer := time.NewTimer(c.debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.rollback(key, fl)
			return ctx.Err()
		case <-timer.C:
		}
	}

	client, err := c.clientFor(post.Platform)
	if err != nil {
		c.rollback(key, fl)
		return err
	}

	for {
		c.mu.Lock()
		intent := fl.intent
		c.mu.Unlock()

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.rollback(key, fl)
				return err
			}
		}

		server, err := c.call(ctx, client, intent, post)
		if err != nil {
			ae := classify(key, intent, err)
			if ae.Code == ErrCodeOffline {
				// Connectivity dropped mid-flight: deferred success,
				// the optimistic edit stands and replays later.
				c.clearFlight(key)
				c.enqueueOffline(post, intent)
				return nil
			}

			c.rollback(key, fl)
			slog.Error("action dispatch failed",
				"post", key,
				"action", intent,
				"code", ae.Code,
				"error", err,
			)
			return ae
		}

		c.mu.Lock()
		if fl.intent != intent {
			// Superseded while in flight: send the latest intent
			// before settling.
			c.mu.Unlock()
			continue
		}
		delete(c.flights, key)
		c.mu.Unlock()

		c.store.Reconcile(key, server)
		c.store.ClearInflight(key)

		slog.Debug("action reconciled",
			"post", key,
			"action", intent,
		)
		return nil
	}
}

// FlushQueuedOfflineActions replays the offline queue in FIFO order once
// connectivity returns.
//
// Each action resolves its target via the platform-native id when present
// (local ids are worthless against the remote API after a restart) and goes
// through the normal reconcile path. Dequeue policy: success and permanent
// rejection both dequeue - retrying a permanently invalid action forever
// helps nobody - while connectivity failures stop the flush and leave
// everything queued for the next cycle. Entries enqueued while a flush is
// running are not visited; the next flush picks them up.
func (c *Coordinator) FlushQueuedOfflineActions(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}

	for _, qa := range c.queue.Snapshot() {
		if !c.conn.Online() {
			return NewOfflineError(qa.PostID, qa.Type, nil)
		}

		post := &feed.Post{
			StableID:   qa.PostID,
			PlatformID: qa.FetchPostID(),
			Platform:   qa.Platform,
		}

		client, err := c.clientFor(qa.Platform)
		if err != nil {
			// No client can ever serve this entry; dequeue it.
			c.queue.Remove(qa.ID)
			c.store.ClearPending(qa.PostID)
			slog.Warn("queued action dropped: no client for platform",
				"id", qa.ID,
				"platform", qa.Platform,
			)
			continue
		}

		server, callErr := c.call(ctx, client, qa.Type, post)
		if callErr != nil {
			ae := classify(qa.PostID, qa.Type, callErr)
			switch ae.Code {
			case ErrCodeOffline:
				slog.Info("offline replay interrupted, actions kept queued",
					"id", qa.ID,
					"remaining", c.queue.Len(),
				)
				return ae

			case ErrCodePermanent:
				c.queue.Remove(qa.ID)
				c.store.ClearPending(qa.PostID)
				slog.Warn("queued action rejected by server, dequeued",
					"id", qa.ID,
					"post", qa.PostID,
					"action", qa.Type,
					"error", callErr,
				)

			default:
				// Transient: keep queued for a later flush cycle.
				slog.Warn("queued action replay failed, kept for retry",
					"id", qa.ID,
					"post", qa.PostID,
					"error", callErr,
				)
			}
			continue
		}

		c.queue.Remove(qa.ID)
		c.store.ClearPending(qa.PostID)
		c.store.Reconcile(qa.PostID, server)

		slog.Debug("queued action replayed",
			"id", qa.ID,
			"post", qa.PostID,
			"action", qa.Type,
		)
	}

	return nil
}

// enqueueOffline records a deferred action and marks the post pending.
// The optimistic edit stays applied - offline is deferred success, not
// failure.
func (c *Coordinator) enqueueOffline(post *feed.Post, intent action.Type) {
	qa := action.QueuedAction{
		ID:             c.ids.Generate(),
		PostID:         post.StableID,
		PlatformPostID: post.PlatformID,
		Platform:       post.Platform,
		Type:           intent,
		CreatedAt:      c.now().UTC(),
	}
	if c.queue != nil {
		c.queue.Enqueue(qa)
	}
	c.store.MarkPending(post.StableID)

	slog.Info("action queued offline",
		"id", qa.ID,
		"post", qa.PostID,
		"action", qa.Type,
	)
}

// rollback restores the flight's pre-action state and clears bookkeeping.
// Steps unwind newest-first: a later baseline embeds the earlier optimistic
// edits, so the oldest restore must land last.
func (c *Coordinator) rollback(key string, fl *flight) {
	c.clearFlight(key)

	c.mu.Lock()
	steps := make([]undo, len(fl.undo))
	copy(steps, fl.undo)
	c.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].prevAll != nil {
			c.store.RestoreAll(steps[i].prevAll)
			continue
		}
		if steps[i].prev != nil {
			c.store.Restore(*steps[i].prev)
		}
	}
	c.store.ClearInflight(key)
}

func (c *Coordinator) clearFlight(key string) {
	c.mu.Lock()
	delete(c.flights, key)
	c.mu.Unlock()
	c.store.ClearInflight(key)
}

func (c *Coordinator) clientFor(platform feed.Platform) (PostActionNetworking, error) {
	client, ok := c.clients[platform]
	if !ok {
		return nil, &ActionError{
			Code:    ErrCodePermanent,
			Message: fmt.Sprintf("no networking client for platform %q", platform),
		}
	}
	return client, nil
}

// call maps an action type onto the networking contract.
func (c *Coordinator) call(ctx context.Context, client PostActionNetworking, intent action.Type, post *feed.Post) (action.PostActionState, error) {
	switch intent {
	case action.TypeLike:
		return client.Like(ctx, post)
	case action.TypeUnlike:
		return client.Unlike(ctx, post)
	case action.TypeRepost:
		return client.Repost(ctx, post)
	case action.TypeUnrepost:
		return client.Unrepost(ctx, post)
	case action.TypeFollow:
		return client.Follow(ctx, post, true)
	case action.TypeUnfollow:
		return client.Follow(ctx, post, false)
	case action.TypeMute:
		return client.Mute(ctx, post, true)
	case action.TypeUnmute:
		return client.Mute(ctx, post, false)
	case action.TypeBlock:
		return client.Block(ctx, post, true)
	case action.TypeUnblock:
		return client.Block(ctx, post, false)
	default:
		return action.PostActionState{}, NewPermanentError(post.StableID, intent, fmt.Errorf("unknown action type %q", intent))
	}
}
