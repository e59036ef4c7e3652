package timeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/unifeed/internal/feed"
)

// State is the refresh coordinator's position in its per-timeline state
// machine.
type State int

const (
	// StateIdle means no fetch is running and nothing is buffered.
	StateIdle State = iota + 1
	// StateFetching means a fetch is in flight.
	StateFetching
	// StateBuffered means fetched posts are staged awaiting an explicit merge.
	StateBuffered
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// Trigger identifies what initiated a refresh.
type Trigger int

const (
	// TriggerForeground fires when the app returns to the foreground.
	TriggerForeground Trigger = iota + 1
	// TriggerIdlePolling fires on the background poll timer.
	TriggerIdlePolling
	// TriggerManualRefresh fires on an explicit user pull-to-refresh.
	TriggerManualRefresh
)

// String returns the trigger name for logs.
func (t Trigger) String() string {
	switch t {
	case TriggerForeground:
		return "foreground"
	case TriggerIdlePolling:
		return "idle_polling"
	case TriggerManualRefresh:
		return "manual_refresh"
	default:
		return "unknown"
	}
}

// Flags are the interaction guards consulted before a refresh may proceed.
type Flags struct {
	// IsComposing is set while the user is writing a post.
	IsComposing bool
	// IsScrolling is set during an active touch interaction.
	IsScrolling bool
	// IsDeepHistory is set when the user has scrolled far from the top.
	IsDeepHistory bool
	// IsVisible is set while the timeline is on screen.
	IsVisible bool
}

// FetchFunc retrieves the newest posts for a timeline.
type FetchFunc func(ctx context.Context) ([]*feed.Post, error)

// MergeFunc splices posts into the visible feed.
type MergeFunc func(posts []*feed.Post)

// VisibleFunc reports the posts currently presented.
type VisibleFunc func() []*feed.Post

// RefreshCoordinator gates when a fetch result becomes visible for one
// timeline.
//
// A foreground or manual-refresh trigger fetches and buffers - it never
// auto-merges under the user - unless the timeline is off screen, in which
// case it refreshes in place. Idle polling is suppressed entirely while the
// user composes, scrolls, or reads deep history: polling must not silently
// reorder the feed underneath them. Buffered posts reach the feed only
// through MergeBufferedPostsIfNeeded, driven by an explicit user tap.
type RefreshCoordinator struct {
	timelineID string
	fetch      FetchFunc
	merge      MergeFunc
	visible    VisibleFunc
	buffer     *Buffer
	gen        Generation

	mu    sync.Mutex
	state State
	flags Flags
}

// NewRefreshCoordinator wires a coordinator for one timeline.
func NewRefreshCoordinator(timelineID string, fetch FetchFunc, merge MergeFunc, visible VisibleFunc) *RefreshCoordinator {
	return &RefreshCoordinator{
		timelineID: timelineID,
		fetch:      fetch,
		merge:      merge,
		visible:    visible,
		buffer:     NewBuffer(),
		state:      StateIdle,
	}
}

// SetFlags replaces the interaction guards.
func (r *RefreshCoordinator) SetFlags(flags Flags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = flags
}

// State returns the current state machine position.
func (r *RefreshCoordinator) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// BufferSnapshot returns the staged-post summary for UI affordances.
func (r *RefreshCoordinator) BufferSnapshot() Snapshot {
	return r.buffer.Snapshot()
}

// Refresh runs one trigger through the state machine.
//
// Returns the buffer snapshot when the result was staged, nil when it was
// merged in place, suppressed, or discarded as stale.
func (r *RefreshCoordinator) Refresh(ctx context.Context, trigger Trigger) (*Snapshot, error) {
	r.mu.Lock()
	flags := r.flags

	if trigger == TriggerIdlePolling && (flags.IsComposing || flags.IsScrolling || flags.IsDeepHistory) {
		r.mu.Unlock()
		slog.Debug("idle poll suppressed",
			"timeline", r.timelineID,
			"composing", flags.IsComposing,
			"scrolling", flags.IsScrolling,
			"deep_history", flags.IsDeepHistory,
		)
		return nil, nil
	}

	generation := r.gen.Next()
	r.state = StateFetching
	r.mu.Unlock()

	posts, err := r.fetch(ctx)

	r.mu.Lock()
	if !ShouldCommit(r.gen.Current(), generation) {
		r.mu.Unlock()
		// A newer refresh superseded this one. Expected steady-state
		// behavior, not a fault: drop the result silently.
		slog.Debug("stale refresh discarded",
			"timeline", r.timelineID,
			"generation", generation,
		)
		return nil, nil
	}
	if err != nil {
		r.state = StateIdle
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	// merge and visible run unlocked: callbacks may call back into the
	// coordinator (State, BufferSnapshot).
	if !flags.IsVisible {
		// Nobody is looking: merge in place, no staging needed.
		r.merge(posts)
		r.setState(StateIdle)
		return nil, nil
	}

	snap := r.buffer.Append(posts, r.visible())
	if snap == nil {
		r.setState(StateIdle)
		return nil, nil
	}

	r.setState(StateBuffered)
	slog.Debug("refresh buffered",
		"timeline", r.timelineID,
		"trigger", trigger.String(),
		"count", snap.Count,
	)
	return snap, nil
}

func (r *RefreshCoordinator) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// MergeBufferedPostsIfNeeded drains staged posts into the visible feed,
// e.g. when the user taps the "N new posts" affordance. No-op when the
// buffer is empty.
func (r *RefreshCoordinator) MergeBufferedPostsIfNeeded() {
	drained := r.buffer.Drain()

	r.mu.Lock()
	if r.state == StateBuffered {
		r.state = StateIdle
	}
	r.mu.Unlock()

	if len(drained) == 0 {
		return
	}
	// No buffer reset after the merge: a refresh completing mid-merge may
	// have staged new posts, and they belong to the next drain.
	r.merge(drained)

	slog.Debug("buffered posts merged",
		"timeline", r.timelineID,
		"count", len(drained),
	)
}
