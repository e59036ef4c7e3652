package engine

import (
	"context"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/feed"
)

// PostActionNetworking is the narrow service boundary the coordinator
// depends on, implemented once per social platform.
//
// Every call returns the authoritative post-action state from the server
// on success. Implementations should return *ActionError values when the
// failure class is known (offline vs. permanent rejection); unclassified
// errors are treated as transient.
type PostActionNetworking interface {
	Like(ctx context.Context, post *feed.Post) (action.PostActionState, error)
	Unlike(ctx context.Context, post *feed.Post) (action.PostActionState, error)
	Repost(ctx context.Context, post *feed.Post) (action.PostActionState, error)
	Unrepost(ctx context.Context, post *feed.Post) (action.PostActionState, error)
	Follow(ctx context.Context, post *feed.Post, shouldFollow bool) (action.PostActionState, error)
	Mute(ctx context.Context, post *feed.Post, shouldMute bool) (action.PostActionState, error)
	Block(ctx context.Context, post *feed.Post, shouldBlock bool) (action.PostActionState, error)
	FetchActions(ctx context.Context, post *feed.Post) (action.PostActionState, error)
}

// Connectivity reports whether the network is currently reachable.
// Consulted before every dispatch to decide queue-vs-send.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a plain function to the Connectivity interface.
type ConnectivityFunc func() bool

// Online implements Connectivity.
func (f ConnectivityFunc) Online() bool { return f() }

// AlwaysOnline is a Connectivity that never reports an outage.
var AlwaysOnline = ConnectivityFunc(func() bool { return true })
