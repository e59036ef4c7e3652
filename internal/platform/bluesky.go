package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/engine"
	"github.com/roach88/unifeed/internal/feed"
)

const (
	bskyLikeCollection   = "app.bsky.feed.like"
	bskyRepostCollection = "app.bsky.feed.repost"
	bskyFollowCollection = "app.bsky.graph.follow"
	bskyBlockCollection  = "app.bsky.graph.block"
)

// BlueskyClient dispatches post actions over the AT Protocol XRPC surface.
//
// Likes, reposts, follows, and blocks are repo records: acting means
// creating or deleting a record in the session account's repo, and the
// record URI needed for deletion comes from the viewer state on the post
// or profile view. Mute is a server-side procedure, not a record.
type BlueskyClient struct {
	pds        string
	did        string
	token      string
	httpClient *http.Client
}

// NewBlueskyClient creates a client bound to one session. pds is the host
// serving XRPC, did the session account's repo, accessJwt its bearer token.
func NewBlueskyClient(pds, did, accessJwt string) *BlueskyClient {
	return &BlueskyClient{
		pds:        strings.TrimRight(pds, "/"),
		did:        did,
		token:      accessJwt,
		httpClient: newHTTPClient(),
	}
}

type bskyViewerState struct {
	Like      *string `json:"like"`
	Repost    *string `json:"repost"`
	Following *string `json:"following"`
	Blocking  *string `json:"blocking"`
	Muted     bool    `json:"muted"`
}

type bskyPostView struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		DID    string          `json:"did"`
		Handle string          `json:"handle"`
		Viewer bskyViewerState `json:"viewer"`
	} `json:"author"`
	LikeCount   int             `json:"likeCount"`
	RepostCount int             `json:"repostCount"`
	ReplyCount  int             `json:"replyCount"`
	Viewer      bskyViewerState `json:"viewer"`
}

type bskyProfileView struct {
	DID    string          `json:"did"`
	Handle string          `json:"handle"`
	Viewer bskyViewerState `json:"viewer"`
}

type bskySubject struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Like implements the action boundary.
func (c *BlueskyClient) Like(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	view, err := c.getPost(ctx, post, action.TypeLike)
	if err != nil {
		return action.PostActionState{}, err
	}

	state := c.stateFromView(post, view)
	if view.Viewer.Like != nil {
		return state, nil
	}

	record := map[string]any{
		"$type":     bskyLikeCollection,
		"subject":   bskySubject{URI: view.URI, CID: view.CID},
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.createRecord(ctx, post.StableID, action.TypeLike, bskyLikeCollection, record); err != nil {
		return action.PostActionState{}, err
	}

	state.IsLiked = true
	state.LikeCount = view.LikeCount + 1
	return state, nil
}

// Unlike implements the action boundary.
func (c *BlueskyClient) Unlike(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	view, err := c.getPost(ctx, post, action.TypeUnlike)
	if err != nil {
		return action.PostActionState{}, err
	}

	state := c.stateFromView(post, view)
	if view.Viewer.Like == nil {
		return state, nil
	}

	if err := c.deleteRecord(ctx, post.StableID, action.TypeUnlike, bskyLikeCollection, *view.Viewer.Like); err != nil {
		return action.PostActionState{}, err
	}

	state.IsLiked = false
	if state.LikeCount > 0 {
		state.LikeCount--
	}
	return state, nil
}

// Repost implements the action boundary.
func (c *BlueskyClient) Repost(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	view, err := c.getPost(ctx, post, action.TypeRepost)
	if err != nil {
		return action.PostActionState{}, err
	}

	state := c.stateFromView(post, view)
	if view.Viewer.Repost != nil {
		return state, nil
	}

	record := map[string]any{
		"$type":     bskyRepostCollection,
		"subject":   bskySubject{URI: view.URI, CID: view.CID},
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.createRecord(ctx, post.StableID, action.TypeRepost, bskyRepostCollection, record); err != nil {
		return action.PostActionState{}, err
	}

	state.IsReposted = true
	state.RepostCount = view.RepostCount + 1
	return state, nil
}

// Unrepost implements the action boundary.
func (c *BlueskyClient) Unrepost(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	view, err := c.getPost(ctx, post, action.TypeUnrepost)
	if err != nil {
		return action.PostActionState{}, err
	}

	state := c.stateFromView(post, view)
	if view.Viewer.Repost == nil {
		return state, nil
	}

	if err := c.deleteRecord(ctx, post.StableID, action.TypeUnrepost, bskyRepostCollection, *view.Viewer.Repost); err != nil {
		return action.PostActionState{}, err
	}

	state.IsReposted = false
	if state.RepostCount > 0 {
		state.RepostCount--
	}
	return state, nil
}

// Follow implements the action boundary.
func (c *BlueskyClient) Follow(ctx context.Context, post *feed.Post, shouldFollow bool) (action.PostActionState, error) {
	typ := action.TypeFollow
	if !shouldFollow {
		typ = action.TypeUnfollow
	}

	profile, err := c.getProfile(ctx, post, typ)
	if err != nil {
		return action.PostActionState{}, err
	}

	state := c.stateFromProfile(post, profile)
	switch {
	case shouldFollow && profile.Viewer.Following == nil:
		record := map[string]any{
			"$type":     bskyFollowCollection,
			"subject":   profile.DID,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		}
		if err := c.createRecord(ctx, post.StableID, typ, bskyFollowCollection, record); err != nil {
			return action.PostActionState{}, err
		}
	case !shouldFollow && profile.Viewer.Following != nil:
		if err := c.deleteRecord(ctx, post.StableID, typ, bskyFollowCollection, *profile.Viewer.Following); err != nil {
			return action.PostActionState{}, err
		}
	}

	state.IsFollowingAuthor = shouldFollow
	return state, nil
}

// Mute implements the action boundary.
func (c *BlueskyClient) Mute(ctx context.Context, post *feed.Post, shouldMute bool) (action.PostActionState, error) {
	typ, proc := action.TypeMute, "app.bsky.graph.muteActor"
	if !shouldMute {
		typ, proc = action.TypeUnmute, "app.bsky.graph.unmuteActor"
	}

	req, err := newJSONRequest(ctx, http.MethodPost, c.pds+"/xrpc/"+proc,
		map[string]string{"actor": post.AuthorID})
	if err != nil {
		return action.PostActionState{}, err
	}
	c.authorize(req)

	if err := doJSON(c.httpClient, req, post.StableID, typ, nil); err != nil {
		return action.PostActionState{}, err
	}

	state := c.stateFromSighting(post)
	state.IsMutedAuthor = shouldMute
	return state, nil
}

// Block implements the action boundary.
func (c *BlueskyClient) Block(ctx context.Context, post *feed.Post, shouldBlock bool) (action.PostActionState, error) {
	typ := action.TypeBlock
	if !shouldBlock {
		typ = action.TypeUnblock
	}

	profile, err := c.getProfile(ctx, post, typ)
	if err != nil {
		return action.PostActionState{}, err
	}

	state := c.stateFromProfile(post, profile)
	switch {
	case shouldBlock && profile.Viewer.Blocking == nil:
		record := map[string]any{
			"$type":     bskyBlockCollection,
			"subject":   profile.DID,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		}
		if err := c.createRecord(ctx, post.StableID, typ, bskyBlockCollection, record); err != nil {
			return action.PostActionState{}, err
		}
	case !shouldBlock && profile.Viewer.Blocking != nil:
		if err := c.deleteRecord(ctx, post.StableID, typ, bskyBlockCollection, *profile.Viewer.Blocking); err != nil {
			return action.PostActionState{}, err
		}
	}

	state.IsBlockedAuthor = shouldBlock
	return state, nil
}

// FetchActions retrieves the authoritative state without mutating it.
func (c *BlueskyClient) FetchActions(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	view, err := c.getPost(ctx, post, "")
	if err != nil {
		return action.PostActionState{}, err
	}
	return c.stateFromView(post, view), nil
}

func (c *BlueskyClient) getPost(ctx context.Context, post *feed.Post, typ action.Type) (bskyPostView, error) {
	endpoint := c.pds + "/xrpc/app.bsky.feed.getPosts?uris=" + url.QueryEscape(post.PlatformID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return bskyPostView{}, err
	}
	c.authorize(req)

	var out struct {
		Posts []bskyPostView `json:"posts"`
	}
	if err := doJSON(c.httpClient, req, post.StableID, typ, &out); err != nil {
		return bskyPostView{}, err
	}
	if len(out.Posts) == 0 {
		return bskyPostView{}, engine.NewPermanentError(post.StableID, typ,
			fmt.Errorf("post not found: %s", post.PlatformID))
	}
	return out.Posts[0], nil
}

func (c *BlueskyClient) getProfile(ctx context.Context, post *feed.Post, typ action.Type) (bskyProfileView, error) {
	endpoint := c.pds + "/xrpc/app.bsky.actor.getProfile?actor=" + url.QueryEscape(post.AuthorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return bskyProfileView{}, err
	}
	c.authorize(req)

	var profile bskyProfileView
	if err := doJSON(c.httpClient, req, post.StableID, typ, &profile); err != nil {
		return bskyProfileView{}, err
	}
	return profile, nil
}

func (c *BlueskyClient) createRecord(ctx context.Context, postID string, typ action.Type, collection string, record map[string]any) error {
	body := map[string]any{
		"repo":       c.did,
		"collection": collection,
		"record":     record,
	}
	req, err := newJSONRequest(ctx, http.MethodPost, c.pds+"/xrpc/com.atproto.repo.createRecord", body)
	if err != nil {
		return err
	}
	c.authorize(req)
	return doJSON(c.httpClient, req, postID, typ, nil)
}

func (c *BlueskyClient) deleteRecord(ctx context.Context, postID string, typ action.Type, collection, recordURI string) error {
	body := map[string]any{
		"repo":       c.did,
		"collection": collection,
		"rkey":       recordKey(recordURI),
	}
	req, err := newJSONRequest(ctx, http.MethodPost, c.pds+"/xrpc/com.atproto.repo.deleteRecord", body)
	if err != nil {
		return err
	}
	c.authorize(req)
	return doJSON(c.httpClient, req, postID, typ, nil)
}

func (c *BlueskyClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}

// recordKey extracts the rkey from an at:// record URI.
func recordKey(recordURI string) string {
	idx := strings.LastIndex(recordURI, "/")
	if idx < 0 {
		return recordURI
	}
	return recordURI[idx+1:]
}

func (c *BlueskyClient) stateFromView(post *feed.Post, view bskyPostView) action.PostActionState {
	state := c.stateFromSighting(post)
	if view.Author.DID != "" {
		state.AuthorID = view.Author.DID
	}
	state.IsLiked = view.Viewer.Like != nil
	state.IsReposted = view.Viewer.Repost != nil
	state.LikeCount = view.LikeCount
	state.RepostCount = view.RepostCount
	state.ReplyCount = view.ReplyCount
	state.IsFollowingAuthor = view.Author.Viewer.Following != nil
	state.IsMutedAuthor = view.Author.Viewer.Muted
	state.IsBlockedAuthor = view.Author.Viewer.Blocking != nil
	return state
}

func (c *BlueskyClient) stateFromProfile(post *feed.Post, profile bskyProfileView) action.PostActionState {
	state := c.stateFromSighting(post)
	if profile.DID != "" {
		state.AuthorID = profile.DID
	}
	state.IsFollowingAuthor = profile.Viewer.Following != nil
	state.IsMutedAuthor = profile.Viewer.Muted
	state.IsBlockedAuthor = profile.Viewer.Blocking != nil
	return state
}

// stateFromSighting seeds post-level fields from the sighting so responses
// that carry no post data do not zero them during reconciliation.
func (c *BlueskyClient) stateFromSighting(post *feed.Post) action.PostActionState {
	return action.PostActionState{
		StableID:    post.StableID,
		Platform:    feed.PlatformBluesky,
		AuthorID:    post.AuthorID,
		IsLiked:     post.IsLiked,
		IsReposted:  post.IsReposted,
		LikeCount:   post.LikeCount,
		RepostCount: post.RepostCount,
		ReplyCount:  post.ReplyCount,
		LastUpdated: time.Now(),
	}
}
