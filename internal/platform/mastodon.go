package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/feed"
)

// MastodonClient dispatches post actions against a Mastodon instance.
//
// Post-level actions use the statuses endpoints and parse the returned
// status for authoritative counts; account-level actions use the accounts
// endpoints and parse the returned relationship.
type MastodonClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewMastodonClient creates a client for one instance. baseURL is the
// instance origin, e.g. "https://chitter.example".
func NewMastodonClient(baseURL, accessToken string) *MastodonClient {
	return &MastodonClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      accessToken,
		httpClient: newHTTPClient(),
	}
}

type mastodonStatus struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Favourited      bool      `json:"favourited"`
	Reblogged       bool      `json:"reblogged"`
	FavouritesCount int       `json:"favourites_count"`
	ReblogsCount    int       `json:"reblogs_count"`
	RepliesCount    int       `json:"replies_count"`
	Account         struct {
		ID   string `json:"id"`
		Acct string `json:"acct"`
	} `json:"account"`
}

type mastodonRelationship struct {
	ID        string `json:"id"`
	Following bool   `json:"following"`
	Muting    bool   `json:"muting"`
	Blocking  bool   `json:"blocking"`
}

// Like implements the action boundary.
func (c *MastodonClient) Like(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	return c.statusAction(ctx, post, action.TypeLike, "favourite")
}

// Unlike implements the action boundary.
func (c *MastodonClient) Unlike(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	return c.statusAction(ctx, post, action.TypeUnlike, "unfavourite")
}

// Repost implements the action boundary.
func (c *MastodonClient) Repost(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	return c.statusAction(ctx, post, action.TypeRepost, "reblog")
}

// Unrepost implements the action boundary.
func (c *MastodonClient) Unrepost(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	return c.statusAction(ctx, post, action.TypeUnrepost, "unreblog")
}

// Follow implements the action boundary.
func (c *MastodonClient) Follow(ctx context.Context, post *feed.Post, shouldFollow bool) (action.PostActionState, error) {
	verb, typ := "follow", action.TypeFollow
	if !shouldFollow {
		verb, typ = "unfollow", action.TypeUnfollow
	}
	return c.accountAction(ctx, post, typ, verb)
}

// Mute implements the action boundary.
func (c *MastodonClient) Mute(ctx context.Context, post *feed.Post, shouldMute bool) (action.PostActionState, error) {
	verb, typ := "mute", action.TypeMute
	if !shouldMute {
		verb, typ = "unmute", action.TypeUnmute
	}
	return c.accountAction(ctx, post, typ, verb)
}

// Block implements the action boundary.
func (c *MastodonClient) Block(ctx context.Context, post *feed.Post, shouldBlock bool) (action.PostActionState, error) {
	verb, typ := "block", action.TypeBlock
	if !shouldBlock {
		verb, typ = "unblock", action.TypeUnblock
	}
	return c.accountAction(ctx, post, typ, verb)
}

// FetchActions retrieves the authoritative state without mutating it.
func (c *MastodonClient) FetchActions(ctx context.Context, post *feed.Post) (action.PostActionState, error) {
	endpoint := c.baseURL + "/api/v1/statuses/" + url.PathEscape(post.PlatformID)
	req, err := c.newRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return action.PostActionState{}, err
	}

	var status mastodonStatus
	if err := doJSON(c.httpClient, req, post.StableID, "", &status); err != nil {
		return action.PostActionState{}, err
	}
	return c.statusState(post, status), nil
}

func (c *MastodonClient) statusAction(ctx context.Context, post *feed.Post, typ action.Type, verb string) (action.PostActionState, error) {
	endpoint := c.baseURL + "/api/v1/statuses/" + url.PathEscape(post.PlatformID) + "/" + verb
	req, err := c.newRequest(ctx, http.MethodPost, endpoint)
	if err != nil {
		return action.PostActionState{}, err
	}

	var status mastodonStatus
	if err := doJSON(c.httpClient, req, post.StableID, typ, &status); err != nil {
		return action.PostActionState{}, err
	}
	return c.statusState(post, status), nil
}

func (c *MastodonClient) accountAction(ctx context.Context, post *feed.Post, typ action.Type, verb string) (action.PostActionState, error) {
	endpoint := c.baseURL + "/api/v1/accounts/" + url.PathEscape(post.AuthorID) + "/" + verb
	req, err := c.newRequest(ctx, http.MethodPost, endpoint)
	if err != nil {
		return action.PostActionState{}, err
	}

	var rel mastodonRelationship
	if err := doJSON(c.httpClient, req, post.StableID, typ, &rel); err != nil {
		return action.PostActionState{}, err
	}

	// Relationship responses carry no post-level fields; seed those from
	// the sighting so reconciliation does not zero them.
	state := c.baseState(post)
	state.IsFollowingAuthor = rel.Following
	state.IsMutedAuthor = rel.Muting
	state.IsBlockedAuthor = rel.Blocking
	return state, nil
}

func (c *MastodonClient) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func (c *MastodonClient) statusState(post *feed.Post, status mastodonStatus) action.PostActionState {
	state := c.baseState(post)
	if status.Account.ID != "" {
		state.AuthorID = status.Account.ID
	}
	state.IsLiked = status.Favourited
	state.IsReposted = status.Reblogged
	state.LikeCount = status.FavouritesCount
	state.RepostCount = status.ReblogsCount
	state.ReplyCount = status.RepliesCount
	return state
}

func (c *MastodonClient) baseState(post *feed.Post) action.PostActionState {
	return action.PostActionState{
		StableID:    post.StableID,
		Platform:    feed.PlatformMastodon,
		AuthorID:    post.AuthorID,
		IsLiked:     post.IsLiked,
		IsReposted:  post.IsReposted,
		LikeCount:   post.LikeCount,
		RepostCount: post.RepostCount,
		ReplyCount:  post.ReplyCount,
		LastUpdated: time.Now(),
	}
}
