package action

import (
	"time"

	"github.com/roach88/unifeed/internal/feed"
)

// Type identifies a user action dispatched against a post.
type Type string

const (
	TypeLike     Type = "like"
	TypeUnlike   Type = "unlike"
	TypeRepost   Type = "repost"
	TypeUnrepost Type = "unrepost"
	TypeFollow   Type = "follow"
	TypeUnfollow Type = "unfollow"
	TypeMute     Type = "mute"
	TypeUnmute   Type = "unmute"
	TypeBlock    Type = "block"
	TypeUnblock  Type = "unblock"
)

// ValidTypes lists every replayable action type, used when deserializing
// queued actions from durable storage.
var ValidTypes = map[Type]bool{
	TypeLike:     true,
	TypeUnlike:   true,
	TypeRepost:   true,
	TypeUnrepost: true,
	TypeFollow:   true,
	TypeUnfollow: true,
	TypeMute:     true,
	TypeUnmute:   true,
	TypeBlock:    true,
	TypeUnblock:  true,
}

// PostActionState is the interaction state of one post identity.
//
// Mutated three ways: optimistic local edits from user gestures,
// reconciliation from a server response, and propagation from a sibling
// state sharing the same author.
type PostActionState struct {
	StableID string        `json:"stable_id"`
	Platform feed.Platform `json:"platform"`
	AuthorID string        `json:"author_id"`

	IsLiked    bool `json:"is_liked"`
	IsReposted bool `json:"is_reposted"`
	IsReplied  bool `json:"is_replied"`
	IsQuoted   bool `json:"is_quoted"`

	LikeCount   int `json:"like_count"`
	RepostCount int `json:"repost_count"`
	ReplyCount  int `json:"reply_count"`

	IsFollowingAuthor bool `json:"is_following_author"`
	IsMutedAuthor     bool `json:"is_muted_author"`
	IsBlockedAuthor   bool `json:"is_blocked_author"`

	LastUpdated time.Time `json:"last_updated"`
}

// QueuedAction is one deferred action awaiting replay after reconnect.
type QueuedAction struct {
	ID string `json:"id"`

	// PostID is the locally stable identifier.
	PostID string `json:"post_id"`

	// PlatformPostID is the platform-native identifier. Optional: records
	// persisted before this field existed lack it.
	PlatformPostID string `json:"platform_post_id,omitempty"`

	Platform  feed.Platform `json:"platform"`
	Type      Type          `json:"type"`
	CreatedAt time.Time     `json:"created_at"`
}

// FetchPostID resolves the identifier to replay this action against.
//
// Prefers the platform-native id when present: locally-stable and native
// identifiers diverge, and after a process restart purges the in-memory
// mapping only the native id is valid against the remote API.
func (q QueuedAction) FetchPostID() string {
	if q.PlatformPostID != "" {
		return q.PlatformPostID
	}
	return q.PostID
}
