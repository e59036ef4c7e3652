package feed

import "time"

// Platform identifies the social network a post originated on.
type Platform string

const (
	PlatformMastodon Platform = "mastodon"
	PlatformBluesky  Platform = "bluesky"
)

// CanonicalPostID is the stable cross-source identity of a logical post.
//
// Two sightings of the same underlying post, however wrapped, resolve to
// the same value. The ID is derived from immutable fields only - it never
// changes when like counts, repost flags, or other mutable state changes.
type CanonicalPostID string

// Post is a normalized post as delivered by a platform client.
//
// When a sighting is a boost (Mastodon reblog, Bluesky repost), the outer
// Post carries the boosting account's author fields and Original points at
// the unwrapped post. For plain sightings Original is nil.
type Post struct {
	// StableID is the locally stable identifier assigned by the client layer.
	StableID string

	// PlatformID is the platform-native identifier of this sighting.
	// For a boost wrapper this is the wrapper's own id, not the original's.
	PlatformID string

	Platform Platform

	AuthorID     string
	AuthorHandle string

	Content     string
	CreatedAt   time.Time
	InReplyToID string

	LikeCount   int
	RepostCount int
	ReplyCount  int

	IsLiked    bool
	IsReposted bool

	// Original is the unwrapped post when this sighting is a boost wrapper.
	Original *Post
}

// IsBoost reports whether this sighting wraps another post.
func (p *Post) IsBoost() bool {
	return p != nil && p.Original != nil
}

// EntryKind distinguishes how a timeline entry is presented.
type EntryKind int

const (
	// EntryKindNormal is a plain post authored by the account it appears under.
	EntryKindNormal EntryKind = iota + 1
	// EntryKindBoost is a post surfaced by someone boosting it.
	EntryKindBoost
	// EntryKindReply is a post replying to another post.
	EntryKindReply
)

// String returns the entry kind name for logs and JSON output.
func (k EntryKind) String() string {
	switch k {
	case EntryKindNormal:
		return "normal"
	case EntryKindBoost:
		return "boost"
	case EntryKindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// TimelineEntry is the dedup unit presented to the UI. Exactly one entry
// exists per (timeline, canonical post) pair.
type TimelineEntry struct {
	ID          string
	Kind        EntryKind
	BoostedBy   string // booster handle when Kind == EntryKindBoost
	ParentID    string // in-reply-to id when Kind == EntryKindReply
	CanonicalID CanonicalPostID
	CreatedAt   time.Time
}

// SocialEventKind categorizes account interactions surfaced through timelines.
type SocialEventKind string

const (
	SocialEventRepost SocialEventKind = "repost"
)

// SocialEvent records one account's interaction with a canonical post,
// e.g. "actor boosted post X at T".
type SocialEvent struct {
	ActorHandle string
	Kind        SocialEventKind
	CanonicalID CanonicalPostID
	At          time.Time
}

// SocialContext is the accumulated cross-account interaction summary for a
// canonical post. RepostActorNames preserves first-seen order.
type SocialContext struct {
	RepostActorCount int
	RepostActorNames []string
}

// CanonicalPost is the single shared record for a logical post across all
// timelines that contain it.
//
// Content is the original, unwrapped post and is immutable once set
// (first-seen content wins). Social accumulates across repeated sightings.
type CanonicalPost struct {
	ID      CanonicalPostID
	Content *Post
	Social  SocialContext
}
