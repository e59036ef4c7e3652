package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalID_PlainPost(t *testing.T) {
	p := &Post{Platform: PlatformMastodon, PlatformID: "101"}

	assert.Equal(t, CanonicalPostID("mastodon:101"), CanonicalID(p))
}

func TestCanonicalID_BoostResolvesToOriginal(t *testing.T) {
	original := &Post{Platform: PlatformMastodon, PlatformID: "101"}
	wrapper := &Post{
		Platform:   PlatformMastodon,
		PlatformID: "999", // the wrapper's own id must not leak into identity
		Original:   original,
	}

	assert.Equal(t, CanonicalID(original), CanonicalID(wrapper))
}

func TestCanonicalID_IndependentOfMutableFields(t *testing.T) {
	p := &Post{Platform: PlatformBluesky, PlatformID: "at://did:plc:abc/post/3k"}
	id := CanonicalID(p)

	p.LikeCount = 42
	p.IsLiked = true
	p.IsReposted = true

	assert.Equal(t, id, CanonicalID(p))
}

func TestCanonicalID_NormalizesWhitespaceAndCase(t *testing.T) {
	a := &Post{Platform: Platform("Mastodon"), PlatformID: " 101 "}
	b := &Post{Platform: PlatformMastodon, PlatformID: "101"}

	assert.Equal(t, CanonicalID(b), CanonicalID(a))
}

func TestCanonicalID_MalformedIDDegradesDeterministically(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := &Post{Platform: PlatformMastodon, AuthorID: "a1", AuthorHandle: "alice", Content: "hi", CreatedAt: created}
	b := &Post{Platform: PlatformMastodon, AuthorID: "a1", AuthorHandle: "alice", Content: "hi", CreatedAt: created}

	// No native id: still a stable, non-empty key, equal across sightings.
	assert.NotEmpty(t, CanonicalID(a))
	assert.Equal(t, CanonicalID(a), CanonicalID(b))

	other := &Post{Platform: PlatformMastodon, AuthorID: "a2", AuthorHandle: "bob", Content: "yo", CreatedAt: created}
	assert.NotEqual(t, CanonicalID(a), CanonicalID(other))
}

func TestCanonicalID_NilPostReturnsValue(t *testing.T) {
	assert.NotEmpty(t, CanonicalID(nil))
}

func TestDisplayPost_UnwrapsBoost(t *testing.T) {
	original := &Post{PlatformID: "101", Content: "the real content"}
	wrapper := &Post{PlatformID: "999", Original: original}

	assert.Same(t, original, DisplayPost(wrapper))
	assert.Same(t, original, DisplayPost(original))
}
