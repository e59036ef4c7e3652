package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefix for degraded identity hashing.
// Version suffix enables future algorithm migration.
const domainPostIdentity = "unifeed/post/v1"

// CanonicalID resolves a post sighting to its stable cross-source identity.
//
// If the sighting wraps an original (boost/repost semantics), the identity is
// derived from the original's platform and native id; otherwise from the
// sighting's own. This guarantees a boost wrapper and its unwrapped original
// always resolve to the same identity regardless of arrival order.
//
// Pure function, no failure mode: malformed inputs degrade to a best-effort
// hashed key rather than erroring.
func CanonicalID(p *Post) CanonicalPostID {
	if p == nil {
		return CanonicalPostID(domainPostIdentity + ":empty")
	}

	origin := p
	if p.Original != nil {
		origin = p.Original
	}

	platform := strings.ToLower(strings.TrimSpace(string(origin.Platform)))
	if platform == "" {
		platform = "unknown"
	}

	// NFC normalization keeps ids byte-stable across clients that deliver
	// the same identifier in different Unicode forms.
	native := norm.NFC.String(strings.TrimSpace(origin.PlatformID))
	if native == "" {
		return CanonicalPostID(platform + ":" + degradedKey(origin))
	}

	return CanonicalPostID(platform + ":" + native)
}

// degradedKey derives a deterministic identity for posts whose native id is
// missing. Built from immutable fields only (author, creation time, content)
// so repeated sightings of the same malformed post still collapse.
func degradedKey(origin *Post) string {
	h := sha256.New()
	h.Write([]byte(domainPostIdentity))
	h.Write([]byte{0x00}) // null separator prevents boundary ambiguity
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s",
		origin.AuthorID,
		norm.NFC.String(origin.AuthorHandle),
		origin.CreatedAt.UnixNano(),
		norm.NFC.String(origin.Content),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// DisplayPost returns the post that should be rendered for a sighting:
// the unwrapped original for boosts, the sighting itself otherwise.
func DisplayPost(p *Post) *Post {
	if p == nil {
		return nil
	}
	if p.Original != nil {
		return p.Original
	}
	return p
}
