package domain

import "time"

// DuplicateGroup collects articles that carry the same text (syndication,
// republishing). Membership is append-only: new duplicates always attach to
// the canonical representative, which keeps resolution transitive.
type DuplicateGroup struct {
	CanonicalID string
	MemberIDs   []string
}

// Size returns the member count, canonical included.
func (g DuplicateGroup) Size() int {
	return len(g.MemberIDs)
}

// ArticleFingerprint is the persisted simhash of an indexed article. The
// candidate index is rebuilt from these after a restart.
type ArticleFingerprint struct {
	ArticleID   string
	Fingerprint uint64
	PublishedAt time.Time
}
