package coretypes

import "fmt"

// BookmarkKind distinguishes publishing bookmarks from ephemeral scratch
// (infinitepush) bookmarks.
type BookmarkKind int

const (
	// Public bookmarks participate in public history; moves are logged.
	Public BookmarkKind = iota
	// Scratch bookmarks are per-user, namespaced, and their moves are
	// never written to the update log.
	Scratch
)

func (k BookmarkKind) String() string {
	switch k {
	case Public:
		return "public"
	case Scratch:
		return "scratch"
	default:
		return "unknown"
	}
}

// Bookmark identifies a named ref within a repository.
type Bookmark struct {
	Name string
	Kind BookmarkKind
}

// BookmarkUpdateReason explains why a bookmark moved. The zero value is
// not a valid reason; always construct one of the named constants.
type BookmarkUpdateReason int

const (
	ReasonUnknown BookmarkUpdateReason = iota
	ReasonBacksyncer
	ReasonBlobimport
	ReasonManualMove
	ReasonPush
	ReasonPushrebase
	ReasonTestMove
	ReasonXRepoSync
)

var reasonTags = map[BookmarkUpdateReason]string{
	ReasonBacksyncer: "backsyncer",
	ReasonBlobimport: "blobimport",
	ReasonManualMove: "manualmove",
	ReasonPush:       "push",
	ReasonPushrebase: "pushrebase",
	ReasonTestMove:   "testmove",
	ReasonXRepoSync:  "xreposync",
}

var tagToReason = func() map[string]BookmarkUpdateReason {
	m := make(map[string]BookmarkUpdateReason, len(reasonTags))
	for r, tag := range reasonTags {
		m[tag] = r
	}
	return m
}()

// EncodeReason renders r as its short interchange tag.
func EncodeReason(r BookmarkUpdateReason) (string, error) {
	tag, ok := reasonTags[r]
	if !ok {
		return "", fmt.Errorf("coretypes: unknown bookmark update reason %d", r)
	}
	return tag, nil
}

// DecodeReason parses a short interchange tag back into a reason. The
// round-trip DecodeReason(EncodeReason(r)) == r holds for every named
// reason constant.
func DecodeReason(tag string) (BookmarkUpdateReason, error) {
	r, ok := tagToReason[tag]
	if !ok {
		return ReasonUnknown, fmt.Errorf("coretypes: unknown bookmark update reason tag %q", tag)
	}
	return r, nil
}

// BookmarkUpdateLogEntry is one row of a repository's append-only bookmark
// move log.
type BookmarkUpdateLogEntry struct {
	Id          int64
	RepoId      int64
	Name        string
	From        *CsId
	To          *CsId
	Reason      BookmarkUpdateReason
	TimestampMs int64
	ReplayData  []byte
}

// Freshness selects the consistency level a bookmark read must observe.
type Freshness int

const (
	// MaybeStale permits reading from a replica.
	MaybeStale Freshness = iota
	// MostRecent requires reading from the authoritative source.
	MostRecent
)
