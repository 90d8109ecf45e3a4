package coretypes

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// FileChangeKind distinguishes the ways a path can be touched by a commit.
type FileChangeKind int

const (
	// FileAdd introduces a path that did not exist in any parent.
	FileAdd FileChangeKind = iota
	// FileModify changes the content or mode of an existing path.
	FileModify
	// FileDelete removes a path present in a parent.
	FileDelete
)

func (k FileChangeKind) String() string {
	switch k {
	case FileAdd:
		return "add"
	case FileModify:
		return "modify"
	case FileDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileChange records what happened to a single path in a commit. ContentId
// and Mode are only meaningful for FileAdd/FileModify.
type FileChange struct {
	Kind      FileChangeKind `json:"kind"`
	ContentId string         `json:"content_id,omitempty"`
	Mode      uint32         `json:"mode,omitempty"`
}

// BonsaiChangeset is the normalised, hash-scheme-independent representation
// of a commit. Its CsId is the digest of its deterministic encoding.
type BonsaiChangeset struct {
	Parents                 []CsId                `json:"parents"`
	Author                  string                `json:"author"`
	AuthorDateUnixMillis    int64                 `json:"author_date_ms"`
	Committer               string                `json:"committer,omitempty"`
	CommitterDateUnixMillis int64                 `json:"committer_date_ms,omitempty"`
	Message                 string                `json:"message"`
	FileChanges             map[string]FileChange `json:"file_changes"`
}

// canonicalForm is the field-ordered shadow of BonsaiChangeset used for
// hashing: map iteration order in Go is randomised, so file changes are
// flattened to a sorted slice before encoding.
type canonicalForm struct {
	Parents     []string            `json:"parents"`
	Author      string              `json:"author"`
	AuthorDate  int64               `json:"author_date_ms"`
	Committer   string              `json:"committer,omitempty"`
	CommitDate  int64               `json:"committer_date_ms,omitempty"`
	Message     string              `json:"message"`
	FileChanges []canonicalFileEdit `json:"file_changes"`
}

type canonicalFileEdit struct {
	Path string     `json:"path"`
	FileChange
}

// Encode produces the deterministic byte encoding whose SHA-256 is the
// changeset's CsId. Encoding is pure and side-effect free so it can be
// called repeatedly (e.g. once to compute CsId, once to persist).
func (b *BonsaiChangeset) Encode() ([]byte, error) {
	cf := canonicalForm{
		Parents:    make([]string, len(b.Parents)),
		Author:     b.Author,
		AuthorDate: b.AuthorDateUnixMillis,
		Committer:  b.Committer,
		CommitDate: b.CommitterDateUnixMillis,
		Message:    b.Message,
	}
	for i, p := range b.Parents {
		cf.Parents[i] = p.String()
	}
	for path, fc := range b.FileChanges {
		cf.FileChanges = append(cf.FileChanges, canonicalFileEdit{Path: path, FileChange: fc})
	}
	sort.Slice(cf.FileChanges, func(i, j int) bool {
		return cf.FileChanges[i].Path < cf.FileChanges[j].Path
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cf); err != nil {
		return nil, fmt.Errorf("coretypes: encode bonsai changeset: %w", err)
	}
	return buf.Bytes(), nil
}

// CsId computes the changeset's content id from its canonical encoding.
func (b *BonsaiChangeset) CsId() (CsId, error) {
	enc, err := b.Encode()
	if err != nil {
		return CsId{}, err
	}
	sum := sha256.Sum256(enc)
	return CsId(sum), nil
}
