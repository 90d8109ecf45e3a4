// Package coretypes defines the identifiers and records shared across the
// commit-graph engine: changeset ids, vertex ids, bonsai changesets, and
// bookmark records.
package coretypes

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// CsIdSize is the width in bytes of a changeset id.
const CsIdSize = 32

// CsId is the content hash of a bonsai changeset. It is opaque, totally
// ordered, and compared by value.
type CsId [CsIdSize]byte

// ZeroCsId is the all-zero id used as a sentinel for "no changeset".
var ZeroCsId = CsId{}

// String renders the id as lowercase hex.
func (c CsId) String() string {
	return hex.EncodeToString(c[:])
}

// IsZero reports whether c is the zero value.
func (c CsId) IsZero() bool {
	return c == ZeroCsId
}

// Compare returns -1, 0, or 1 as c is less than, equal to, or greater than
// other, using byte-wise ordering.
func (c CsId) Compare(other CsId) int {
	return bytes.Compare(c[:], other[:])
}

// Less reports whether c sorts before other.
func (c CsId) Less(other CsId) bool {
	return c.Compare(other) < 0
}

// CsIdFromHex parses a lowercase or uppercase hex string into a CsId.
func CsIdFromHex(s string) (CsId, error) {
	var c CsId
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("coretypes: invalid changeset id hex %q: %w", s, err)
	}
	if len(b) != CsIdSize {
		return c, fmt.Errorf("coretypes: changeset id must be %d bytes, got %d", CsIdSize, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// CsIdFromBytes copies b into a CsId, failing if the length is wrong.
func CsIdFromBytes(b []byte) (CsId, error) {
	var c CsId
	if len(b) != CsIdSize {
		return c, fmt.Errorf("coretypes: changeset id must be %d bytes, got %d", CsIdSize, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// Vid is a dense, repo-scoped vertex id assigned by the IdMap. Ordering
// corresponds to a topological embedding chosen at assignment time; it is
// not stable across rebuilds of the IdMap.
type Vid uint64

// String renders the vid in decimal, used in error messages and log
// fields.
func (v Vid) String() string {
	return fmt.Sprintf("%d", uint64(v))
}

// VertexName is the opaque external identifier for a DAG vertex, typically
// the commit's 20- or 32-byte hash. It is compared and hashed by value via
// its string conversion, so callers should treat it as an immutable key.
type VertexName []byte

// String renders the vertex name as lowercase hex, the form used by
// vertexes_by_hex_prefix lookups.
func (v VertexName) String() string {
	return hex.EncodeToString(v)
}

// Key returns a comparable map key for v.
func (v VertexName) Key() string {
	return string(v)
}

// Equal reports whether v and other name the same vertex.
func (v VertexName) Equal(other VertexName) bool {
	return bytes.Equal(v, other)
}

// CloneVertexName returns a defensive copy of v so callers can retain it
// past the lifetime of the buffer it was read from.
func CloneVertexName(v VertexName) VertexName {
	out := make(VertexName, len(v))
	copy(out, v)
	return out
}
