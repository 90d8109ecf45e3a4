package commitstore

import (
	"bytes"
	"crypto/sha1"
	"fmt"

	"github.com/scmcore/engine/internal/coretypes"
)

// parentHashSize is the width of a single parent slot in the
// Mercurial-form header.
const parentHashSize = 20

// headerSize is the full two-slot header width.
const headerSize = 2 * parentHashSize

var nullHash [parentHashSize]byte

// canonicalHeader builds the 40-byte header for parents: each of the (at
// most two) parent hashes padded into a 20-byte slot (null-hash when
// absent), then the two slots ordered ascending regardless of semantic
// parent order, matching the historical hash law.
func canonicalHeader(parents []coretypes.VertexName) ([headerSize]byte, error) {
	if len(parents) > 2 {
		return [headerSize]byte{}, fmt.Errorf("commitstore: mercurial-form commits support at most 2 parents, got %d", len(parents))
	}
	var p1, p2 [parentHashSize]byte = nullHash, nullHash
	if len(parents) >= 1 {
		if len(parents[0]) != parentHashSize {
			return [headerSize]byte{}, fmt.Errorf("commitstore: parent hash must be %d bytes, got %d", parentHashSize, len(parents[0]))
		}
		copy(p1[:], parents[0])
	}
	if len(parents) == 2 {
		if len(parents[1]) != parentHashSize {
			return [headerSize]byte{}, fmt.Errorf("commitstore: parent hash must be %d bytes, got %d", parentHashSize, len(parents[1]))
		}
		copy(p2[:], parents[1])
	}
	if bytes.Compare(p1[:], p2[:]) > 0 {
		p1, p2 = p2, p1
	}
	var header [headerSize]byte
	copy(header[:parentHashSize], p1[:])
	copy(header[parentHashSize:], p2[:])
	return header, nil
}

// computeVertexHash returns SHA1(canonicalHeader(parents) || payload), the
// vertex identity a Mercurial-form commit blob is keyed and verified
// against.
func computeVertexHash(parents []coretypes.VertexName, payload []byte) (coretypes.VertexName, error) {
	header, err := canonicalHeader(parents)
	if err != nil {
		return nil, err
	}
	h := sha1.New()
	h.Write(header[:])
	h.Write(payload)
	return coretypes.VertexName(h.Sum(nil)), nil
}
