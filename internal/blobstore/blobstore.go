// Package blobstore implements the abstract blob-store contract consumed
// by the commit store and the derived-data framework: an opaque key to
// opaque-bytes map with get/put/persist. Backend selection (multiplexed,
// memcache, and the like) belongs to external collaborators; this package
// only implements the contract itself plus the in-memory and local-disk
// backends the engine's own tests and single-process deployment need.
package blobstore

import "context"

// Blobstore is the contract every commit/derived-data consumer programs
// against. Keys are short opaque strings; values are opaque bytes.
type Blobstore interface {
	// Get returns the bytes stored under key, or (nil, false, nil) if
	// absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value under key, overwriting any prior value. Blobs are
	// logically immutable once observed by a reader; callers never rely
	// on Put to mutate a previously-read key.
	Put(ctx context.Context, key string, value []byte) error
	// Persist flushes any buffered writes to durable storage. For
	// backends that write through immediately this is a no-op.
	Persist(ctx context.Context) error
}
