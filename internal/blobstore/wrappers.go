package blobstore

import (
	"context"
	"strings"

	"github.com/scmcore/engine/internal/coreerrors"
)

// PrefixBlobstore prepends Prefix to every key before delegating, so
// callers keep using unprefixed keys; StripPrefix maps a raw underlying
// key back. Construct one with an empty Prefix to get the "no-prefix"
// debugging pass-through.
type PrefixBlobstore struct {
	Under  Blobstore
	Prefix string
}

func (p *PrefixBlobstore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.Under.Get(ctx, p.Prefix+key)
}

func (p *PrefixBlobstore) Put(ctx context.Context, key string, value []byte) error {
	return p.Under.Put(ctx, p.Prefix+key, value)
}

func (p *PrefixBlobstore) Persist(ctx context.Context) error { return p.Under.Persist(ctx) }

// StripPrefix removes Prefix from a key previously returned by an
// enumeration over the underlying store, as the "no-prefix" debug path
// needs when listing raw keys.
func (p *PrefixBlobstore) StripPrefix(key string) string {
	return strings.TrimPrefix(key, p.Prefix)
}

// RedactedBlobstore rejects gets and puts against keys present in its
// redaction set, returning a coreerrors.Redacted carrying the recorded
// reason.
type RedactedBlobstore struct {
	Under    Blobstore
	Redacted map[string]string // key -> reason
}

func (r *RedactedBlobstore) checkRedacted(key string) error {
	if reason, ok := r.Redacted[key]; ok {
		return &coreerrors.Redacted{Key: key, Reason: reason}
	}
	return nil
}

func (r *RedactedBlobstore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := r.checkRedacted(key); err != nil {
		return nil, false, err
	}
	return r.Under.Get(ctx, key)
}

func (r *RedactedBlobstore) Put(ctx context.Context, key string, value []byte) error {
	if err := r.checkRedacted(key); err != nil {
		return err
	}
	return r.Under.Put(ctx, key, value)
}

func (r *RedactedBlobstore) Persist(ctx context.Context) error { return r.Under.Persist(ctx) }
