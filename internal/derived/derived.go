// Package derived implements the derived-data framework: a per-type
// Mapping backed by the blob store, a DerivedUtils wrapper giving every
// type derive/pending/backfill/regenerate/find-oldest-underived, and a
// name-dispatched factory over the recognised derivation types.
package derived

import (
	"context"
	"fmt"
	"sync"

	"github.com/scmcore/engine/internal/blobstore"
	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/perfcounters"
)

// Mode selects how strictly derive_batch enforces the rule that a
// changeset's dependencies must be derived before the changeset itself.
type Mode int

const (
	// OnlyIfEnabled requires every dependency to already be derived.
	OnlyIfEnabled Mode = iota
	// Unsafe skips the dependency check; reserved for backfill, which
	// derives a long underived run before its ancestors catch up.
	Unsafe
)

// Mapping records which changesets have a derived value of one type, and
// what that value is. Implementations persist to the blob store at a
// type-specific key.
type Mapping interface {
	// Get returns the subset of css already derived, keyed by changeset.
	Get(ctx context.Context, css []coretypes.CsId) (map[coretypes.CsId][]byte, error)
	// Put idempotently records cs's derived value.
	Put(ctx context.Context, cs coretypes.CsId, value []byte) error
}

// Repo is the read surface derive_batch implementations use to walk
// dependencies: the bonsai changeset for a given id.
type Repo interface {
	GetBonsaiChangeset(ctx context.Context, cs coretypes.CsId) (*coretypes.BonsaiChangeset, error)
}

// DeriveBatchFunc is a type's V_T::derive_batch: compute the derived value
// for each of css, reading whatever dependencies it needs through repo and
// writing any auxiliary derived blobs through blobs. It must not call
// mapping.Put for css outside its input; DerivedUtils does that for the
// values this func returns.
type DeriveBatchFunc func(ctx context.Context, repo Repo, blobs blobstore.Blobstore, css []coretypes.CsId, mapping Mapping, mode Mode) (map[coretypes.CsId][]byte, error)

// DerivedUtils wraps one derivation type's Mapping with the
// derive/pending/backfill/regenerate operation set.
type DerivedUtils struct {
	Name          string
	SchemaVersion string
	Mapping       Mapping
	Repo          Repo
	Blobs         blobstore.Blobstore
	DeriveBatch   DeriveBatchFunc
	counters      *perfcounters.Counters

	mu         sync.Mutex
	regenerate map[coretypes.CsId]bool
}

// New constructs a DerivedUtils. counters may be nil.
func New(name, schemaVersion string, mapping Mapping, repo Repo, blobs blobstore.Blobstore, deriveBatch DeriveBatchFunc, counters *perfcounters.Counters) *DerivedUtils {
	if counters == nil {
		counters = &perfcounters.Counters{}
	}
	return &DerivedUtils{
		Name:          name,
		SchemaVersion: schemaVersion,
		Mapping:       mapping,
		Repo:          repo,
		Blobs:         blobs,
		DeriveBatch:   deriveBatch,
		counters:      counters,
		regenerate:    make(map[coretypes.CsId]bool),
	}
}

func (u *DerivedUtils) markedForRegen(cs coretypes.CsId) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.regenerate[cs]
}

func (u *DerivedUtils) clearRegen(cs coretypes.CsId) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.regenerate, cs)
}

// Regenerate marks css so the next Derive call for each recomputes instead
// of trusting a cached mapping entry.
func (u *DerivedUtils) Regenerate(css []coretypes.CsId) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, cs := range css {
		u.regenerate[cs] = true
	}
}

// Pending returns the subset of css not yet present in the mapping (or
// explicitly marked for regeneration).
func (u *DerivedUtils) Pending(ctx context.Context, css []coretypes.CsId) ([]coretypes.CsId, error) {
	present, err := u.Mapping.Get(ctx, css)
	if err != nil {
		return nil, fmt.Errorf("derived: %s: pending: %w", u.Name, &coreerrors.Backend{Cause: err})
	}
	var out []coretypes.CsId
	for _, cs := range css {
		if _, ok := present[cs]; ok && !u.markedForRegen(cs) {
			continue
		}
		out = append(out, cs)
	}
	return out, nil
}

// Derive returns cs's derived value, computing and recording it via
// DeriveBatch(mode=OnlyIfEnabled) if not already cached.
func (u *DerivedUtils) Derive(ctx context.Context, cs coretypes.CsId) ([]byte, error) {
	if !u.markedForRegen(cs) {
		present, err := u.Mapping.Get(ctx, []coretypes.CsId{cs})
		if err != nil {
			return nil, fmt.Errorf("derived: %s: derive %s: %w", u.Name, cs, &coreerrors.Backend{Cause: err})
		}
		if v, ok := present[cs]; ok {
			u.counters.Incr(perfcounters.DeriveCacheHit)
			return v, nil
		}
	}

	out, err := u.DeriveBatch(ctx, u.Repo, u.Blobs, []coretypes.CsId{cs}, u.Mapping, OnlyIfEnabled)
	if err != nil {
		return nil, fmt.Errorf("derived: %s: derive %s: %w", u.Name, cs, &coreerrors.DeriveError{Cause: err})
	}
	v, ok := out[cs]
	if !ok {
		return nil, fmt.Errorf("derived: %s: derive %s: %w", u.Name, cs, &coreerrors.DeriveError{Cause: fmt.Errorf("derive_batch returned no value")})
	}
	if err := u.Mapping.Put(ctx, cs, v); err != nil {
		return nil, fmt.Errorf("derived: %s: derive %s: record: %w", u.Name, cs, &coreerrors.Backend{Cause: err})
	}
	u.clearRegen(cs)
	u.counters.Incr(perfcounters.DeriveRun)
	return v, nil
}

// BackfillBatchDangerous derives css in Unsafe mode behind an in-memory
// write layer and an in-memory mapping staging layer, then flushes the
// blob writes before committing the staged mapping entries, so a caller
// that fails mid-flush leaves the mapping exactly as it was.
func (u *DerivedUtils) BackfillBatchDangerous(ctx context.Context, css []coretypes.CsId) error {
	memWrites := blobstore.NewMemWrites(u.Blobs)
	staging := newStagingMapping(u.Mapping)

	out, err := u.DeriveBatch(ctx, u.Repo, memWrites, css, staging, Unsafe)
	if err != nil {
		return fmt.Errorf("derived: %s: backfill: %w", u.Name, &coreerrors.DeriveError{Cause: err})
	}
	for _, cs := range css {
		v, ok := out[cs]
		if !ok {
			return fmt.Errorf("derived: %s: backfill %s: %w", u.Name, cs, &coreerrors.DeriveError{Cause: fmt.Errorf("derive_batch returned no value")})
		}
		if err := staging.Put(ctx, cs, v); err != nil {
			return err
		}
	}

	if err := memWrites.Flush(ctx); err != nil {
		return fmt.Errorf("derived: %s: backfill: flush blobs: %w", u.Name, &coreerrors.Backend{Cause: err})
	}
	if err := staging.Commit(ctx); err != nil {
		return fmt.Errorf("derived: %s: backfill: commit mapping: %w", u.Name, &coreerrors.Backend{Cause: err})
	}
	for _, cs := range css {
		u.clearRegen(cs)
	}
	return nil
}

// FindOldestUnderived computes, for each input changeset, the
// topologically sorted list of its underived ancestors, takes the first
// entry of each as a proxy for that branch's oldest underived commit, and
// returns whichever candidate has the smallest author date, or nil if
// every input is fully derived.
func (u *DerivedUtils) FindOldestUnderived(ctx context.Context, css []coretypes.CsId) (*coretypes.CsId, error) {
	var candidates []coretypes.CsId
	for _, cs := range css {
		chain, err := u.underivedAncestorsToposorted(ctx, cs)
		if err != nil {
			return nil, err
		}
		if len(chain) > 0 {
			candidates = append(candidates, chain[0])
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var best *coretypes.CsId
	var bestDate int64
	for i := range candidates {
		bc, err := u.Repo.GetBonsaiChangeset(ctx, candidates[i])
		if err != nil {
			return nil, fmt.Errorf("derived: %s: find oldest underived: %w", u.Name, err)
		}
		if best == nil || bc.AuthorDateUnixMillis < bestDate {
			best = &candidates[i]
			bestDate = bc.AuthorDateUnixMillis
		}
	}
	return best, nil
}

// underivedAncestorsToposorted walks cs's ancestry depth-first, stopping
// at any ancestor that is already derived, and returns the underived set
// in post-order (deepest underived ancestor first, cs last).
func (u *DerivedUtils) underivedAncestorsToposorted(ctx context.Context, cs coretypes.CsId) ([]coretypes.CsId, error) {
	present, err := u.Mapping.Get(ctx, []coretypes.CsId{cs})
	if err != nil {
		return nil, fmt.Errorf("derived: %s: walk ancestry: %w", u.Name, &coreerrors.Backend{Cause: err})
	}
	if _, ok := present[cs]; ok {
		return nil, nil
	}

	visited := make(map[coretypes.CsId]bool)
	var order []coretypes.CsId
	var visit func(c coretypes.CsId) error
	visit = func(c coretypes.CsId) error {
		if visited[c] {
			return nil
		}
		visited[c] = true
		bc, err := u.Repo.GetBonsaiChangeset(ctx, c)
		if err != nil {
			return err
		}
		for _, p := range bc.Parents {
			derived, err := u.Mapping.Get(ctx, []coretypes.CsId{p})
			if err != nil {
				return fmt.Errorf("derived: %s: walk ancestry: %w", u.Name, &coreerrors.Backend{Cause: err})
			}
			if _, ok := derived[p]; ok {
				continue
			}
			if err := visit(p); err != nil {
				return err
			}
		}
		order = append(order, c)
		return nil
	}
	if err := visit(cs); err != nil {
		return nil, err
	}
	return order, nil
}

// stagingMapping buffers Put calls in memory, invisible to Get until
// Commit, so a caller that aborts before Commit leaves the underlying
// mapping (and therefore Pending) exactly as it found it.
type stagingMapping struct {
	under Mapping

	mu     sync.Mutex
	staged map[coretypes.CsId][]byte
}

func newStagingMapping(under Mapping) *stagingMapping {
	return &stagingMapping{under: under, staged: make(map[coretypes.CsId][]byte)}
}

func (s *stagingMapping) Get(ctx context.Context, css []coretypes.CsId) (map[coretypes.CsId][]byte, error) {
	return s.under.Get(ctx, css)
}

func (s *stagingMapping) Put(ctx context.Context, cs coretypes.CsId, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[cs] = value
	return nil
}

// Commit writes every staged value through to the underlying mapping.
func (s *stagingMapping) Commit(ctx context.Context) error {
	s.mu.Lock()
	staged := make(map[coretypes.CsId][]byte, len(s.staged))
	for cs, v := range s.staged {
		staged[cs] = v
	}
	s.mu.Unlock()

	for cs, v := range staged {
		if err := s.under.Put(ctx, cs, v); err != nil {
			return err
		}
	}
	return nil
}

// BlobMapping is the concrete Mapping that persists each type's values
// directly in the blob store, at a type-and-repo-scoped key.
type BlobMapping struct {
	typeName string
	blobs    blobstore.Blobstore
}

// NewBlobMapping returns a Mapping for typeName backed by blobs.
func NewBlobMapping(typeName string, blobs blobstore.Blobstore) *BlobMapping {
	return &BlobMapping{typeName: typeName, blobs: blobs}
}

func (m *BlobMapping) key(cs coretypes.CsId) string {
	return "derived." + m.typeName + "." + cs.String()
}

func (m *BlobMapping) Get(ctx context.Context, css []coretypes.CsId) (map[coretypes.CsId][]byte, error) {
	out := make(map[coretypes.CsId][]byte, len(css))
	for _, cs := range css {
		v, ok, err := m.blobs.Get(ctx, m.key(cs))
		if err != nil {
			return nil, err
		}
		if ok {
			out[cs] = v
		}
	}
	return out, nil
}

func (m *BlobMapping) Put(ctx context.Context, cs coretypes.CsId, value []byte) error {
	return m.blobs.Put(ctx, m.key(cs), value)
}
