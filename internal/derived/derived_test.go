package derived

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/scmcore/engine/internal/blobstore"
	"github.com/scmcore/engine/internal/coretypes"
)

// fakeRepo is an in-memory Repo backed by a fixed set of bonsai changesets,
// enough to exercise derive_batch implementations that walk parents.
type fakeRepo struct {
	bonsais map[coretypes.CsId]*coretypes.BonsaiChangeset
}

func (r *fakeRepo) GetBonsaiChangeset(ctx context.Context, cs coretypes.CsId) (*coretypes.BonsaiChangeset, error) {
	bc, ok := r.bonsais[cs]
	if !ok {
		return nil, fmt.Errorf("no such changeset %s", cs)
	}
	return bc, nil
}

func csOf(b byte) coretypes.CsId {
	var c coretypes.CsId
	c[0] = b
	return c
}

// countingDeriveBatch returns a DeriveBatchFunc producing a trivial
// one-byte value per changeset, incrementing calls each time it runs so
// tests can assert derivation only happens once per changeset.
func countingDeriveBatch(calls *int) DeriveBatchFunc {
	return func(ctx context.Context, repo Repo, blobs blobstore.Blobstore, css []coretypes.CsId, mapping Mapping, mode Mode) (map[coretypes.CsId][]byte, error) {
		*calls++
		out := make(map[coretypes.CsId][]byte, len(css))
		for _, cs := range css {
			out[cs] = []byte{cs[0]}
		}
		return out, nil
	}
}

func newTestUtils(t *testing.T, deriveBatch DeriveBatchFunc) (*DerivedUtils, *blobstore.MemBlobstore) {
	t.Helper()
	blobs := blobstore.NewMem()
	repo := &fakeRepo{bonsais: map[coretypes.CsId]*coretypes.BonsaiChangeset{}}
	mapping := NewBlobMapping("test-type", blobs)
	return New("test-type", "v1.0.0", mapping, repo, blobs, deriveBatch, nil), blobs
}

func TestDerivePendingBecomesEmptyAfterDerive(t *testing.T) {
	ctx := context.Background()
	calls := 0
	u, _ := newTestUtils(t, countingDeriveBatch(&calls))
	cs := csOf(0x01)

	pending, err := u.Pending(ctx, []coretypes.CsId{cs})
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected cs pending before derive, got %v", pending)
	}

	if _, err := u.Derive(ctx, cs); err != nil {
		t.Fatalf("Derive: %v", err)
	}

	// After a successful derive, the changeset must no longer be pending.
	pending, err = u.Pending(ctx, []coretypes.CsId{cs})
	if err != nil {
		t.Fatalf("Pending (after derive): %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending changesets after derive, got %v", pending)
	}
}

func TestDeriveIsCachedNotRecomputed(t *testing.T) {
	ctx := context.Background()
	calls := 0
	u, _ := newTestUtils(t, countingDeriveBatch(&calls))
	cs := csOf(0x02)

	if _, err := u.Derive(ctx, cs); err != nil {
		t.Fatalf("first Derive: %v", err)
	}
	if _, err := u.Derive(ctx, cs); err != nil {
		t.Fatalf("second Derive: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected derive_batch to run once, ran %d times", calls)
	}
}

func TestRegenerateForcesRecomputation(t *testing.T) {
	ctx := context.Background()
	calls := 0
	u, _ := newTestUtils(t, countingDeriveBatch(&calls))
	cs := csOf(0x03)

	if _, err := u.Derive(ctx, cs); err != nil {
		t.Fatalf("first Derive: %v", err)
	}
	u.Regenerate([]coretypes.CsId{cs})

	pending, err := u.Pending(ctx, []coretypes.CsId{cs})
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected cs pending again after Regenerate, got %v", pending)
	}

	if _, err := u.Derive(ctx, cs); err != nil {
		t.Fatalf("second Derive: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected derive_batch to run twice after Regenerate, ran %d times", calls)
	}
}

// TestBackfillAbortLeavesPendingUnchanged checks backfill atomicity: a
// backfill aborted before the mapping-commit phase leaves Pending
// returning the same set as before.
func TestBackfillAbortLeavesPendingUnchanged(t *testing.T) {
	ctx := context.Background()
	cs := csOf(0x04)
	failing := func(ctx context.Context, repo Repo, blobs blobstore.Blobstore, css []coretypes.CsId, mapping Mapping, mode Mode) (map[coretypes.CsId][]byte, error) {
		// Simulate partial work (a blob write staged in memory) followed by
		// a failure before any mapping entry would be returned.
		if err := blobs.Put(ctx, "derived.test-type.partial."+css[0].String(), []byte("partial")); err != nil {
			return nil, err
		}
		return nil, errors.New("derive_batch failed mid-way")
	}
	u, blobs := newTestUtils(t, failing)

	before, err := u.Pending(ctx, []coretypes.CsId{cs})
	if err != nil {
		t.Fatalf("Pending (before): %v", err)
	}

	if err := u.BackfillBatchDangerous(ctx, []coretypes.CsId{cs}); err == nil {
		t.Fatalf("expected BackfillBatchDangerous to fail")
	}

	after, err := u.Pending(ctx, []coretypes.CsId{cs})
	if err != nil {
		t.Fatalf("Pending (after): %v", err)
	}
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("pending changed across a failed backfill: before=%v after=%v", before, after)
	}

	// The underlying blob store must not observe the staged-but-unflushed
	// write either.
	if blobs.Len() != 0 {
		t.Fatalf("expected no blobs to have been written on aborted backfill, found %d", blobs.Len())
	}
}

func TestBackfillBatchDangerousCommitsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	calls := 0
	u, _ := newTestUtils(t, countingDeriveBatch(&calls))
	css := []coretypes.CsId{csOf(0x05), csOf(0x06)}

	if err := u.BackfillBatchDangerous(ctx, css); err != nil {
		t.Fatalf("BackfillBatchDangerous: %v", err)
	}

	pending, err := u.Pending(ctx, css)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected every backfilled changeset to be derived, still pending: %v", pending)
	}
}

func TestDeriveManyRespectsConcurrencyLimitAndDerivesAll(t *testing.T) {
	ctx := context.Background()
	calls := 0
	u, _ := newTestUtils(t, countingDeriveBatch(&calls))
	css := []coretypes.CsId{csOf(0x07), csOf(0x08), csOf(0x09), csOf(0x0a)}

	out, err := u.DeriveMany(ctx, css, 2)
	if err != nil {
		t.Fatalf("DeriveMany: %v", err)
	}
	if len(out) != len(css) {
		t.Fatalf("expected %d results, got %d", len(css), len(out))
	}
	for _, cs := range css {
		if _, ok := out[cs]; !ok {
			t.Fatalf("missing result for %s", cs)
		}
	}
}
