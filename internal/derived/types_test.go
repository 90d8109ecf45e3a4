package derived

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/scmcore/engine/internal/blobstore"
	"github.com/scmcore/engine/internal/coretypes"
)

// TestManifestDeriveBatchPaginatesListingByStepArity pins down that a
// configured stepArity (config.Settings.ManifestStepArity in cmd/engine)
// splits a commit's path listing across multiple "pageN" blobs instead of
// writing it as one unbounded blob.
func TestManifestDeriveBatchPaginatesListingByStepArity(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMem()
	cs := csOf(0x01)
	bc := &coretypes.BonsaiChangeset{
		FileChanges: map[string]coretypes.FileChange{
			"a.txt": {Kind: coretypes.FileAdd, ContentId: "c1"},
			"b.txt": {Kind: coretypes.FileAdd, ContentId: "c2"},
			"c.txt": {Kind: coretypes.FileAdd, ContentId: "c3"},
			"d.txt": {Kind: coretypes.FileAdd, ContentId: "c4"},
			"e.txt": {Kind: coretypes.FileAdd, ContentId: "c5"},
		},
	}
	repo := &fakeRepo{bonsais: map[coretypes.CsId]*coretypes.BonsaiChangeset{cs: bc}}
	deriveBatch := manifestDeriveBatch("unodes", func(k coretypes.FileChangeKind) bool { return true }, 2)

	mapping := NewBlobMapping("unodes", blobs)
	if _, err := deriveBatch(ctx, repo, blobs, []coretypes.CsId{cs}, mapping, Unsafe); err != nil {
		t.Fatalf("derive batch: %v", err)
	}

	wantPages := [][]string{{"a.txt", "b.txt"}, {"c.txt", "d.txt"}, {"e.txt"}}
	for page, want := range wantPages {
		key := fmt.Sprintf("derived.unodes.listing.%s.page%d", cs, page)
		raw, ok, err := blobs.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("page %d: expected blob at %s, ok=%v err=%v", page, key, ok, err)
		}
		var got []string
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("page %d: unmarshal: %v", page, err)
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("page %d = %v, want %v", page, got, want)
		}
	}

	if _, ok, _ := blobs.Get(ctx, fmt.Sprintf("derived.unodes.listing.%s.page3", cs)); ok {
		t.Fatalf("expected only 3 pages, found a 4th")
	}
}

// TestManifestDeriveBatchUnboundedWhenStepArityZero confirms stepArity<=0
// falls back to a single page holding every path, matching the
// pre-pagination behaviour for callers that don't configure a limit.
func TestManifestDeriveBatchUnboundedWhenStepArityZero(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMem()
	cs := csOf(0x02)
	bc := &coretypes.BonsaiChangeset{
		FileChanges: map[string]coretypes.FileChange{
			"a.txt": {Kind: coretypes.FileAdd, ContentId: "c1"},
			"b.txt": {Kind: coretypes.FileAdd, ContentId: "c2"},
		},
	}
	repo := &fakeRepo{bonsais: map[coretypes.CsId]*coretypes.BonsaiChangeset{cs: bc}}
	deriveBatch := manifestDeriveBatch("unodes", func(k coretypes.FileChangeKind) bool { return true }, 0)

	mapping := NewBlobMapping("unodes", blobs)
	if _, err := deriveBatch(ctx, repo, blobs, []coretypes.CsId{cs}, mapping, Unsafe); err != nil {
		t.Fatalf("derive batch: %v", err)
	}

	key := fmt.Sprintf("derived.unodes.listing.%s.page0", cs)
	raw, ok, err := blobs.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected single page blob at %s, ok=%v err=%v", key, ok, err)
	}
	var got []string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both paths in one page, got %v", got)
	}
	if _, ok, _ := blobs.Get(ctx, fmt.Sprintf("derived.unodes.listing.%s.page1", cs)); ok {
		t.Fatalf("expected only a single page")
	}
}
