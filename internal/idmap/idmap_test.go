package idmap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/sqlstore"
)

func newTestDB(t *testing.T) *sqlstore.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlstore.Open(filepath.Join(dir, "idmap.sqlite3"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func csIdOf(b byte) coretypes.CsId {
	var c coretypes.CsId
	c[0] = b
	return c
}

func TestIdMapInsertAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := New(db, 0, nil, nil, 0, 0)

	entries := []Entry{
		{Vid: 1, CsId: csIdOf(0xAA)},
		{Vid: 2, CsId: csIdOf(0xBB)},
		{Vid: 3, CsId: csIdOf(0xCC)},
	}
	if err := m.InsertMany(ctx, entries); err != nil {
		t.Fatalf("insert many: %v", err)
	}

	for _, e := range entries {
		cs, err := m.GetChangesetId(ctx, e.Vid)
		if err != nil || cs != e.CsId {
			t.Fatalf("GetChangesetId(%d) = %s, %v; want %s", e.Vid, cs, err, e.CsId)
		}
		vid, err := m.GetVertex(ctx, e.CsId)
		if err != nil || vid != e.Vid {
			t.Fatalf("GetVertex(%s) = %d, %v; want %d", e.CsId, vid, err, e.Vid)
		}
	}

	if _, err := m.GetVertex(ctx, csIdOf(0xFF)); err == nil {
		t.Fatalf("expected not-found for unassigned changeset")
	}
	var nf *coreerrors.NotFound
	if _, err := m.GetVertex(ctx, csIdOf(0xFF)); !errors.As(err, &nf) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestIdMapDuplicateAssignmentConflict(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := New(db, 0, nil, nil, 0, 0)

	if err := m.InsertMany(ctx, []Entry{{Vid: 1, CsId: csIdOf(0x01)}}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := m.InsertMany(ctx, []Entry{{Vid: 1, CsId: csIdOf(0x05)}})
	var dup *coreerrors.DuplicateAssignment
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAssignment, got %v", err)
	}
	if dup.Vid != 1 {
		t.Fatalf("expected conflicting vid 1, got %d", dup.Vid)
	}

	cs, err := m.GetChangesetId(ctx, 1)
	if err != nil || cs != csIdOf(0x01) {
		t.Fatalf("expected original assignment (1, 0x01) to remain, got %s, %v", cs, err)
	}
}

func TestIdMapIdempotentInsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := New(db, 0, nil, nil, 0, 0)

	e := []Entry{{Vid: 1, CsId: csIdOf(0x01)}}
	if err := m.InsertMany(ctx, e); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := m.InsertMany(ctx, e); err != nil {
		t.Fatalf("re-inserting identical pair should be idempotent: %v", err)
	}
}

func TestIdMapGetLastEntry(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := New(db, 0, nil, nil, 0, 0)

	if _, ok, err := m.GetLastEntry(ctx); err != nil || ok {
		t.Fatalf("expected empty repo to have no last entry, ok=%v err=%v", ok, err)
	}

	entries := []Entry{{Vid: 5, CsId: csIdOf(0x05)}, {Vid: 9, CsId: csIdOf(0x09)}, {Vid: 2, CsId: csIdOf(0x02)}}
	if err := m.InsertMany(ctx, entries); err != nil {
		t.Fatalf("insert: %v", err)
	}
	last, ok, err := m.GetLastEntry(ctx)
	if err != nil || !ok || last.Vid != 9 {
		t.Fatalf("expected last entry vid=9, got %+v ok=%v err=%v", last, ok, err)
	}
}

func TestIdMapRepoIsolation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo0 := New(db, 0, nil, nil, 0, 0)
	repo1 := New(db, 1, nil, nil, 0, 0)

	if err := repo0.InsertMany(ctx, []Entry{{Vid: 1, CsId: csIdOf(0x01)}}); err != nil {
		t.Fatalf("repo0 insert: %v", err)
	}
	if err := repo1.InsertMany(ctx, []Entry{{Vid: 1, CsId: csIdOf(0x99)}}); err != nil {
		t.Fatalf("repo1 insert with same vid should not conflict across repos: %v", err)
	}

	cs0, _ := repo0.GetChangesetId(ctx, 1)
	cs1, _ := repo1.GetChangesetId(ctx, 1)
	if cs0 == cs1 {
		t.Fatalf("expected per-repo isolation, got identical cs_id %s", cs0)
	}
}

// TestIdMapCustomChunkSizeSpansMultipleChunks pins down that a configured
// chunk size (config.Settings.IdMapChunkSize in cmd/engine) actually
// governs insertChunk boundaries rather than the package default.
func TestIdMapCustomChunkSizeSpansMultipleChunks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := New(db, 0, nil, nil, 2, 0)

	entries := []Entry{
		{Vid: 1, CsId: csIdOf(0x01)},
		{Vid: 2, CsId: csIdOf(0x02)},
		{Vid: 3, CsId: csIdOf(0x03)},
		{Vid: 4, CsId: csIdOf(0x04)},
		{Vid: 5, CsId: csIdOf(0x05)},
	}
	if err := m.InsertMany(ctx, entries); err != nil {
		t.Fatalf("insert many across 3 chunks of size 2: %v", err)
	}
	for _, e := range entries {
		vid, err := m.GetVertex(ctx, e.CsId)
		if err != nil || vid != e.Vid {
			t.Fatalf("GetVertex(%s) = %d, %v; want %d", e.CsId, vid, err, e.Vid)
		}
	}
}

func TestMemIdMapSatisfiesInterface(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	if err := m.InsertMany(ctx, []Entry{{Vid: 1, CsId: csIdOf(0x01)}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	vid, err := m.GetVertex(ctx, csIdOf(0x01))
	if err != nil || vid != 1 {
		t.Fatalf("GetVertex = %d, %v; want 1, nil", vid, err)
	}

	err = m.InsertMany(ctx, []Entry{{Vid: 1, CsId: csIdOf(0x02)}})
	var dup *coreerrors.DuplicateAssignment
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateAssignment, got %v", err)
	}
}
