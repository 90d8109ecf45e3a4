package bookmarks

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/scmcore/engine/internal/corecontext"
	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/sqlstore"
)

func newTestDB(t *testing.T) *sqlstore.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlstore.Open(filepath.Join(dir, "bookmarks.sqlite3"))
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

func anyKindStore(t *testing.T) *Store {
	db := newTestDB(t)
	return New(db, 0, nil, nil, NamespacePolicy{Mode: AnyKind, Pattern: regexp.MustCompile(`^scratch/`)}, nil)
}

func TestCreateThenGet(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)

	tx := s.NewTransaction(coretypes.ReasonPush)
	if err := tx.Create(ctx, "main", csIdOf(0x01)); err != nil {
		t.Fatalf("stage create: %v", err)
	}
	ok, err := tx.Commit(ctx, 1000)
	if err != nil || !ok {
		t.Fatalf("commit: ok=%v err=%v", ok, err)
	}

	cs, found, err := s.Get(ctx, "main", coretypes.MostRecent)
	if err != nil || !found || cs != csIdOf(0x01) {
		t.Fatalf("get = %s, %v, %v", cs, found, err)
	}
	if _, found, err := s.Get(ctx, "main2", coretypes.MostRecent); err != nil || found {
		t.Fatalf("expected unset bookmark to miss, found=%v err=%v", found, err)
	}

	entries, err := s.ReadNextBookmarkLogEntries(ctx, 0, 10, coretypes.MostRecent)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 1 || entries[0].Id != 1 {
		t.Fatalf("expected exactly one log entry with id 1, got %+v", entries)
	}
	if entries[0].From != nil || entries[0].To == nil || *entries[0].To != csIdOf(0x01) {
		t.Fatalf("expected from=nil, to=cs, got %+v", entries[0])
	}
}

func TestSecondOpOnSameNameRejectedLocally(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)
	tx := s.NewTransaction(coretypes.ReasonPush)
	if err := tx.Create(ctx, "main", csIdOf(0x01)); err != nil {
		t.Fatalf("first stage: %v", err)
	}
	if err := tx.ForceSet(ctx, "main", csIdOf(0x02)); err == nil {
		t.Fatalf("expected staging a second op on the same name to fail")
	}
}

func TestUpdatePreconditionFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)

	tx := s.NewTransaction(coretypes.ReasonPush)
	tx.Create(ctx, "main", csIdOf(0x01))
	if ok, err := tx.Commit(ctx, 1); err != nil || !ok {
		t.Fatalf("initial create: ok=%v err=%v", ok, err)
	}

	tx2 := s.NewTransaction(coretypes.ReasonPush)
	if err := tx2.Update(ctx, "main", csIdOf(0x02), csIdOf(0x99)); err != nil {
		t.Fatalf("stage update: %v", err)
	}
	ok, err := tx2.Commit(ctx, 2)
	if err != nil {
		t.Fatalf("commit returned error instead of false: %v", err)
	}
	if ok {
		t.Fatalf("expected precondition failure to report false")
	}

	cs, _, _ := s.Get(ctx, "main", coretypes.MostRecent)
	if cs != csIdOf(0x01) {
		t.Fatalf("expected bookmark unchanged after failed precondition, got %s", cs)
	}
}

func TestForceDeleteLogsEvenWhenUnset(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)
	tx := s.NewTransaction(coretypes.ReasonManualMove)
	if err := tx.ForceDelete(ctx, "ghost"); err != nil {
		t.Fatalf("stage force delete: %v", err)
	}
	ok, err := tx.Commit(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("commit: ok=%v err=%v", ok, err)
	}

	entries, err := s.ReadNextBookmarkLogEntries(ctx, 0, 10, coretypes.MostRecent)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 1 || entries[0].From != nil || entries[0].To != nil {
		t.Fatalf("expected one entry with from=to=nil, got %+v", entries)
	}
}

func TestPushrebaseTransactionPersistsReplayData(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)

	bundle := []byte(`{"bundle_handle":"handle-77","rebased_head":"cafef00d"}`)
	tx := s.NewTransaction(coretypes.ReasonPushrebase).WithReplayData(bundle)
	if err := tx.Create(ctx, "main", csIdOf(0x09)); err != nil {
		t.Fatalf("stage create: %v", err)
	}
	if ok, err := tx.Commit(ctx, 42); err != nil || !ok {
		t.Fatalf("commit: ok=%v err=%v", ok, err)
	}

	entries, err := s.ReadNextBookmarkLogEntries(ctx, 0, 10, coretypes.MostRecent)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	handle, ok := ReplayBundleHandle(entries[0].ReplayData)
	if !ok || handle != "handle-77" {
		t.Fatalf("expected replay data to round-trip through the log, got handle=%q ok=%v", handle, ok)
	}
	head, ok := ReplayRebasedHead(entries[0].ReplayData)
	if !ok || head != "cafef00d" {
		t.Fatalf("expected rebased head to round-trip through the log, got %q ok=%v", head, ok)
	}
}

func TestScratchOperationsAreNotLogged(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)
	tx := s.NewTransaction(coretypes.ReasonPush)
	if err := tx.CreateScratch(ctx, "scratch/alice/feature", csIdOf(0x07)); err != nil {
		t.Fatalf("stage create scratch: %v", err)
	}
	if ok, err := tx.Commit(ctx, 9); err != nil || !ok {
		t.Fatalf("commit: ok=%v err=%v", ok, err)
	}

	entries, err := s.ReadNextBookmarkLogEntries(ctx, 0, 10, coretypes.MostRecent)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch mutation to leave no log entry, got %+v", entries)
	}
	cs, found, _ := s.Get(ctx, "scratch/alice/feature", coretypes.MostRecent)
	if !found || cs != csIdOf(0x07) {
		t.Fatalf("expected scratch bookmark to be set, got %s, %v", cs, found)
	}
}

func TestOnlyScratchRejectsPublicName(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := New(db, 0, nil, nil, NamespacePolicy{Mode: OnlyScratch, Pattern: regexp.MustCompile(`^scratch/`)}, nil)

	tx := s.NewTransaction(coretypes.ReasonPush)
	err := tx.CreateScratch(ctx, "main", csIdOf(0x01))
	var invalid *coreerrors.InvalidBookmarkKind
	if err == nil {
		t.Fatalf("expected invalid bookmark kind for non-matching name under OnlyScratch")
	}
	if !asInvalidBookmarkKind(err, &invalid) {
		t.Fatalf("expected InvalidBookmarkKind, got %v", err)
	}
}

func TestOnlyScratchWithNoPatternIsDisabled(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := New(db, 0, nil, nil, NamespacePolicy{Mode: OnlyScratch}, nil)

	tx := s.NewTransaction(coretypes.ReasonPush)
	err := tx.CreateScratch(ctx, "scratch/alice/feature", csIdOf(0x01))
	var disabled *coreerrors.ScratchDisabled
	if !asScratchDisabled(err, &disabled) {
		t.Fatalf("expected ScratchDisabled, got %v", err)
	}
}

func TestAuthorizationDenial(t *testing.T) {
	ctx := corecontext.New(context.Background(), "test", "s1").WithIdentity("mallory").Context()
	db := newTestDB(t)
	denyAll := denyAllACL{}
	s := New(db, 0, nil, nil, NamespacePolicy{Mode: AnyKind}, denyAll)

	tx := s.NewTransaction(coretypes.ReasonPush)
	err := tx.Create(ctx, "main", csIdOf(0x01))
	var denied *coreerrors.PermissionDenied
	if !asPermissionDenied(err, &denied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if denied.User != "mallory" {
		t.Fatalf("expected denied user mallory, got %q", denied.User)
	}
}

type denyAllACL struct{}

func (denyAllACL) Allowed(string, string) bool { return false }

func TestReadNextBookmarkLogEntriesSameBookmarkAndReason(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)

	mkTx := func(name string, cs coretypes.CsId, reason coretypes.BookmarkUpdateReason, ts int64) {
		tx := s.NewTransaction(reason)
		if err := tx.Create(ctx, name, cs); err != nil {
			t.Fatalf("stage create %s: %v", name, err)
		}
		if ok, err := tx.Commit(ctx, ts); err != nil || !ok {
			t.Fatalf("commit %s: ok=%v err=%v", name, ok, err)
		}
	}
	mkTx("a", csIdOf(1), coretypes.ReasonPush, 1)
	mkTx("b", csIdOf(2), coretypes.ReasonPush, 2)
	mkTx("c", csIdOf(3), coretypes.ReasonManualMove, 3)

	prefix, err := s.ReadNextBookmarkLogEntriesSameBookmarkAndReason(ctx, 0, 10)
	if err != nil {
		t.Fatalf("same bookmark and reason: %v", err)
	}
	if len(prefix) != 1 {
		t.Fatalf("expected prefix of length 1 (names differ between first two entries), got %d: %+v", len(prefix), prefix)
	}
}

func TestSameBookmarkAndReasonStopsAtReasonChange(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)

	commit := func(stage func(tx *Transaction) error, reason coretypes.BookmarkUpdateReason, ts int64) {
		t.Helper()
		tx := s.NewTransaction(reason)
		if err := stage(tx); err != nil {
			t.Fatalf("stage: %v", err)
		}
		if ok, err := tx.Commit(ctx, ts); err != nil || !ok {
			t.Fatalf("commit: ok=%v err=%v", ok, err)
		}
	}

	commit(func(tx *Transaction) error { return tx.ForceSet(ctx, "book", csIdOf(1)) }, coretypes.ReasonTestMove, 1)
	commit(func(tx *Transaction) error { return tx.Update(ctx, "book", csIdOf(2), csIdOf(1)) }, coretypes.ReasonTestMove, 2)
	commit(func(tx *Transaction) error { return tx.Update(ctx, "book", csIdOf(3), csIdOf(2)) }, coretypes.ReasonTestMove, 3)
	commit(func(tx *Transaction) error { return tx.Update(ctx, "book", csIdOf(4), csIdOf(3)) }, coretypes.ReasonTestMove, 4)
	commit(func(tx *Transaction) error { return tx.Update(ctx, "book", csIdOf(5), csIdOf(4)) }, coretypes.ReasonTestMove, 5)
	commit(func(tx *Transaction) error { return tx.Update(ctx, "book", csIdOf(6), csIdOf(5)) }, coretypes.ReasonPushrebase, 6)

	// Starting after id 4 the prefix holds only the TestMove entry; the
	// Pushrebase entry that follows breaks the run.
	prefix, err := s.ReadNextBookmarkLogEntriesSameBookmarkAndReason(ctx, 4, 10)
	if err != nil {
		t.Fatalf("same bookmark and reason: %v", err)
	}
	if len(prefix) != 1 {
		t.Fatalf("expected the reason change to end the prefix after 1 entry, got %d: %+v", len(prefix), prefix)
	}
	if prefix[0].To == nil || *prefix[0].To != csIdOf(5) {
		t.Fatalf("expected the prefix entry to be the move to csIdOf(5), got %+v", prefix[0])
	}
	if prefix[0].Reason != coretypes.ReasonTestMove {
		t.Fatalf("expected reason testmove, got %v", prefix[0].Reason)
	}
}

func TestCrossRepoIsolation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo0 := New(db, 0, nil, nil, NamespacePolicy{Mode: AnyKind}, nil)
	repo1 := New(db, 1, nil, nil, NamespacePolicy{Mode: AnyKind}, nil)

	tx0 := repo0.NewTransaction(coretypes.ReasonTestMove)
	if err := tx0.Create(ctx, "book", csIdOf(1)); err != nil {
		t.Fatalf("repo0 stage: %v", err)
	}
	if ok, err := tx0.Commit(ctx, 1); err != nil || !ok {
		t.Fatalf("repo0 commit: ok=%v err=%v", ok, err)
	}

	tx1 := repo1.NewTransaction(coretypes.ReasonTestMove)
	if err := tx1.Create(ctx, "book", csIdOf(2)); err != nil {
		t.Fatalf("repo1 stage: %v", err)
	}
	if ok, err := tx1.Commit(ctx, 2); err != nil || !ok {
		t.Fatalf("repo1 commit: ok=%v err=%v", ok, err)
	}

	del := repo1.NewTransaction(coretypes.ReasonTestMove)
	if err := del.ForceDelete(ctx, "book"); err != nil {
		t.Fatalf("repo1 stage delete: %v", err)
	}
	if ok, err := del.Commit(ctx, 3); err != nil || !ok {
		t.Fatalf("repo1 delete commit: ok=%v err=%v", ok, err)
	}

	cs, found, err := repo0.Get(ctx, "book", coretypes.MostRecent)
	if err != nil || !found || cs != csIdOf(1) {
		t.Fatalf("expected repo0's bookmark untouched by repo1's delete, got %s found=%v err=%v", cs, found, err)
	}
	if _, found, _ := repo1.Get(ctx, "book", coretypes.MostRecent); found {
		t.Fatalf("expected repo1's bookmark deleted")
	}
}

func TestListBookmarkLogEntriesDescendingWithOffset(t *testing.T) {
	ctx := context.Background()
	s := anyKindStore(t)

	for i, cs := range []coretypes.CsId{csIdOf(1), csIdOf(2), csIdOf(3)} {
		tx := s.NewTransaction(coretypes.ReasonPush)
		name := "main"
		var err error
		if i == 0 {
			err = tx.Create(ctx, name, cs)
		} else {
			prev := []coretypes.CsId{csIdOf(1), csIdOf(2)}[i-1]
			err = tx.Update(ctx, name, cs, prev)
		}
		if err != nil {
			t.Fatalf("stage update %d: %v", i, err)
		}
		if ok, err := tx.Commit(ctx, int64(i+1)); err != nil || !ok {
			t.Fatalf("commit %d: ok=%v err=%v", i, ok, err)
		}
	}

	entries, err := s.ListBookmarkLogEntries(ctx, "main", 10, 0, coretypes.MostRecent)
	if err != nil {
		t.Fatalf("list log entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].To == nil || *entries[0].To != csIdOf(3) {
		t.Fatalf("expected descending order with most recent first, got %+v", entries)
	}

	skipped, err := s.ListBookmarkLogEntries(ctx, "main", 10, 1, coretypes.MostRecent)
	if err != nil {
		t.Fatalf("list log entries with offset: %v", err)
	}
	if len(skipped) != 2 || skipped[0].To == nil || *skipped[0].To != csIdOf(2) {
		t.Fatalf("expected offset to skip the most recent entry, got %+v", skipped)
	}
}

func asInvalidBookmarkKind(err error, target **coreerrors.InvalidBookmarkKind) bool {
	return errors.As(err, target)
}
func asScratchDisabled(err error, target **coreerrors.ScratchDisabled) bool {
	return errors.As(err, target)
}
func asPermissionDenied(err error, target **coreerrors.PermissionDenied) bool {
	return errors.As(err, target)
}
