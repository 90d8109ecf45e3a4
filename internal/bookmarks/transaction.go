package bookmarks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scmcore/engine/internal/corecontext"
	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/perfcounters"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opForceSet
	opDelete
	opForceDelete
	opCreateScratch
	opUpdateScratch
)

func (k opKind) logged() bool {
	return k != opCreateScratch && k != opUpdateScratch
}

func (k opKind) intendedKind() coretypes.BookmarkKind {
	if k == opCreateScratch || k == opUpdateScratch {
		return coretypes.Scratch
	}
	return coretypes.Public
}

type stagedOp struct {
	kind        opKind
	newCs       *coretypes.CsId
	expectedOld *coretypes.CsId
}

// errPreconditionFailed is an internal sentinel: it forces the enclosing
// SQL transaction to roll back without surfacing as a Go error to the
// caller. A failed precondition is reported as a non-success return
// value from Commit, never as an error.
var errPreconditionFailed = errors.New("bookmarks: precondition failed")

// Transaction accumulates bookmark operations to commit atomically. At
// most one operation may be staged per bookmark name.
type Transaction struct {
	store      *Store
	reason     coretypes.BookmarkUpdateReason
	ops        map[string]stagedOp
	replayData []byte
}

// NewTransaction begins a transaction whose logged mutations (if any) will
// be recorded with reason.
func (s *Store) NewTransaction(reason coretypes.BookmarkUpdateReason) *Transaction {
	return &Transaction{store: s, reason: reason, ops: make(map[string]stagedOp)}
}

// WithReplayData attaches the pushrebase client's opaque bundle metadata
// (bundle handle, rebased-onto head) to every log entry this transaction
// writes. A pushrebase commit stages one bookmark update carrying the
// bundle that produced it, so xrepo sync and push.log replay
// (internal/bookmarks/replay.go) can recover which bundle to re-apply.
func (t *Transaction) WithReplayData(data []byte) *Transaction {
	t.replayData = data
	return t
}

func (t *Transaction) stage(ctx context.Context, name string, op stagedOp) error {
	if _, dup := t.ops[name]; dup {
		return fmt.Errorf("bookmarks: %q already has a staged operation in this transaction", name)
	}
	if err := t.store.policy.checkIntendedKind(name, op.kind.intendedKind()); err != nil {
		return err
	}
	user, _ := corecontext.IdentityFromContext(ctx)
	if !t.store.acl.Allowed(user, name) {
		return &coreerrors.PermissionDenied{User: user, Bookmark: name}
	}
	t.ops[name] = op
	return nil
}

// Create stages setting name to new, requiring it currently be unset.
func (t *Transaction) Create(ctx context.Context, name string, new coretypes.CsId) error {
	return t.stage(ctx, name, stagedOp{kind: opCreate, newCs: &new})
}

// Update stages setting name to new, requiring its current value equal
// expectedOld.
func (t *Transaction) Update(ctx context.Context, name string, new, expectedOld coretypes.CsId) error {
	return t.stage(ctx, name, stagedOp{kind: opUpdate, newCs: &new, expectedOld: &expectedOld})
}

// ForceSet stages setting name to new unconditionally.
func (t *Transaction) ForceSet(ctx context.Context, name string, new coretypes.CsId) error {
	return t.stage(ctx, name, stagedOp{kind: opForceSet, newCs: &new})
}

// Delete stages unsetting name, requiring its current value equal
// expectedOld.
func (t *Transaction) Delete(ctx context.Context, name string, expectedOld coretypes.CsId) error {
	return t.stage(ctx, name, stagedOp{kind: opDelete, expectedOld: &expectedOld})
}

// ForceDelete stages unsetting name unconditionally, logging even when
// name is already unset.
func (t *Transaction) ForceDelete(ctx context.Context, name string) error {
	return t.stage(ctx, name, stagedOp{kind: opForceDelete})
}

// CreateScratch stages setting a scratch bookmark, requiring it currently
// be unset. No log entry is written on success.
func (t *Transaction) CreateScratch(ctx context.Context, name string, new coretypes.CsId) error {
	return t.stage(ctx, name, stagedOp{kind: opCreateScratch, newCs: &new})
}

// UpdateScratch stages setting a scratch bookmark, requiring its current
// value equal expectedOld. No log entry is written on success.
func (t *Transaction) UpdateScratch(ctx context.Context, name string, new, expectedOld coretypes.CsId) error {
	return t.stage(ctx, name, stagedOp{kind: opUpdateScratch, newCs: &new, expectedOld: &expectedOld})
}

// Commit attempts to apply every staged operation atomically. ok is false
// if any operation's precondition failed; in that case nothing was
// written. err is non-nil only for backend failures, never for a failed
// precondition.
func (t *Transaction) Commit(ctx context.Context, timestampMs int64) (ok bool, err error) {
	if len(t.ops) == 0 {
		return true, nil
	}
	txErr := t.store.db.RunInTransaction(ctx, func(tx *sql.Tx) error {
		for name, op := range t.ops {
			if err := t.applyOne(ctx, tx, name, op, timestampMs); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(txErr, errPreconditionFailed) {
		return false, nil
	}
	if txErr != nil {
		return false, fmt.Errorf("bookmarks: commit: %w", &coreerrors.Backend{Cause: txErr})
	}
	t.store.counters.Add(perfcounters.BookmarkWrite, int64(len(t.ops)))
	return true, nil
}

func (t *Transaction) applyOne(ctx context.Context, tx *sql.Tx, name string, op stagedOp, timestampMs int64) error {
	current, hasCurrent, err := readCurrent(ctx, tx, t.store.repoId, name)
	if err != nil {
		return err
	}

	switch op.kind {
	case opCreate, opCreateScratch:
		if hasCurrent {
			return errPreconditionFailed
		}
	case opUpdate, opUpdateScratch:
		if !hasCurrent || current != *op.expectedOld {
			return errPreconditionFailed
		}
	case opDelete:
		if !hasCurrent || current != *op.expectedOld {
			return errPreconditionFailed
		}
	case opForceSet, opForceDelete:
		// no precondition
	}

	var from, to *coretypes.CsId
	if hasCurrent {
		from = &current
	}
	switch op.kind {
	case opCreate, opUpdate, opForceSet, opCreateScratch, opUpdateScratch:
		to = op.newCs
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bookmarks (repo_id, name, cs_id, kind)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (repo_id, name) DO UPDATE SET cs_id = excluded.cs_id, kind = excluded.kind`,
			t.store.repoId, name, to[:], int(op.kind.intendedKind())); err != nil {
			return fmt.Errorf("bookmarks: write %q: %w", name, err)
		}
	case opDelete, opForceDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM bookmarks WHERE repo_id = ? AND name = ?`, t.store.repoId, name); err != nil {
			return fmt.Errorf("bookmarks: delete %q: %w", name, err)
		}
	}

	if !op.kind.logged() {
		return nil
	}
	return appendLogEntry(ctx, tx, t.store.repoId, name, from, to, t.reason, timestampMs, t.replayData)
}

func readCurrent(ctx context.Context, tx *sql.Tx, repoId int64, name string) (coretypes.CsId, bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT cs_id FROM bookmarks WHERE repo_id = ? AND name = ?`, repoId, name)
	var b []byte
	err := row.Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return coretypes.CsId{}, false, nil
	}
	if err != nil {
		return coretypes.CsId{}, false, fmt.Errorf("bookmarks: read current %q: %w", name, err)
	}
	cs, err := coretypes.CsIdFromBytes(b)
	if err != nil {
		return coretypes.CsId{}, false, fmt.Errorf("bookmarks: corrupt row for %q: %w", name, err)
	}
	return cs, true, nil
}

func appendLogEntry(ctx context.Context, tx *sql.Tx, repoId int64, name string, from, to *coretypes.CsId, reason coretypes.BookmarkUpdateReason, timestampMs int64, replayData []byte) error {
	tag, err := coretypes.EncodeReason(reason)
	if err != nil {
		return fmt.Errorf("bookmarks: encode reason: %w", err)
	}
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM bookmark_update_log WHERE repo_id = ?`, repoId)
	var lastId int64
	if err := row.Scan(&lastId); err != nil {
		return fmt.Errorf("bookmarks: read last log id: %w", err)
	}
	var fromBytes, toBytes interface{}
	if from != nil {
		fromBytes = from[:]
	}
	if to != nil {
		toBytes = to[:]
	}
	var replayDataArg interface{}
	if replayData != nil {
		replayDataArg = replayData
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookmark_update_log (id, repo_id, name, from_cs_id, to_cs_id, reason, timestamp_ms, bundle_replay_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lastId+1, repoId, name, fromBytes, toBytes, tag, timestampMs, replayDataArg)
	if err != nil {
		return fmt.Errorf("bookmarks: append log entry: %w", err)
	}
	return nil
}
