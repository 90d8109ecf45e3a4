// Package idmap implements the segmented-changelog IdMap: a
// bidirectional changeset-id <-> vertex-id mapping with master/replica
// reads and batched inserts with conflict detection. It has no prefix
// lookup; hex-prefix search over vertex names is Dag.VertexesByHexPrefix.
package idmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/perfcounters"
	"github.com/scmcore/engine/internal/sqlstore"
)

// defaultInsertChunkSize is used when New is given a non-positive chunk
// size.
const defaultInsertChunkSize = 1000

// Entry is one assigned (vid, cs_id) pair.
type Entry struct {
	Vid  coretypes.Vid
	CsId coretypes.CsId
}

// IdMap is the SQL-backed implementation of the mapping.
type IdMap struct {
	db                *sqlstore.DB
	replica           sqlstore.ReplicaLagMonitor
	counters          *perfcounters.Counters
	repoId            int64
	chunkSize         int
	replicaLagTimeout time.Duration
}

// New returns an IdMap scoped to repoId, backed by db. chunkSize
// non-positive falls back to defaultInsertChunkSize
// (config.Settings.IdMapChunkSize feeds this in cmd/engine). replicaLagTimeout
// bounds each InsertMany's between-chunk wait (config.Settings.ReplicaLagTimeout).
func New(db *sqlstore.DB, repoId int64, replica sqlstore.ReplicaLagMonitor, counters *perfcounters.Counters, chunkSize int, replicaLagTimeout time.Duration) *IdMap {
	if replica == nil {
		replica = sqlstore.SameProcessMonitor{}
	}
	if counters == nil {
		counters = &perfcounters.Counters{}
	}
	if chunkSize <= 0 {
		chunkSize = defaultInsertChunkSize
	}
	return &IdMap{db: db, replica: replica, counters: counters, repoId: repoId, chunkSize: chunkSize, replicaLagTimeout: replicaLagTimeout}
}

// InsertMany sorts entries by vid and inserts them in chunks of up to
// m.chunkSize, each in its own transaction. A chunk whose insert affects
// fewer rows than its size re-reads the existing rows for those vids and
// verifies every prior row matches the caller's cs_id; any mismatch rolls
// the chunk back and fails with DuplicateAssignment. Between chunks (not
// before the first) the caller waits for replica lag to drain, bounded by
// m.replicaLagTimeout.
func (m *IdMap) InsertMany(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Vid < sorted[j].Vid })

	for i := 0; i < len(sorted); i += m.chunkSize {
		if i > 0 {
			if err := m.replica.WaitForReplication(ctx, sqlstore.ReplicationConfig{Timeout: m.replicaLagTimeout}); err != nil {
				return fmt.Errorf("idmap: wait for replication between chunks: %w", err)
			}
		}
		end := i + m.chunkSize
		if end > len(sorted) {
			end = len(sorted)
		}
		if err := m.insertChunk(ctx, sorted[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *IdMap) insertChunk(ctx context.Context, chunk []Entry) error {
	return m.db.RunInTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO segmented_changelog_idmap (repo_id, vertex, cs_id)
			VALUES (?, ?, ?)
			ON CONFLICT (repo_id, vertex) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("idmap: prepare insert: %w", err)
		}
		defer stmt.Close()

		affected := 0
		for _, e := range chunk {
			res, err := stmt.ExecContext(ctx, m.repoId, int64(e.Vid), e.CsId[:])
			if err != nil {
				return fmt.Errorf("idmap: insert vid %d: %w", e.Vid, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("idmap: rows affected: %w", err)
			}
			affected += int(n)
		}
		m.counters.Add(perfcounters.IdMapWrite, int64(len(chunk)))

		if affected == len(chunk) {
			return nil
		}
		return m.verifyChunk(ctx, tx, chunk)
	})
}

// verifyChunk re-reads every row in chunk and confirms the stored cs_id
// matches what the caller attempted to assign.
func (m *IdMap) verifyChunk(ctx context.Context, tx *sql.Tx, chunk []Entry) error {
	for _, e := range chunk {
		row := tx.QueryRowContext(ctx,
			`SELECT cs_id FROM segmented_changelog_idmap WHERE repo_id = ? AND vertex = ?`,
			m.repoId, int64(e.Vid))
		var existing []byte
		if err := row.Scan(&existing); err != nil {
			return fmt.Errorf("idmap: re-read vid %d during verification: %w", e.Vid, err)
		}
		existingCs, err := coretypes.CsIdFromBytes(existing)
		if err != nil {
			return fmt.Errorf("idmap: corrupt stored cs_id for vid %d: %w", e.Vid, err)
		}
		if existingCs != e.CsId {
			return &coreerrors.DuplicateAssignment{Vid: e.Vid, ExistingCs: existingCs, AttemptedCs: e.CsId}
		}
	}
	return nil
}

// FindManyChangesetIds reads replica-first, falling through to master only
// for vids the replica didn't have. Missing vids are silently absent from
// the result; find_* lookups never treat absence as an error.
func (m *IdMap) FindManyChangesetIds(ctx context.Context, vids []coretypes.Vid) (map[coretypes.Vid]coretypes.CsId, error) {
	out := make(map[coretypes.Vid]coretypes.CsId, len(vids))
	if len(vids) == 0 {
		return out, nil
	}

	missing, err := m.queryVidToCsId(ctx, m.db.Replica, vids, out, perfcounters.IdMapReplicaRead)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return out, nil
	}
	if _, err := m.queryVidToCsId(ctx, m.db.Master, missing, out, perfcounters.IdMapMasterRead); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *IdMap) queryVidToCsId(ctx context.Context, handle *sql.DB, vids []coretypes.Vid, out map[coretypes.Vid]coretypes.CsId, counter string) ([]coretypes.Vid, error) {
	found := make(map[coretypes.Vid]bool, len(vids))
	for _, v := range vids {
		row := handle.QueryRowContext(ctx,
			`SELECT cs_id FROM segmented_changelog_idmap WHERE repo_id = ? AND vertex = ?`, m.repoId, int64(v))
		var b []byte
		err := row.Scan(&b)
		m.counters.Incr(counter)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("idmap: query vertex %d: %w", v, err)
		}
		cs, err := coretypes.CsIdFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("idmap: corrupt cs_id for vertex %d: %w", v, err)
		}
		out[v] = cs
		found[v] = true
	}
	var missing []coretypes.Vid
	for _, v := range vids {
		if !found[v] {
			missing = append(missing, v)
		}
	}
	return missing, nil
}

// FindChangesetId looks up a single vid; ok is false if absent.
func (m *IdMap) FindChangesetId(ctx context.Context, vid coretypes.Vid) (coretypes.CsId, bool, error) {
	res, err := m.FindManyChangesetIds(ctx, []coretypes.Vid{vid})
	if err != nil {
		return coretypes.CsId{}, false, err
	}
	cs, ok := res[vid]
	return cs, ok, nil
}

// GetChangesetId is FindChangesetId but fails with NotFound if vid is
// absent.
func (m *IdMap) GetChangesetId(ctx context.Context, vid coretypes.Vid) (coretypes.CsId, error) {
	cs, ok, err := m.FindChangesetId(ctx, vid)
	if err != nil {
		return coretypes.CsId{}, err
	}
	if !ok {
		return coretypes.CsId{}, &coreerrors.NotFound{What: "vertex", Key: fmt.Sprint(vid)}
	}
	return cs, nil
}

// FindManyVertexes is the cs_id -> vid symmetric lookup of
// FindManyChangesetIds.
func (m *IdMap) FindManyVertexes(ctx context.Context, csIds []coretypes.CsId) (map[coretypes.CsId]coretypes.Vid, error) {
	out := make(map[coretypes.CsId]coretypes.Vid, len(csIds))
	if len(csIds) == 0 {
		return out, nil
	}
	missing, err := m.queryCsIdToVid(ctx, m.db.Replica, csIds, out, perfcounters.IdMapReplicaRead)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return out, nil
	}
	if _, err := m.queryCsIdToVid(ctx, m.db.Master, missing, out, perfcounters.IdMapMasterRead); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *IdMap) queryCsIdToVid(ctx context.Context, handle *sql.DB, csIds []coretypes.CsId, out map[coretypes.CsId]coretypes.Vid, counter string) ([]coretypes.CsId, error) {
	found := make(map[coretypes.CsId]bool, len(csIds))
	for _, cs := range csIds {
		row := handle.QueryRowContext(ctx,
			`SELECT vertex FROM segmented_changelog_idmap WHERE repo_id = ? AND cs_id = ?`, m.repoId, cs[:])
		var vid int64
		err := row.Scan(&vid)
		m.counters.Incr(counter)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("idmap: query cs_id %s: %w", cs, err)
		}
		out[cs] = coretypes.Vid(vid)
		found[cs] = true
	}
	var missing []coretypes.CsId
	for _, cs := range csIds {
		if !found[cs] {
			missing = append(missing, cs)
		}
	}
	return missing, nil
}

// FindVertex looks up a single cs_id; ok is false if absent.
func (m *IdMap) FindVertex(ctx context.Context, cs coretypes.CsId) (coretypes.Vid, bool, error) {
	res, err := m.FindManyVertexes(ctx, []coretypes.CsId{cs})
	if err != nil {
		return 0, false, err
	}
	vid, ok := res[cs]
	return vid, ok, nil
}

// GetVertex is FindVertex but fails with NotFound if cs is absent.
func (m *IdMap) GetVertex(ctx context.Context, cs coretypes.CsId) (coretypes.Vid, error) {
	vid, ok, err := m.FindVertex(ctx, cs)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &coreerrors.NotFound{What: "changeset", Key: cs.String()}
	}
	return vid, nil
}

// GetLastEntry returns the (vid, cs_id) with the maximum vid for the repo,
// or ok=false if the repo is empty. Relies on the primary key's implicit
// index over (repo_id, vertex) so this is an indexed scan, not a sort of
// the whole table.
func (m *IdMap) GetLastEntry(ctx context.Context) (Entry, bool, error) {
	row := m.db.Master.QueryRowContext(ctx,
		`SELECT vertex, cs_id FROM segmented_changelog_idmap
		 WHERE repo_id = ? ORDER BY vertex DESC LIMIT 1`, m.repoId)
	var vid int64
	var b []byte
	err := row.Scan(&vid, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("idmap: get last entry: %w", err)
	}
	cs, err := coretypes.CsIdFromBytes(b)
	if err != nil {
		return Entry{}, false, fmt.Errorf("idmap: corrupt last entry: %w", err)
	}
	return Entry{Vid: coretypes.Vid(vid), CsId: cs}, true, nil
}
