package bookmarks

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
)

// scanLogRows drains rows into BookmarkUpdateLogEntry values.
func scanLogRows(rows *sql.Rows) ([]coretypes.BookmarkUpdateLogEntry, error) {
	defer rows.Close()
	var out []coretypes.BookmarkUpdateLogEntry
	for rows.Next() {
		var e coretypes.BookmarkUpdateLogEntry
		var fromBytes, toBytes, replay []byte
		var tag string
		if err := rows.Scan(&e.Id, &e.RepoId, &e.Name, &fromBytes, &toBytes, &tag, &e.TimestampMs, &replay); err != nil {
			return nil, fmt.Errorf("bookmarks: scan log entry: %w", err)
		}
		reason, err := coretypes.DecodeReason(tag)
		if err != nil {
			return nil, fmt.Errorf("bookmarks: decode log reason: %w", err)
		}
		e.Reason = reason
		e.ReplayData = replay
		if fromBytes != nil {
			cs, err := coretypes.CsIdFromBytes(fromBytes)
			if err != nil {
				return nil, fmt.Errorf("bookmarks: corrupt log from_cs_id: %w", err)
			}
			e.From = &cs
		}
		if toBytes != nil {
			cs, err := coretypes.CsIdFromBytes(toBytes)
			if err != nil {
				return nil, fmt.Errorf("bookmarks: corrupt log to_cs_id: %w", err)
			}
			e.To = &cs
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadNextBookmarkLogEntries returns up to n entries with id > fromId in
// ascending id order, reading from master when freshness requires
// MostRecent.
func (s *Store) ReadNextBookmarkLogEntries(ctx context.Context, fromId int64, n int, freshness coretypes.Freshness) ([]coretypes.BookmarkUpdateLogEntry, error) {
	rows, err := s.handle(freshness).QueryContext(ctx, `
		SELECT id, repo_id, name, from_cs_id, to_cs_id, reason, timestamp_ms, bundle_replay_data
		FROM bookmark_update_log
		WHERE repo_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`, s.repoId, fromId, n)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: read next log entries: %w", &coreerrors.Backend{Cause: err})
	}
	return scanLogRows(rows)
}

// ReadNextBookmarkLogEntriesSameBookmarkAndReason returns the longest
// ascending-id prefix starting strictly after fromId in which every entry
// shares the first entry's name and reason.
func (s *Store) ReadNextBookmarkLogEntriesSameBookmarkAndReason(ctx context.Context, fromId int64, n int) ([]coretypes.BookmarkUpdateLogEntry, error) {
	entries, err := s.ReadNextBookmarkLogEntries(ctx, fromId, n, coretypes.MostRecent)
	if err != nil || len(entries) == 0 {
		return entries, err
	}
	first := entries[0]
	prefix := entries[:1]
	for _, e := range entries[1:] {
		if e.Name != first.Name || e.Reason != first.Reason {
			break
		}
		prefix = append(prefix, e)
	}
	return prefix, nil
}

// ListBookmarkLogEntries returns the last n entries for name in descending
// id order, skipping offset initial (most recent) entries.
func (s *Store) ListBookmarkLogEntries(ctx context.Context, name string, n int, offset int, freshness coretypes.Freshness) ([]coretypes.BookmarkUpdateLogEntry, error) {
	rows, err := s.handle(freshness).QueryContext(ctx, `
		SELECT id, repo_id, name, from_cs_id, to_cs_id, reason, timestamp_ms, bundle_replay_data
		FROM bookmark_update_log
		WHERE repo_id = ? AND name = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, s.repoId, name, n, offset)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: list log entries: %w", &coreerrors.Backend{Cause: err})
	}
	return scanLogRows(rows)
}
