// Package bookmarks implements the transactional per-repository bookmark
// service: create/update/force/scratch operations staged
// into a transaction and committed atomically, an append-only update log,
// namespace kind restrictions, and identity-based authorisation.
package bookmarks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/perfcounters"
	"github.com/scmcore/engine/internal/sqlstore"
)

// Store is the SQL-backed bookmark service for one repository.
type Store struct {
	db       *sqlstore.DB
	replica  sqlstore.ReplicaLagMonitor
	counters *perfcounters.Counters
	repoId   int64
	policy   NamespacePolicy
	acl      ACL
}

// New returns a Store scoped to repoId. A nil acl defaults to AllowAllACL.
func New(db *sqlstore.DB, repoId int64, replica sqlstore.ReplicaLagMonitor, counters *perfcounters.Counters, policy NamespacePolicy, acl ACL) *Store {
	if replica == nil {
		replica = sqlstore.SameProcessMonitor{}
	}
	if counters == nil {
		counters = &perfcounters.Counters{}
	}
	if acl == nil {
		acl = AllowAllACL{}
	}
	return &Store{db: db, replica: replica, counters: counters, repoId: repoId, policy: policy, acl: acl}
}

func (s *Store) handle(freshness coretypes.Freshness) *sql.DB {
	if freshness == coretypes.MostRecent {
		return s.db.Master
	}
	return s.db.Replica
}

// Get returns name's current value, or ok=false if unset.
func (s *Store) Get(ctx context.Context, name string, freshness coretypes.Freshness) (coretypes.CsId, bool, error) {
	s.counters.Incr(perfcounters.BookmarkRead)
	row := s.handle(freshness).QueryRowContext(ctx,
		`SELECT cs_id FROM bookmarks WHERE repo_id = ? AND name = ?`, s.repoId, name)
	var b []byte
	if err := row.Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return coretypes.CsId{}, false, nil
		}
		return coretypes.CsId{}, false, fmt.Errorf("bookmarks: get %q: %w", name, &coreerrors.Backend{Cause: err})
	}
	cs, err := coretypes.CsIdFromBytes(b)
	if err != nil {
		return coretypes.CsId{}, false, fmt.Errorf("bookmarks: corrupt row for %q: %w", name, err)
	}
	return cs, true, nil
}

// Pagination selects where a List call resumes.
type Pagination struct {
	// After, when non-nil, resumes strictly after this name; nil means
	// FromStart.
	After *string
}

// Entry is one row of a List result.
type Entry struct {
	Bookmark coretypes.Bookmark
	CsId     coretypes.CsId
}

// List streams bookmarks within prefix, restricted to kinds, in ascending
// name order, starting from pagination, up to limit items. limit <= 0
// means unbounded.
func (s *Store) List(ctx context.Context, freshness coretypes.Freshness, prefix string, kinds []coretypes.BookmarkKind, pagination Pagination, limit int) ([]Entry, error) {
	s.counters.Incr(perfcounters.BookmarkRead)
	wantKind := make(map[coretypes.BookmarkKind]bool, len(kinds))
	for _, k := range kinds {
		wantKind[k] = true
	}

	query := `SELECT name, cs_id FROM bookmarks WHERE repo_id = ? AND name >= ? ORDER BY name ASC`
	rows, err := s.handle(freshness).QueryContext(ctx, query, s.repoId, prefix)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: list: %w", &coreerrors.Backend{Cause: err})
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var name string
		var b []byte
		if err := rows.Scan(&name, &b); err != nil {
			return nil, fmt.Errorf("bookmarks: list scan: %w", err)
		}
		if !strings.HasPrefix(name, prefix) {
			break // past the prefix range; ASC order means nothing further matches
		}
		if pagination.After != nil && name <= *pagination.After {
			continue
		}
		cs, err := coretypes.CsIdFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("bookmarks: corrupt row for %q: %w", name, err)
		}
		kind, err := s.policy.classify(name)
		if err != nil {
			continue // names the policy can't classify are omitted from listings
		}
		if len(kinds) > 0 && !wantKind[kind] {
			continue
		}
		out = append(out, Entry{Bookmark: coretypes.Bookmark{Name: name, Kind: kind}, CsId: cs})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}
