// Package sqlstore provides the SQL transaction primitive
// (begin/query/commit/rollback, ordered reads, read-your-writes within a
// transaction) on top of database/sql and the pure-Go, wazero-hosted
// ncruces/go-sqlite3 driver, backing the IdMap and the bookmark store's
// persistent schema.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB holds the master (read-write) and replica (read-only) handles
// backing IdMap and the bookmark store. In this single-process
// implementation both point at the same SQLite file; the split exists so
// call sites exercise the same master/replica-fallback code paths a
// multi-host deployment would.
type DB struct {
	Master  *sql.DB
	Replica *sql.DB
	path    string
}

// Open creates (if needed) a SQLite database at path and returns a DB with
// both handles pointed at it. The replica handle is opened read-only so
// accidental writes through it fail fast instead of silently succeeding.
func Open(path string) (*DB, error) {
	// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE instead
	// of SQLite's default deferred BEGIN, which is what lets concurrent
	// writers serialise instead of hitting SQLITE_BUSY mid-transaction.
	master, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_txlock=immediate", path))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open master: %w", err)
	}
	master.SetMaxOpenConns(1) // BEGIN IMMEDIATE serializes writers anyway

	replica, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("sqlstore: open replica: %w", err)
	}

	db := &DB{Master: master, Replica: replica, path: path}
	if err := db.migrate(context.Background()); err != nil {
		master.Close()
		replica.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the underlying file path, used by callers that need to
// validate they are pointed at the expected database.
func (d *DB) Path() string { return d.path }

// Close closes both handles.
func (d *DB) Close() error {
	err1 := d.Master.Close()
	err2 := d.Replica.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

const schema = `
CREATE TABLE IF NOT EXISTS segmented_changelog_idmap (
    repo_id INTEGER NOT NULL,
    vertex  INTEGER NOT NULL,
    cs_id   BLOB NOT NULL,
    PRIMARY KEY (repo_id, vertex)
);
CREATE UNIQUE INDEX IF NOT EXISTS idmap_repo_cs_id
    ON segmented_changelog_idmap (repo_id, cs_id);

CREATE TABLE IF NOT EXISTS bookmarks (
    repo_id INTEGER NOT NULL,
    name    TEXT NOT NULL,
    cs_id   BLOB NOT NULL,
    kind    INTEGER NOT NULL,
    PRIMARY KEY (repo_id, name)
);

CREATE TABLE IF NOT EXISTS bookmark_update_log (
    id          INTEGER NOT NULL,
    repo_id     INTEGER NOT NULL,
    name        TEXT NOT NULL,
    from_cs_id  BLOB,
    to_cs_id    BLOB,
    reason      TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    bundle_replay_data BLOB,
    PRIMARY KEY (repo_id, id)
);
CREATE INDEX IF NOT EXISTS bookmark_log_name
    ON bookmark_update_log (repo_id, name, id);
`

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.Master.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// RunInTransaction executes fn within a BEGIN IMMEDIATE transaction on the
// master handle. BEGIN IMMEDIATE acquires the write lock up front, which
// is what lets concurrent transactions contending for the same row
// serialise instead of deadlocking under SQLite's deferred-transaction
// default.
//
//   - If fn returns nil, the transaction commits.
//   - If fn returns an error, the transaction rolls back and the error
//     propagates to the caller.
//   - If fn panics, the transaction rolls back and the panic re-raises.
func (d *DB) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin immediate: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlstore: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}
