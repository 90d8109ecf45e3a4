package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DiskBlobstore stores one file per key under a root directory. Writes
// are guarded by a single flock-based lock file so two processes sharing
// a root never interleave a partial write.
type DiskBlobstore struct {
	root string
	lock *flock.Flock
}

// NewDisk creates (if needed) root and returns a disk-backed blob store
// rooted there.
func NewDisk(root string) (*DiskBlobstore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %s: %w", root, err)
	}
	return &DiskBlobstore{
		root: root,
		lock: flock.New(filepath.Join(root, ".blobstore.lock")),
	}, nil
}

func (d *DiskBlobstore) path(key string) string {
	return filepath.Join(d.root, keyToFilename(key))
}

// keyToFilename escapes a key so it can never escape the root directory
// via "..", "/" or an absolute path.
func keyToFilename(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	// "." and ".." would still name the root or its parent.
	if s := string(out); s == "." || s == ".." {
		return "_" + s
	}
	return string(out)
}

func (d *DiskBlobstore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return b, true, nil
}

func (d *DiskBlobstore) Put(ctx context.Context, key string, value []byte) error {
	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("blobstore: lock root for write: %w", err)
	}
	defer d.lock.Unlock()

	tmp := d.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, d.path(key)); err != nil {
		return fmt.Errorf("blobstore: rename into place %s: %w", key, err)
	}
	return nil
}

// Persist is a no-op: every Put has already written its file (to a
// temporary name, then renamed into place) before returning.
func (d *DiskBlobstore) Persist(ctx context.Context) error { return nil }
