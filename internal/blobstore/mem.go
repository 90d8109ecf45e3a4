package blobstore

import (
	"context"
	"sync"
)

// MemBlobstore is an in-memory backend used for tests and as the write
// layer beneath BackfillBatchDangerous's in-memory staging. Persist is a
// no-op: everything is already "durable" for the lifetime of the
// process.
type MemBlobstore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMem returns an empty in-memory blob store.
func NewMem() *MemBlobstore {
	return &MemBlobstore{values: make(map[string][]byte)}
}

func (m *MemBlobstore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemBlobstore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.values[key] = cp
	return nil
}

func (m *MemBlobstore) Persist(_ context.Context) error { return nil }

// Len reports how many keys are currently stored, mainly for tests that
// assert on write-layer contents before a flush.
func (m *MemBlobstore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// MemWrites layers an in-memory write buffer in front of an underlying
// Blobstore. Reads check the buffer first, then fall through. Flush copies
// buffered writes into the underlying store, the first half of backfill's
// two-phase commit: blobs become durable before any mapping entry that
// points at them. Flush does not clear the buffer.
type MemWrites struct {
	under   Blobstore
	buffer  *MemBlobstore
	flushed bool
}

// NewMemWrites wraps under with a fresh write buffer.
func NewMemWrites(under Blobstore) *MemWrites {
	return &MemWrites{under: under, buffer: NewMem()}
}

func (w *MemWrites) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := w.buffer.Get(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		return v, true, nil
	}
	return w.under.Get(ctx, key)
}

func (w *MemWrites) Put(ctx context.Context, key string, value []byte) error {
	return w.buffer.Put(ctx, key, value)
}

// Persist is a no-op; use Flush to push the staged writes to the
// underlying store. Keeping them distinct stops callers from
// accidentally making staged writes durable before the mapping-commit
// phase, which would break the at-most-once derivation discipline.
func (w *MemWrites) Persist(ctx context.Context) error { return nil }

// Flush copies every buffered write into the underlying store and calls
// its Persist. Safe to call at most once per logical operation; a second
// call is a no-op.
func (w *MemWrites) Flush(ctx context.Context) error {
	if w.flushed {
		return nil
	}
	w.buffer.mu.RLock()
	pending := make(map[string][]byte, len(w.buffer.values))
	for k, v := range w.buffer.values {
		pending[k] = v
	}
	w.buffer.mu.RUnlock()

	for k, v := range pending {
		if err := w.under.Put(ctx, k, v); err != nil {
			return err
		}
	}
	if err := w.under.Persist(ctx); err != nil {
		return err
	}
	w.flushed = true
	return nil
}

// PendingKeys returns every key buffered in this write layer. Flush does
// not clear the buffer, so flushed keys stay listed.
func (w *MemWrites) PendingKeys() []string {
	w.buffer.mu.RLock()
	defer w.buffer.mu.RUnlock()
	keys := make([]string, 0, len(w.buffer.values))
	for k := range w.buffer.values {
		keys = append(keys, k)
	}
	return keys
}
