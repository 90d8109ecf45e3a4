package idmap

import (
	"context"
	"sort"
	"sync"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
)

// Interface is the subset of IdMap's surface a caller programs against,
// satisfied by both the SQL-backed IdMap and the transient MemIdMap.
type Interface interface {
	InsertMany(ctx context.Context, entries []Entry) error
	FindManyChangesetIds(ctx context.Context, vids []coretypes.Vid) (map[coretypes.Vid]coretypes.CsId, error)
	FindChangesetId(ctx context.Context, vid coretypes.Vid) (coretypes.CsId, bool, error)
	GetChangesetId(ctx context.Context, vid coretypes.Vid) (coretypes.CsId, error)
	FindManyVertexes(ctx context.Context, csIds []coretypes.CsId) (map[coretypes.CsId]coretypes.Vid, error)
	FindVertex(ctx context.Context, cs coretypes.CsId) (coretypes.Vid, bool, error)
	GetVertex(ctx context.Context, cs coretypes.CsId) (coretypes.Vid, error)
	GetLastEntry(ctx context.Context) (Entry, bool, error)
}

var (
	_ Interface = (*IdMap)(nil)
	_ Interface = (*MemIdMap)(nil)
)

// MemIdMap is a transient, process-local IdMap used for staging vertex
// assignments before they are durably committed (e.g. while building up a
// batch of new commits).
type MemIdMap struct {
	mu      sync.RWMutex
	vidToCs map[coretypes.Vid]coretypes.CsId
	csToVid map[coretypes.CsId]coretypes.Vid
}

// NewMem returns an empty MemIdMap.
func NewMem() *MemIdMap {
	return &MemIdMap{
		vidToCs: make(map[coretypes.Vid]coretypes.CsId),
		csToVid: make(map[coretypes.CsId]coretypes.Vid),
	}
}

func (m *MemIdMap) InsertMany(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Vid < sorted[j].Vid })

	for _, e := range sorted {
		if existing, ok := m.vidToCs[e.Vid]; ok && existing != e.CsId {
			return &coreerrors.DuplicateAssignment{Vid: e.Vid, ExistingCs: existing, AttemptedCs: e.CsId}
		}
		m.vidToCs[e.Vid] = e.CsId
		m.csToVid[e.CsId] = e.Vid
	}
	return nil
}

func (m *MemIdMap) FindManyChangesetIds(_ context.Context, vids []coretypes.Vid) (map[coretypes.Vid]coretypes.CsId, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[coretypes.Vid]coretypes.CsId, len(vids))
	for _, v := range vids {
		if cs, ok := m.vidToCs[v]; ok {
			out[v] = cs
		}
	}
	return out, nil
}

func (m *MemIdMap) FindChangesetId(ctx context.Context, vid coretypes.Vid) (coretypes.CsId, bool, error) {
	res, err := m.FindManyChangesetIds(ctx, []coretypes.Vid{vid})
	if err != nil {
		return coretypes.CsId{}, false, err
	}
	cs, ok := res[vid]
	return cs, ok, nil
}

func (m *MemIdMap) GetChangesetId(ctx context.Context, vid coretypes.Vid) (coretypes.CsId, error) {
	cs, ok, err := m.FindChangesetId(ctx, vid)
	if err != nil {
		return coretypes.CsId{}, err
	}
	if !ok {
		return coretypes.CsId{}, &coreerrors.NotFound{What: "vertex", Key: vid.String()}
	}
	return cs, nil
}

func (m *MemIdMap) FindManyVertexes(_ context.Context, csIds []coretypes.CsId) (map[coretypes.CsId]coretypes.Vid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[coretypes.CsId]coretypes.Vid, len(csIds))
	for _, cs := range csIds {
		if v, ok := m.csToVid[cs]; ok {
			out[cs] = v
		}
	}
	return out, nil
}

func (m *MemIdMap) FindVertex(ctx context.Context, cs coretypes.CsId) (coretypes.Vid, bool, error) {
	res, err := m.FindManyVertexes(ctx, []coretypes.CsId{cs})
	if err != nil {
		return 0, false, err
	}
	vid, ok := res[cs]
	return vid, ok, nil
}

func (m *MemIdMap) GetVertex(ctx context.Context, cs coretypes.CsId) (coretypes.Vid, error) {
	vid, ok, err := m.FindVertex(ctx, cs)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &coreerrors.NotFound{What: "changeset", Key: cs.String()}
	}
	return vid, nil
}

func (m *MemIdMap) GetLastEntry(_ context.Context) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best Entry
	found := false
	for v, cs := range m.vidToCs {
		if !found || v > best.Vid {
			best = Entry{Vid: v, CsId: cs}
			found = true
		}
	}
	return best, found, nil
}
