// Package dag implements the segmented-changelog DAG: a persistent
// structure over vertex names supporting incremental extension,
// flush-to-disk, and a suite of graph-algebra operations returning lazy
// nameset.Set values.
//
// The segment-compaction machinery a production segmented changelog uses
// internally is not exposed here; this implementation keeps the full
// adjacency in memory (parents/children edges) and assigns dense vids
// through idmap.Interface, which is sufficient to implement the full
// graph-algebra surface with the same external contract.
package dag

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/idmap"
	"github.com/scmcore/engine/internal/nameset"
	"github.com/scmcore/engine/internal/perfcounters"
)

// ParentFunc resolves a vertex's parents during add_heads traversal.
type ParentFunc func(ctx context.Context, v coretypes.VertexName) ([]coretypes.VertexName, error)

// Dag is the segmented-changelog index over vertex names.
type Dag struct {
	mu sync.Mutex // AddHeads is serialised per instance; callers batch

	idmapToken string
	ids        idmap.Interface

	// parents[v] is v's parent list in canonical (first-parent-first)
	// order; children is the reverse adjacency.
	parents  map[string][]coretypes.VertexName
	children map[string][]coretypes.VertexName
	known    map[string]coretypes.VertexName // canonical stored copy of each known name

	pending     []coretypes.VertexName // known vertices lacking a vid, oldest-first
	hasVid      map[string]bool
	masterHeads []coretypes.VertexName

	counters *perfcounters.Counters
}

// New constructs an empty Dag backed by ids for vid assignment. token
// identifies this Dag/idmap pairing for nameset's IdMap-compatibility
// hints.
func New(ids idmap.Interface, token string, counters *perfcounters.Counters) *Dag {
	if counters == nil {
		counters = &perfcounters.Counters{}
	}
	return &Dag{
		idmapToken: token,
		ids:        ids,
		parents:    make(map[string][]coretypes.VertexName),
		children:   make(map[string][]coretypes.VertexName),
		known:      make(map[string]coretypes.VertexName),
		hasVid:     make(map[string]bool),
		counters:   counters,
	}
}

// AddHeads incrementally extends the Dag with the ancestor closure of
// heads, discovering parents via parentFn. Already-known vertices are not
// re-walked. Traversal uses an explicit frontier queue rather than
// recursion so depth is bounded by available memory, not call-stack
// depth.
func (d *Dag) AddHeads(ctx context.Context, parentFn ParentFunc, heads []coretypes.VertexName) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	frontier := append([]coretypes.VertexName(nil), heads...)
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := frontier[0]
		frontier = frontier[1:]
		key := v.Key()
		if _, seen := d.known[key]; seen {
			continue
		}
		ps, err := parentFn(ctx, v)
		if err != nil {
			return fmt.Errorf("dag: resolve parents of %s: %w", v, err)
		}
		d.addVertexLocked(v, ps)
		frontier = append(frontier, ps...)
	}
	return nil
}

func (d *Dag) addVertexLocked(v coretypes.VertexName, parents []coretypes.VertexName) {
	key := v.Key()
	cp := coretypes.CloneVertexName(v)
	d.known[key] = cp
	d.parents[key] = append([]coretypes.VertexName(nil), parents...)
	d.pending = append(d.pending, cp)
	for _, p := range parents {
		pk := p.Key()
		d.children[pk] = append(d.children[pk], cp)
	}
}

// Flush assigns dense vids to every vertex added since the last flush (in
// an order where every parent's vid precedes its children's) and commits
// them through the IdMap, then records masterHeads as the new master-head
// set. Vids are assigned in insertion order, which for a Dag built solely
// through AddHeads's parents-before-children traversal already respects
// the partial order.
func (d *Dag) Flush(ctx context.Context, masterHeads []coretypes.VertexName) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) > 0 {
		next := coretypes.Vid(1)
		if last, ok, err := d.ids.GetLastEntry(ctx); err != nil {
			return fmt.Errorf("dag: flush: read last idmap entry: %w", err)
		} else if ok {
			next = last.Vid + 1
		}

		// Parents were discovered after children during the backward
		// AddHeads walk, so reverse d.pending to assign ids in a
		// parents-before-children order.
		toAssign := make([]coretypes.VertexName, len(d.pending))
		for i, v := range d.pending {
			toAssign[len(d.pending)-1-i] = v
		}

		entries := make([]idmap.Entry, 0, len(toAssign))
		for _, v := range toAssign {
			entries = append(entries, idmap.Entry{Vid: next, CsId: idmapStorageKey(v)})
			d.hasVid[v.Key()] = true
			next++
		}
		if err := d.ids.InsertMany(ctx, entries); err != nil {
			return fmt.Errorf("dag: flush: insert vids: %w", err)
		}
		d.pending = nil
	}
	d.masterHeads = append([]coretypes.VertexName(nil), masterHeads...)
	return nil
}

// idmapStorageKey derives the fixed-width key the IdMap's cs_id column
// stores for v. Vertex names are opaque and may be 20 or 32 bytes (spec
// §3); the IdMap column is always 32 bytes, so names are folded through
// SHA-256 to get a stable, collision-resistant storage key. This key is
// internal bookkeeping for dense-id assignment only; it is never
// presented to callers, who only ever see vertex names and vids.
func idmapStorageKey(v coretypes.VertexName) coretypes.CsId {
	return sha256.Sum256(v)
}

// ParentNames returns v's parents in canonical order, or NotFound if v is
// unknown to the Dag.
func (d *Dag) ParentNames(ctx context.Context, v coretypes.VertexName) ([]coretypes.VertexName, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, ok := d.parents[v.Key()]
	if !ok {
		return nil, &coreerrors.NotFound{What: "vertex", Key: v.String()}
	}
	return append([]coretypes.VertexName(nil), ps...), nil
}

func (d *Dag) childrenOf(v coretypes.VertexName) []coretypes.VertexName {
	return d.children[v.Key()]
}

// HasVid reports whether v has been assigned a dense id by a prior
// Flush. A known-but-unflushed vertex (added via AddHeads since the last
// Flush) returns false.
func (d *Dag) HasVid(v coretypes.VertexName) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasVid[v.Key()]
}

// MasterHeads returns the head set recorded by the most recent Flush.
func (d *Dag) MasterHeads() []coretypes.VertexName {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]coretypes.VertexName(nil), d.masterHeads...)
}

// hints builds a Hints value tagged with this Dag's idmap token so
// combinators recognise sets produced by the same Dag instance as IdMap
// compatible.
func (d *Dag) hints(flags nameset.HintFlags) nameset.Hints {
	return nameset.Hints{Flags: flags, IdMapToken: d.idmapToken}
}

// All returns every vertex currently known to the Dag.
func (d *Dag) All(ctx context.Context) nameset.Set {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := make([]coretypes.VertexName, 0, len(d.known))
	for _, v := range d.known {
		items = append(items, v)
	}
	sortByKey(items)
	return nameset.NewStatic(items, d.hints(0))
}

func sortByKey(items []coretypes.VertexName) {
	sort.Slice(items, func(i, j int) bool { return items[i].String() < items[j].String() })
}
