package dag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scmcore/engine/internal/coreerrors"
	"github.com/scmcore/engine/internal/coretypes"
	"github.com/scmcore/engine/internal/nameset"
	"github.com/scmcore/engine/internal/perfcounters"
)

// seedsOf materialises a nameset.Set into a plain slice for traversal
// starting points.
func seedsOf(ctx context.Context, s nameset.Set) ([]coretypes.VertexName, error) {
	return nameset.Materialize(ctx, s)
}

// ancestorsLocked walks backward from seeds over d.parents, inclusive of
// the seeds themselves, using an explicit frontier queue.
func (d *Dag) ancestorsLocked(seeds []coretypes.VertexName) map[string]coretypes.VertexName {
	d.counters.Incr(perfcounters.DagSegmentRead)
	visited := make(map[string]coretypes.VertexName, len(seeds))
	frontier := append([]coretypes.VertexName(nil), seeds...)
	for len(frontier) > 0 {
		v := frontier[0]
		frontier = frontier[1:]
		key := v.Key()
		if _, ok := visited[key]; ok {
			continue
		}
		cv, known := d.known[key]
		if !known {
			continue
		}
		visited[key] = cv
		frontier = append(frontier, d.parents[key]...)
	}
	return visited
}

// descendantsLocked walks forward from seeds over d.children, inclusive.
func (d *Dag) descendantsLocked(seeds []coretypes.VertexName) map[string]coretypes.VertexName {
	d.counters.Incr(perfcounters.DagSegmentRead)
	visited := make(map[string]coretypes.VertexName, len(seeds))
	frontier := append([]coretypes.VertexName(nil), seeds...)
	for len(frontier) > 0 {
		v := frontier[0]
		frontier = frontier[1:]
		key := v.Key()
		if _, ok := visited[key]; ok {
			continue
		}
		cv, known := d.known[key]
		if !known {
			continue
		}
		visited[key] = cv
		frontier = append(frontier, d.children[key]...)
	}
	return visited
}

func toStatic(m map[string]coretypes.VertexName, hints nameset.Hints) nameset.Set {
	items := make([]coretypes.VertexName, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sortByKey(items)
	return nameset.NewStatic(items, hints)
}

// Ancestors returns every vertex reachable from s by following parent
// edges, including s's own members.
func (d *Dag) Ancestors(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return toStatic(d.ancestorsLocked(seeds), d.hints(0)), nil
}

// Descendants returns every vertex reachable from s by following child
// edges, including s's own members.
func (d *Dag) Descendants(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return toStatic(d.descendantsLocked(seeds), d.hints(0)), nil
}

// Parents returns the direct parents of every member of s.
func (d *Dag) Parents(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]coretypes.VertexName)
	for _, v := range seeds {
		for _, p := range d.parents[v.Key()] {
			out[p.Key()] = p
		}
	}
	return toStatic(out, d.hints(0)), nil
}

// Children returns the direct children of every member of s.
func (d *Dag) Children(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]coretypes.VertexName)
	for _, v := range seeds {
		for _, c := range d.childrenOf(v) {
			out[c.Key()] = c
		}
	}
	return toStatic(out, d.hints(0)), nil
}

// Heads returns the members of s that are not a parent of any other
// member of s (the tips of the subgraph induced by s).
func (d *Dag) Heads(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inSet := make(map[string]bool, len(seeds))
	for _, v := range seeds {
		inSet[v.Key()] = true
	}
	isParent := make(map[string]bool)
	for _, v := range seeds {
		for _, p := range d.parents[v.Key()] {
			if inSet[p.Key()] {
				isParent[p.Key()] = true
			}
		}
	}
	out := make(map[string]coretypes.VertexName)
	for _, v := range seeds {
		if !isParent[v.Key()] {
			out[v.Key()] = v
		}
	}
	return toStatic(out, d.hints(0)), nil
}

// Roots returns the members of s that have no parent within s.
func (d *Dag) Roots(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inSet := make(map[string]bool, len(seeds))
	for _, v := range seeds {
		inSet[v.Key()] = true
	}
	out := make(map[string]coretypes.VertexName)
	for _, v := range seeds {
		hasParentInSet := false
		for _, p := range d.parents[v.Key()] {
			if inSet[p.Key()] {
				hasParentInSet = true
				break
			}
		}
		if !hasParentInSet {
			out[v.Key()] = v
		}
	}
	return toStatic(out, d.hints(0)), nil
}

// HeadsAncestors returns ancestors(heads(s)): the ancestor closure of s's
// own heads, a cheaper over-approximation of s often used to materialise a
// consistent view of "everything needed to reproduce s's tips".
func (d *Dag) HeadsAncestors(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	heads, err := d.Heads(ctx, s)
	if err != nil {
		return nil, err
	}
	return d.Ancestors(ctx, heads)
}

// Range returns descendants(roots) ∩ ancestors(heads).
func (d *Dag) Range(ctx context.Context, roots, heads nameset.Set) (nameset.Set, error) {
	desc, err := d.Descendants(ctx, roots)
	if err != nil {
		return nil, err
	}
	anc, err := d.Ancestors(ctx, heads)
	if err != nil {
		return nil, err
	}
	return nameset.Intersection(desc, anc), nil
}

// Only returns ancestors(reach) \ ancestors(unreach): commits reachable
// from reach but not from unreach.
func (d *Dag) Only(ctx context.Context, reach, unreach nameset.Set) (nameset.Set, error) {
	reachAnc, err := d.Ancestors(ctx, reach)
	if err != nil {
		return nil, err
	}
	unreachAnc, err := d.Ancestors(ctx, unreach)
	if err != nil {
		return nil, err
	}
	return nameset.Difference(reachAnc, unreachAnc), nil
}

// OnlyBoth is Only plus the unreach ancestor set it computed along the
// way, letting a caller that needs both avoid a second ancestors(unreach)
// walk.
func (d *Dag) OnlyBoth(ctx context.Context, reach, unreach nameset.Set) (nameset.Set, nameset.Set, error) {
	reachAnc, err := d.Ancestors(ctx, reach)
	if err != nil {
		return nil, nil, err
	}
	unreachAnc, err := d.Ancestors(ctx, unreach)
	if err != nil {
		return nil, nil, err
	}
	return nameset.Difference(reachAnc, unreachAnc), unreachAnc, nil
}

// IsAncestor reports whether anc is an ancestor of (or equal to) desc.
func (d *Dag) IsAncestor(ctx context.Context, anc, desc coretypes.VertexName) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	visited := d.ancestorsLocked([]coretypes.VertexName{desc})
	_, ok := visited[anc.Key()]
	return ok, nil
}

// CommonAncestors returns the vertices that are an ancestor of every
// member of s.
func (d *Dag) CommonAncestors(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nameset.NewStatic(nil, d.hints(nameset.HintEmpty)), nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	common := d.ancestorsLocked([]coretypes.VertexName{seeds[0]})
	for _, v := range seeds[1:] {
		next := d.ancestorsLocked([]coretypes.VertexName{v})
		for k := range common {
			if _, ok := next[k]; !ok {
				delete(common, k)
			}
		}
	}
	return toStatic(common, d.hints(0)), nil
}

// GcaAll returns the maximal elements of CommonAncestors(s): common
// ancestors that are not themselves an ancestor of another common
// ancestor.
func (d *Dag) GcaAll(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	common := map[string]coretypes.VertexName{}
	if len(seeds) > 0 {
		common = d.ancestorsLocked([]coretypes.VertexName{seeds[0]})
		for _, v := range seeds[1:] {
			next := d.ancestorsLocked([]coretypes.VertexName{v})
			for k := range common {
				if _, ok := next[k]; !ok {
					delete(common, k)
				}
			}
		}
	}
	// A common ancestor survives into the GCA set unless some other
	// common ancestor is strictly below it in the partial order (i.e. it
	// is itself an ancestor of that other vertex).
	result := make(map[string]coretypes.VertexName)
	for k, v := range common {
		dominatedByAnother := false
		for k2 := range common {
			if k2 == k {
				continue
			}
			anc2 := d.ancestorsLocked([]coretypes.VertexName{common[k2]})
			if _, ok := anc2[k]; ok {
				dominatedByAnother = true
				break
			}
		}
		if !dominatedByAnother {
			result[k] = v
		}
	}
	d.mu.Unlock()
	return toStatic(result, d.hints(0)), nil
}

// GcaOne returns a single greatest common ancestor of s, preferring
// (deterministically) the lexicographically smallest name among ties.
func (d *Dag) GcaOne(ctx context.Context, s nameset.Set) (coretypes.VertexName, bool, error) {
	all, err := d.GcaAll(ctx, s)
	if err != nil {
		return nil, false, err
	}
	items, err := nameset.Materialize(ctx, all)
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	return items[0], true, nil
}

// FirstAncestorNth walks v's first-parent chain n steps back.
func (d *Dag) FirstAncestorNth(ctx context.Context, v coretypes.VertexName, n int) (coretypes.VertexName, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := v
	for i := 0; i < n; i++ {
		ps, ok := d.parents[cur.Key()]
		if !ok {
			return nil, &coreerrors.NotFound{What: "vertex", Key: cur.String()}
		}
		if len(ps) == 0 {
			return nil, &coreerrors.NotFound{What: "first ancestor", Key: fmt.Sprintf("%s~%d", v, n)}
		}
		cur = ps[0]
	}
	return cur, nil
}

// Sort returns s in topological order (every parent before its children),
// breaking ties by assigned vid ascending, falling back to name order for
// vertices without an assigned vid yet.
func (d *Dag) Sort(ctx context.Context, s nameset.Set) (nameset.Set, error) {
	seeds, err := seedsOf(ctx, s)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	inSet := make(map[string]bool, len(seeds))
	for _, v := range seeds {
		inSet[v.Key()] = true
	}
	indegree := make(map[string]int, len(seeds))
	for _, v := range seeds {
		n := 0
		for _, p := range d.parents[v.Key()] {
			if inSet[p.Key()] {
				n++
			}
		}
		indegree[v.Key()] = n
	}

	vids := make(map[string]coretypes.Vid, len(seeds))
	for _, v := range seeds {
		vid, ok, err := d.ids.FindVertex(ctx, idmapStorageKey(v))
		if err != nil {
			return nil, fmt.Errorf("dag: sort: look up vid for %s: %w", v, err)
		}
		if ok {
			vids[v.Key()] = vid
		}
	}
	less := func(a, b coretypes.VertexName) bool {
		va, aok := vids[a.Key()]
		vb, bok := vids[b.Key()]
		if aok && bok {
			return va < vb
		}
		if aok != bok {
			// Vertices with an assigned vid sort ahead of ones still
			// awaiting a Flush.
			return aok
		}
		return a.String() < b.String()
	}

	var frontier []coretypes.VertexName
	for _, v := range seeds {
		if indegree[v.Key()] == 0 {
			frontier = append(frontier, v)
		}
	}

	var out []coretypes.VertexName
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return less(frontier[i], frontier[j]) })
		v := frontier[0]
		frontier = frontier[1:]
		out = append(out, v)
		for _, c := range d.childrenOf(v) {
			if !inSet[c.Key()] {
				continue
			}
			indegree[c.Key()]--
			if indegree[c.Key()] == 0 {
				frontier = append(frontier, c)
			}
		}
	}
	return nameset.NewStatic(out, d.hints(0)), nil
}

// VertexesByHexPrefix returns up to limit known vertices whose hex
// encoding starts with prefix, in ascending hex order. limit <= 0 means
// unbounded.
func (d *Dag) VertexesByHexPrefix(ctx context.Context, prefix string, limit int) ([]coretypes.VertexName, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix = strings.ToLower(prefix)
	var matches []coretypes.VertexName
	for _, v := range d.known {
		if strings.HasPrefix(v.String(), prefix) {
			matches = append(matches, v)
		}
	}
	sortByKey(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
