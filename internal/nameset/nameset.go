// Package nameset implements the lazy set algebra over vertex names:
// Set, Hints, and the intersection/union/difference combinators. The
// combinators compute and propagate Hints (IdMap compatibility decides
// which id bounds carry over), but the only shortcut they take from a
// hint is IsEmpty answering from HintEmpty; iteration, Contains and Count
// always take the general path.
package nameset

import (
	"context"

	"github.com/scmcore/engine/internal/coretypes"
)

// HintFlags is an additive bag of advisory properties a Set may carry.
type HintFlags uint8

const (
	// HintEmpty marks a set known to be empty without iterating it.
	HintEmpty HintFlags = 1 << iota
	// HintIdDesc marks iteration order as descending vertex id.
	HintIdDesc
	// HintIdAsc marks iteration order as ascending vertex id.
	HintIdAsc
	// HintTopoDesc marks iteration order as reverse-topological (a
	// vertex always precedes its ancestors).
	HintTopoDesc
	// HintFilter marks a set built by filtering another set (informs
	// combinators that count()/contains() may be expensive relative to
	// iteration).
	HintFilter
)

func (f HintFlags) Has(bit HintFlags) bool { return f&bit != 0 }

// Hints is advisory metadata attached to a Set. Correctness of any
// combinator must never depend on a Hints value being accurate; it only
// selects a faster strategy when present and consistent.
type Hints struct {
	Flags HintFlags
	// MinId/MaxId bound the vertex ids present in the set, if known.
	MinId, MaxId *coretypes.Vid
	// IdMapToken identifies the IdMap instance that produced the ids
	// backing this set, if any. Two sets are "IdMap compatible" when
	// their tokens are equal and non-empty.
	IdMapToken string
}

// compatibleWith reports whether h and other were produced against the same
// IdMap instance.
func (h Hints) compatibleWith(other Hints) bool {
	return h.IdMapToken != "" && h.IdMapToken == other.IdMapToken
}

func minVid(a, b *coretypes.Vid) *coretypes.Vid {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}

func maxVid(a, b *coretypes.Vid) *coretypes.Vid {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a > *b {
		return a
	}
	return b
}

// Iterator yields vertex names one at a time. A nil error with ok=false
// signals the end of the sequence.
type Iterator interface {
	Next(ctx context.Context) (name coretypes.VertexName, ok bool, err error)
}

// Set is a lazy, restartable sequence of vertex names. "Restartable" means
// Iter/IterRev may be called any number of times and each call starts a
// fresh traversal; implementations must not consume shared state across
// calls.
type Set interface {
	Iter(ctx context.Context) (Iterator, error)
	IterRev(ctx context.Context) (Iterator, error)
	Contains(ctx context.Context, name coretypes.VertexName) (bool, error)
	Count(ctx context.Context) (int, error)
	First(ctx context.Context) (coretypes.VertexName, bool, error)
	Last(ctx context.Context) (coretypes.VertexName, bool, error)
	IsEmpty(ctx context.Context) (bool, error)
	Hints() Hints
}

// sliceIterator walks a pre-materialised slice; used both directly by
// StaticSet and as the general fallback inside combinators.
type sliceIterator struct {
	items []coretypes.VertexName
	pos   int
}

func (it *sliceIterator) Next(ctx context.Context) (coretypes.VertexName, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.items) {
		return nil, false, nil
	}
	v := it.items[it.pos]
	it.pos++
	return v, true, nil
}

// StaticSet is a Set over a fixed, already-known slice of vertex names.
// Callers supply hints describing the order the slice is already in (e.g.
// a DAG query that returns ids in descending order sets HintIdDesc).
type StaticSet struct {
	items []coretypes.VertexName
	index map[string]int
	hints Hints
}

// NewStatic wraps items (assumed to already satisfy any order hints
// passed) into a Set.
func NewStatic(items []coretypes.VertexName, hints Hints) *StaticSet {
	idx := make(map[string]int, len(items))
	for i, v := range items {
		idx[v.Key()] = i
	}
	if len(items) == 0 {
		hints.Flags |= HintEmpty
	}
	return &StaticSet{items: items, index: idx, hints: hints}
}

func (s *StaticSet) Iter(ctx context.Context) (Iterator, error) {
	return &sliceIterator{items: s.items}, nil
}

func (s *StaticSet) IterRev(ctx context.Context) (Iterator, error) {
	rev := make([]coretypes.VertexName, len(s.items))
	for i, v := range s.items {
		rev[len(s.items)-1-i] = v
	}
	return &sliceIterator{items: rev}, nil
}

func (s *StaticSet) Contains(ctx context.Context, name coretypes.VertexName) (bool, error) {
	_, ok := s.index[name.Key()]
	return ok, ctx.Err()
}

func (s *StaticSet) Count(ctx context.Context) (int, error) { return len(s.items), ctx.Err() }

func (s *StaticSet) First(ctx context.Context) (coretypes.VertexName, bool, error) {
	if len(s.items) == 0 {
		return nil, false, nil
	}
	return s.items[0], true, nil
}

func (s *StaticSet) Last(ctx context.Context) (coretypes.VertexName, bool, error) {
	if len(s.items) == 0 {
		return nil, false, nil
	}
	return s.items[len(s.items)-1], true, nil
}

func (s *StaticSet) IsEmpty(ctx context.Context) (bool, error) { return len(s.items) == 0, ctx.Err() }

func (s *StaticSet) Hints() Hints { return s.hints }

// Materialize drains a Set's forward iterator into a slice, e.g. to hand
// to a caller expecting a concrete list.
func Materialize(ctx context.Context, s Set) ([]coretypes.VertexName, error) {
	it, err := s.Iter(ctx)
	if err != nil {
		return nil, err
	}
	var out []coretypes.VertexName
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
