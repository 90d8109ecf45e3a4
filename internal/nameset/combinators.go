package nameset

import (
	"context"

	"github.com/scmcore/engine/internal/coretypes"
)

// genericHintsFromBoth computes the conservative flag intersection shared
// by every binary combinator: only bits both operands agree on survive.
func genericHintsFromBoth(l, r Hints) HintFlags {
	return l.Flags & r.Flags
}

// filterIterator lazily yields items from under that pass keep.
type filterIterator struct {
	ctx   context.Context
	under Iterator
	keep  func(context.Context, coretypes.VertexName) (bool, error)
}

func (f *filterIterator) Next(ctx context.Context) (coretypes.VertexName, bool, error) {
	for {
		v, ok, err := f.under.Next(ctx)
		if err != nil || !ok {
			return nil, ok, err
		}
		pass, err := f.keep(ctx, v)
		if err != nil {
			return nil, false, err
		}
		if pass {
			return v, true, nil
		}
	}
}

// Intersection returns A ∩ B: iteration order follows lhs; an element of
// lhs is yielded iff rhs.Contains it. Hint flags are the bits present in
// both operands; the IdMap token and bounds follow the inheritance rules
// Hints() implements.
func Intersection(lhs, rhs Set) Set {
	return &binaryOp{lhs: lhs, rhs: rhs, kind: opIntersection}
}

// Union returns A ∪ B. Lhs is yielded in full, then rhs filtered to
// exclude anything already in lhs.
func Union(lhs, rhs Set) Set {
	return &binaryOp{lhs: lhs, rhs: rhs, kind: opUnion}
}

// Difference returns A \ B: lhs filtered to exclude anything in rhs.
func Difference(lhs, rhs Set) Set {
	return &binaryOp{lhs: lhs, rhs: rhs, kind: opDifference}
}

type opKind int

const (
	opIntersection opKind = iota
	opUnion
	opDifference
)

type binaryOp struct {
	lhs, rhs Set
	kind     opKind
}

func (b *binaryOp) Hints() Hints {
	lh, rh := b.lhs.Hints(), b.rhs.Hints()
	compatible := rh.IdMapToken != "" && rh.IdMapToken == lh.IdMapToken

	h := Hints{IdMapToken: lh.IdMapToken}
	switch b.kind {
	case opIntersection:
		h.Flags = genericHintsFromBoth(lh, rh)
		if compatible && lh.MinId != nil && rh.MinId != nil {
			h.MinId = maxVid(lh.MinId, rh.MinId)
		} else if compatible {
			h.MinId = lh.MinId
			if h.MinId == nil {
				h.MinId = rh.MinId
			}
		} else {
			h.MinId = lh.MinId
		}
		if compatible && lh.MaxId != nil && rh.MaxId != nil {
			h.MaxId = minVid(lh.MaxId, rh.MaxId)
		} else if compatible {
			h.MaxId = lh.MaxId
			if h.MaxId == nil {
				h.MaxId = rh.MaxId
			}
		} else {
			h.MaxId = lh.MaxId
		}
	case opUnion:
		h.Flags = genericHintsFromBoth(lh, rh) &^ HintFilter
		if compatible {
			h.MinId = minVid(lh.MinId, rh.MinId)
			h.MaxId = maxVid(lh.MaxId, rh.MaxId)
		}
		// incompatible union bounds are left unset: the result may
		// contain ids outside either operand's known range from the
		// side we can't reconcile against.
	case opDifference:
		h.Flags = (lh.Flags &^ HintEmpty) | HintFilter
		if lh.Flags.Has(HintEmpty) {
			h.Flags |= HintEmpty
		}
		h.MinId = lh.MinId
		h.MaxId = lh.MaxId
	}
	return h
}

func (b *binaryOp) Iter(ctx context.Context) (Iterator, error) {
	switch b.kind {
	case opIntersection:
		under, err := b.lhs.Iter(ctx)
		if err != nil {
			return nil, err
		}
		return &filterIterator{ctx: ctx, under: under, keep: b.rhs.Contains}, nil
	case opDifference:
		under, err := b.lhs.Iter(ctx)
		if err != nil {
			return nil, err
		}
		notInRhs := func(ctx context.Context, v coretypes.VertexName) (bool, error) {
			ok, err := b.rhs.Contains(ctx, v)
			return !ok, err
		}
		return &filterIterator{ctx: ctx, under: under, keep: notInRhs}, nil
	case opUnion:
		return b.unionIter(ctx)
	}
	panic("nameset: unreachable op kind")
}

func (b *binaryOp) unionIter(ctx context.Context) (Iterator, error) {
	lhsItems, err := Materialize(ctx, b.lhs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(lhsItems))
	for _, v := range lhsItems {
		seen[v.Key()] = struct{}{}
	}
	rhsIt, err := b.rhs.Iter(ctx)
	if err != nil {
		return nil, err
	}
	var extra []coretypes.VertexName
	for {
		v, ok, err := rhsIt.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if _, dup := seen[v.Key()]; !dup {
			extra = append(extra, v)
			seen[v.Key()] = struct{}{}
		}
	}
	return &sliceIterator{items: append(append([]coretypes.VertexName{}, lhsItems...), extra...)}, nil
}

func (b *binaryOp) IterRev(ctx context.Context) (Iterator, error) {
	// Restartable but not order-optimised in reverse; materialise the
	// forward order and hand back a reversed slice iterator. Correctness
	// over cleverness: reverse iteration isn't on the hot path for set
	// algebra combinators in this engine's call sites (DAG.sort handles
	// the performance-sensitive reverse orderings directly).
	items, err := Materialize(ctx, b)
	if err != nil {
		return nil, err
	}
	rev := make([]coretypes.VertexName, len(items))
	for i, v := range items {
		rev[len(items)-1-i] = v
	}
	return &sliceIterator{items: rev}, nil
}

// Contains has cost O(contains(lhs) + contains(rhs)) for all three
// combinators.
func (b *binaryOp) Contains(ctx context.Context, name coretypes.VertexName) (bool, error) {
	inLhs, err := b.lhs.Contains(ctx, name)
	if err != nil {
		return false, err
	}
	switch b.kind {
	case opIntersection:
		if !inLhs {
			return false, nil
		}
		return b.rhs.Contains(ctx, name)
	case opDifference:
		if !inLhs {
			return false, nil
		}
		inRhs, err := b.rhs.Contains(ctx, name)
		if err != nil {
			return false, err
		}
		return !inRhs, nil
	case opUnion:
		if inLhs {
			return true, nil
		}
		return b.rhs.Contains(ctx, name)
	}
	panic("nameset: unreachable op kind")
}

func (b *binaryOp) Count(ctx context.Context) (int, error) {
	items, err := Materialize(ctx, b)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (b *binaryOp) First(ctx context.Context) (coretypes.VertexName, bool, error) {
	it, err := b.Iter(ctx)
	if err != nil {
		return nil, false, err
	}
	return it.Next(ctx)
}

func (b *binaryOp) Last(ctx context.Context) (coretypes.VertexName, bool, error) {
	items, err := Materialize(ctx, b)
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	return items[len(items)-1], true, nil
}

func (b *binaryOp) IsEmpty(ctx context.Context) (bool, error) {
	if b.Hints().Flags.Has(HintEmpty) {
		return true, nil
	}
	_, ok, err := b.First(ctx)
	return !ok, err
}
