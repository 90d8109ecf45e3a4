package nameset

import (
	"context"
	"testing"

	"github.com/scmcore/engine/internal/coretypes"
)

func vn(b byte) coretypes.VertexName { return coretypes.VertexName{b} }

func setOf(bs ...byte) Set {
	items := make([]coretypes.VertexName, len(bs))
	for i, b := range bs {
		items[i] = vn(b)
	}
	return NewStatic(items, Hints{})
}

func naiveEnumerate(ctx context.Context, t *testing.T, s Set) map[string]bool {
	t.Helper()
	items, err := Materialize(ctx, s)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	out := make(map[string]bool, len(items))
	for _, v := range items {
		out[v.Key()] = true
	}
	return out
}

func TestIntersectionLaw(t *testing.T) {
	ctx := context.Background()
	a := setOf(1, 2, 3, 4)
	b := setOf(3, 4, 5, 6)

	inter := Intersection(a, b)
	countInter, err := inter.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	ca, _ := a.Count(ctx)
	cb, _ := b.Count(ctx)
	if countInter > ca || countInter > cb {
		t.Fatalf("count(A∩B)=%d should be <= min(|A|=%d,|B|=%d)", countInter, ca, cb)
	}

	interSet := naiveEnumerate(ctx, t, inter)
	// {x in A : x in A∩B} = {x in B : x in A∩B}
	for key := range interSet {
		v := coretypes.VertexName(key)
		inA, _ := a.Contains(ctx, v)
		inB, _ := b.Contains(ctx, v)
		if !inA || !inB {
			t.Fatalf("intersection element %x must be in both operands (inA=%v inB=%v)", v, inA, inB)
		}
	}
	if len(interSet) != 2 {
		t.Fatalf("expected {3,4}, got %v", interSet)
	}
}

func TestIntersectionContainsEquivalence(t *testing.T) {
	ctx := context.Background()
	a := setOf(1, 2, 3)
	b := setOf(2, 3, 4)
	inter := Intersection(a, b)

	for x := byte(0); x <= 5; x++ {
		v := vn(x)
		want, _ := a.Contains(ctx, v)
		if want {
			inB, _ := b.Contains(ctx, v)
			want = inB
		}
		got, err := inter.Contains(ctx, v)
		if err != nil {
			t.Fatalf("contains: %v", err)
		}
		if got != want {
			t.Fatalf("Contains(%d): got %v want %v", x, got, want)
		}
	}
}

func TestUnionAndDifferenceAgreeWithNaive(t *testing.T) {
	ctx := context.Background()
	a := setOf(1, 2, 3)
	b := setOf(3, 4, 5)

	union := naiveEnumerate(ctx, t, Union(a, b))
	wantUnion := map[string]bool{
		vn(1).Key(): true, vn(2).Key(): true, vn(3).Key(): true, vn(4).Key(): true, vn(5).Key(): true,
	}
	if len(union) != len(wantUnion) {
		t.Fatalf("union = %v, want %v", union, wantUnion)
	}
	for k := range wantUnion {
		if !union[k] {
			t.Fatalf("union missing %x", k)
		}
	}

	diff := naiveEnumerate(ctx, t, Difference(a, b))
	wantDiff := map[string]bool{vn(1).Key(): true, vn(2).Key(): true}
	if len(diff) != len(wantDiff) {
		t.Fatalf("difference = %v, want %v", diff, wantDiff)
	}
}

func TestIntersectionOrderFollowsLeftOperand(t *testing.T) {
	ctx := context.Background()
	a := setOf(5, 3, 1) // deliberately unsorted order
	b := setOf(1, 3, 9)

	items, err := Materialize(ctx, Intersection(a, b))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !(items[0].Equal(vn(3)) && items[1].Equal(vn(1))) {
		t.Fatalf("expected intersection to preserve lhs order [3,1], got %v", items)
	}
}

func TestIntersectionWithEmptyOperandIsEmpty(t *testing.T) {
	empty := NewStatic(nil, Hints{})
	if !empty.Hints().Flags.Has(HintEmpty) {
		t.Fatalf("expected empty static set to carry HintEmpty")
	}
	full := setOf(1, 2)
	inter := Intersection(empty, full)
	if ok, _ := inter.IsEmpty(context.Background()); !ok {
		t.Fatalf("expected intersection with empty set to be empty")
	}
}
