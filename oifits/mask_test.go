package oifits

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIndexMask_Basics(t *testing.T) {
	m := NewIndexMask(5, 3, 1, 9, -1, 1)
	if m.Len() != 5 || m.Cardinality() != 2 {
		t.Fatalf("mask %s: len %d, cardinality %d", m, m.Len(), m.Cardinality())
	}
	if diff := cmp.Diff([]int{1, 3}, m.Indices()); diff != "" {
		t.Errorf("Indices (-want +got):\n%s", diff)
	}
	if !m.Contains(3) || m.Contains(0) || m.Contains(9) {
		t.Errorf("Contains is wrong for %s", m)
	}
	if m.String() != "2/5[1 3]" {
		t.Errorf("String = %q", m.String())
	}
}

func TestIndexMask_EmptyAndFull(t *testing.T) {
	if e := NewIndexMask(4); !e.IsEmpty() || e.IsFull() {
		t.Errorf("empty mask: empty=%v full=%v", e.IsEmpty(), e.IsFull())
	}
	full := FullMask(4)
	if !full.IsFull() || full.IsEmpty() {
		t.Errorf("full mask: empty=%v full=%v", full.IsEmpty(), full.IsFull())
	}
	if !full.Equal(NewIndexMask(4, 0, 1, 2, 3)) {
		t.Error("FullMask differs from the enumerated mask")
	}
	if z := FullMask(0); !z.IsFull() || !z.IsEmpty() {
		t.Error("a zero-length mask is both empty and full")
	}
}

func TestIndexMask_Interned(t *testing.T) {
	a := NewIndexMask(100, 5, 7, 11)
	b := NewIndexMask(100, 11, 7, 5)
	if a != b {
		t.Error("identical masks should be the same pointer")
	}
	c := NewIndexMask(101, 5, 7, 11)
	if a == c || a.Equal(c) {
		t.Error("masks of different lengths must differ")
	}
}

func TestIndexMask_And(t *testing.T) {
	a := NewIndexMask(6, 0, 1, 2, 3)
	b := NewIndexMask(6, 2, 3, 4)
	got := a.And(b)
	if !got.Equal(NewIndexMask(6, 2, 3)) {
		t.Errorf("And = %s", got)
	}
	if a.Cardinality() != 4 {
		t.Error("And mutated its receiver")
	}
}

func TestIndexMask_EqualNil(t *testing.T) {
	var n *IndexMask
	if !n.Equal(nil) {
		t.Error("nil masks are equal")
	}
	if n.Equal(FullMask(1)) || FullMask(1).Equal(nil) {
		t.Error("nil mask equals a real one")
	}
}
