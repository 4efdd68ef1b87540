package btree

import (
	"testing"

	"relkit/pkg/primitives"
)

func newLeafForTest(maxSize int) leafNode[int64, int64] {
	data := make([]byte, primitives.PageSize)
	l := leafNode[int64, int64]{
		node: node{data: data},
		kc:   Int64Codec{},
		vc:   Int64Codec{},
	}
	l.init(kindLeaf, 7, primitives.InvalidPageID, maxSize)
	return l
}

func newInternalForTest(maxSize int) internalNode[int64] {
	data := make([]byte, primitives.PageSize)
	in := internalNode[int64]{
		node: node{data: data},
		kc:   Int64Codec{},
	}
	in.init(kindInternal, 9, primitives.InvalidPageID, maxSize)
	return in
}

func TestNodeHeaderRoundTrip(t *testing.T) {
	l := newLeafForTest(8)

	if !l.isLeaf() {
		t.Error("leaf kind lost")
	}
	if l.pageID() != 7 {
		t.Errorf("pageID = %d, want 7", l.pageID())
	}
	if !l.isRoot() {
		t.Error("node with invalid parent must be root")
	}
	if l.maxSize() != 8 {
		t.Errorf("maxSize = %d, want 8", l.maxSize())
	}

	l.setParent(3)
	if l.parent() != 3 || l.isRoot() {
		t.Error("parent update lost")
	}
	l.setNext(12)
	if l.next() != 12 {
		t.Errorf("next = %d, want 12", l.next())
	}
}

func TestLeafInsertKeepsOrder(t *testing.T) {
	l := newLeafForTest(8)
	cmp := CompareInt64

	for _, k := range []int64{30, 10, 20, 40} {
		l.insertAt(l.insertIndex(k, cmp), k, k*100)
	}

	want := []int64{10, 20, 30, 40}
	if l.size() != len(want) {
		t.Fatalf("size = %d, want %d", l.size(), len(want))
	}
	for i, k := range want {
		if l.keyAt(i) != k {
			t.Errorf("keyAt(%d) = %d, want %d", i, l.keyAt(i), k)
		}
		if l.valueAt(i) != k*100 {
			t.Errorf("valueAt(%d) = %d, want %d", i, l.valueAt(i), k*100)
		}
	}

	if got := l.indexOf(20, cmp); got != 1 {
		t.Errorf("indexOf(20) = %d, want 1", got)
	}
	if got := l.indexOf(25, cmp); got != -1 {
		t.Errorf("indexOf(25) = %d, want -1", got)
	}
}

func TestLeafRemoveShiftsEntries(t *testing.T) {
	l := newLeafForTest(8)
	for i := int64(1); i <= 4; i++ {
		l.insertAt(int(i-1), i, i)
	}

	l.removeAt(1)
	want := []int64{1, 3, 4}
	if l.size() != len(want) {
		t.Fatalf("size = %d, want %d", l.size(), len(want))
	}
	for i, k := range want {
		if l.keyAt(i) != k {
			t.Errorf("keyAt(%d) = %d, want %d", i, l.keyAt(i), k)
		}
	}
}

func TestInternalLookup(t *testing.T) {
	in := newInternalForTest(4)
	cmp := CompareInt64

	// Children: (-inf,10) -> 100, [10,20) -> 200, [20,+inf) -> 300.
	in.setChildAt(0, 100)
	in.setSize(1)
	in.insertAt(1, 10, 200)
	in.insertAt(2, 20, 300)

	cases := []struct {
		key  int64
		want primitives.PageID
	}{
		{5, 100},
		{10, 200},
		{15, 200},
		{20, 300},
		{99, 300},
	}
	for _, c := range cases {
		if got := in.lookup(c.key, cmp); got != c.want {
			t.Errorf("lookup(%d) = %d, want %d", c.key, got, c.want)
		}
	}

	if got := in.childIndex(200); got != 1 {
		t.Errorf("childIndex(200) = %d, want 1", got)
	}
	if got := in.childIndex(999); got != -1 {
		t.Errorf("childIndex(999) = %d, want -1", got)
	}
}
