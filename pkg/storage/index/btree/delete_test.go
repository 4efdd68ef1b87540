package btree

import (
	"math/rand"
	"testing"
)

func TestRemoveFromSingleLeaf(t *testing.T) {
	tree := newTestTree(t, 4, 3)

	tree.Insert(1, 100)
	tree.Insert(2, 200)
	if err := tree.Remove(1); err != nil {
		t.Fatalf("Remove(1) failed: %v", err)
	}

	if _, found, _ := tree.GetValue(1); found {
		t.Error("removed key still present")
	}
	mustContain(t, tree, []int64{2})
}

func TestRemoveLastKeyDropsTree(t *testing.T) {
	tree := newTestTree(t, 4, 3)

	tree.Insert(1, 100)
	if err := tree.Remove(1); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if !tree.IsEmpty() {
		t.Error("tree with all keys removed should be empty")
	}
	if it := tree.Begin(); it.Valid() {
		t.Error("iterator over emptied tree should be exhausted")
	}

	// The emptied tree must accept inserts again.
	if ok, err := tree.Insert(5, 500); err != nil || !ok {
		t.Fatalf("reinsert after emptying = %v, %v", ok, err)
	}
	mustContain(t, tree, []int64{5})
}

func TestRemoveAbsentKeyIsNoOp(t *testing.T) {
	tree := newTestTree(t, 4, 3)
	for _, k := range seq(1, 10) {
		tree.Insert(k, k*100)
	}

	if err := tree.Remove(99); err != nil {
		t.Fatalf("Remove of absent key failed: %v", err)
	}
	mustIterate(t, tree, seq(1, 10))
}

// TestDeleteUnderflow builds the sequential tree and deletes its lower
// half, forcing redistributions, merges, and root collapses along the way.
func TestDeleteUnderflow(t *testing.T) {
	tree := newTestTree(t, 4, 3)
	for _, k := range seq(1, 20) {
		if ok, err := tree.Insert(k, k*100); err != nil || !ok {
			t.Fatalf("Insert(%d) = %v, %v", k, ok, err)
		}
	}

	for _, k := range seq(1, 10) {
		if err := tree.Remove(k); err != nil {
			t.Fatalf("Remove(%d) failed: %v\n%s", k, err, tree.String())
		}
		if _, found, _ := tree.GetValue(k); found {
			t.Fatalf("key %d still present after Remove", k)
		}
	}

	mustContain(t, tree, seq(11, 20))
	mustIterate(t, tree, seq(11, 20))
}

func TestDeleteDescendingDrainsTree(t *testing.T) {
	tree := newTestTree(t, 4, 3)
	for _, k := range seq(1, 20) {
		tree.Insert(k, k*100)
	}

	for k := int64(20); k >= 1; k-- {
		if err := tree.Remove(k); err != nil {
			t.Fatalf("Remove(%d) failed: %v\n%s", k, err, tree.String())
		}
		if k > 1 {
			mustIterate(t, tree, seq(1, k-1))
		}
	}
	if !tree.IsEmpty() {
		t.Errorf("tree should be empty after draining:\n%s", tree.String())
	}
}

func TestRandomizedInsertDeleteChurn(t *testing.T) {
	tree := newTestTree(t, 6, 5)
	rng := rand.New(rand.NewSource(99))

	present := make(map[int64]bool)
	for i := 0; i < 3000; i++ {
		k := int64(rng.Intn(300))
		if rng.Intn(2) == 0 {
			ok, err := tree.Insert(k, k*100)
			if err != nil {
				t.Fatalf("Insert(%d) failed: %v", k, err)
			}
			if ok == present[k] {
				t.Fatalf("Insert(%d) = %v but key presence was %v", k, ok, present[k])
			}
			present[k] = true
		} else {
			if err := tree.Remove(k); err != nil {
				t.Fatalf("Remove(%d) failed: %v", k, err)
			}
			delete(present, k)
		}
	}

	var want []int64
	for k := int64(0); k < 300; k++ {
		if present[k] {
			want = append(want, k)
		}
	}
	mustContain(t, tree, want)
	mustIterate(t, tree, want)
}
