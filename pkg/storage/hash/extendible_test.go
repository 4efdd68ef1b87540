package hash

import (
	"fmt"
	"math/rand"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestFindOnEmptyTable(t *testing.T) {
	table := NewTable[int, string](4, IntHasher)

	if _, ok := table.Find(42); ok {
		t.Error("empty table should not find anything")
	}
	if table.GlobalDepth() != 0 {
		t.Errorf("fresh table should start at global depth 0, got %d", table.GlobalDepth())
	}
	if table.NumBuckets() != 1 {
		t.Errorf("fresh table should have one bucket, got %d", table.NumBuckets())
	}
}

func TestInsertIsUpsert(t *testing.T) {
	table := NewTable[int, string](4, IntHasher)

	table.Insert(1, "a")
	table.Insert(1, "b")

	got, ok := table.Find(1)
	if !ok || got != "b" {
		t.Errorf("Find(1) = %q, %v; want \"b\", true", got, ok)
	}
	if table.Len() != 1 {
		t.Errorf("upsert should not grow the table, Len = %d", table.Len())
	}
}

func TestRemove(t *testing.T) {
	table := NewTable[int, string](4, IntHasher)

	table.Insert(7, "x")
	if !table.Remove(7) {
		t.Error("Remove of present key should report true")
	}
	if table.Remove(7) {
		t.Error("Remove of absent key should report false")
	}
	if _, ok := table.Find(7); ok {
		t.Error("removed key still findable")
	}
}

// TestSplitSequence drives the canonical split scenario with an identity
// hash so bucket placement is exact: bucket size 2, keys 1..5 end with
// global depth 2 and three buckets.
func TestSplitSequence(t *testing.T) {
	table := NewTable[int, string](2, IdentityHasher)

	values := []string{"a", "b", "c", "d", "e"}
	for i, v := range values {
		table.Insert(i+1, v)
	}

	if got := table.GlobalDepth(); got != 2 {
		t.Errorf("global depth = %d, want 2", got)
	}
	if got := table.NumBuckets(); got != 3 {
		t.Errorf("num buckets = %d, want 3", got)
	}
	for i, want := range values {
		got, ok := table.Find(i + 1)
		if !ok || got != want {
			t.Errorf("Find(%d) = %q, %v; want %q, true", i+1, got, ok, want)
		}
	}
}

// TestDirectoryInvariant checks, after a randomized workload, that the
// directory has 2^globalDepth slots and every local depth is bounded by
// the global depth.
func TestDirectoryInvariant(t *testing.T) {
	table := NewTable[int, int](4, IntHasher)
	rng := rand.New(rand.NewSource(7))

	inserted := make(map[int]int)
	for i := 0; i < 2000; i++ {
		k := rng.Intn(500)
		switch rng.Intn(3) {
		case 0, 1:
			table.Insert(k, i)
			inserted[k] = i
		case 2:
			removed := table.Remove(k)
			if _, present := inserted[k]; present != removed {
				t.Fatalf("Remove(%d) = %v but presence was %v", k, removed, present)
			}
			delete(inserted, k)
		}
	}

	global := table.GlobalDepth()
	dirLen := 1 << global
	for i := 0; i < dirLen; i++ {
		if local := table.LocalDepth(i); local > global {
			t.Errorf("slot %d: local depth %d exceeds global depth %d", i, local, global)
		}
	}

	for k, want := range inserted {
		got, ok := table.Find(k)
		if !ok || got != want {
			t.Errorf("Find(%d) = %d, %v; want %d, true", k, got, ok, want)
		}
	}
	if table.Len() != len(inserted) {
		t.Errorf("Len = %d, want %d", table.Len(), len(inserted))
	}
}

func TestRepeatedCollisionsForceMultipleSplits(t *testing.T) {
	// Identity hash, bucket size 2: keys congruent mod 16 land in the same
	// bucket until the directory has grown past four bits.
	table := NewTable[int, int](2, IdentityHasher)
	keys := []int{0, 16, 32, 48, 64}
	for _, k := range keys {
		table.Insert(k, k)
	}

	if got := table.GlobalDepth(); got < 4 {
		t.Errorf("global depth = %d, expected at least 4 after 5 colliding keys", got)
	}
	for _, k := range keys {
		if got, ok := table.Find(k); !ok || got != k {
			t.Errorf("Find(%d) = %d, %v; want %d, true", k, got, ok, k)
		}
	}
}

func TestConcurrentMixedWorkload(t *testing.T) {
	table := NewTable[string, int](8, StringHasher)

	const workers = 8
	const perWorker = 500

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				table.Insert(key, i)
				if got, ok := table.Find(key); !ok || got != i {
					return fmt.Errorf("lost own write for %s", key)
				}
				if i%10 == 0 {
					table.Remove(key)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	want := workers * (perWorker - perWorker/10)
	if got := table.Len(); got != want {
		t.Errorf("Len = %d, want %d", got, want)
	}
}
