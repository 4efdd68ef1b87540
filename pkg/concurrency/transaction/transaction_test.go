package transaction

import (
	"testing"

	"relkit/pkg/primitives"
)

func TestNewTransactionStartsGrowing(t *testing.T) {
	txn := New(1, RepeatableRead)

	if txn.ID() != 1 {
		t.Errorf("ID = %d, want 1", txn.ID())
	}
	if txn.State() != Growing {
		t.Errorf("state = %v, want GROWING", txn.State())
	}
	if txn.IsolationLevel() != RepeatableRead {
		t.Errorf("isolation = %v, want REPEATABLE_READ", txn.IsolationLevel())
	}
}

func TestTableLockBookkeeping(t *testing.T) {
	txn := New(1, RepeatableRead)
	oid := primitives.TableID(7)

	if _, held := txn.HeldTableLock(oid); held {
		t.Error("fresh transaction should hold no table locks")
	}

	txn.AddTableLock(TableIntentionExclusive, oid)
	if !txn.IsTableIntentionExclusiveLocked(oid) {
		t.Error("IX lock not recorded")
	}
	mode, held := txn.HeldTableLock(oid)
	if !held || mode != TableIntentionExclusive {
		t.Errorf("HeldTableLock = %v, %v; want IX, true", mode, held)
	}

	txn.RemoveTableLock(TableIntentionExclusive, oid)
	if _, held := txn.HeldTableLock(oid); held {
		t.Error("removed lock still reported held")
	}
}

func TestRowLockBookkeeping(t *testing.T) {
	txn := New(1, RepeatableRead)
	oid := primitives.TableID(7)
	rid := primitives.NewRID(3, 4)

	txn.AddRowLock(false, oid, rid)
	if !txn.IsRowSharedLocked(oid, rid) {
		t.Error("shared row lock not recorded")
	}
	if txn.IsRowExclusiveLocked(oid, rid) {
		t.Error("shared row lock reported as exclusive")
	}
	if !txn.HoldsRowLocksOn(oid) {
		t.Error("HoldsRowLocksOn should see the shared lock")
	}

	txn.RemoveRowLock(false, oid, rid)
	if txn.HoldsRowLocksOn(oid) {
		t.Error("row lock map not cleaned up after removal")
	}

	txn.AddRowLock(true, oid, rid)
	if !txn.IsRowExclusiveLocked(oid, rid) {
		t.Error("exclusive row lock not recorded")
	}
}

func TestStateTransitions(t *testing.T) {
	txn := New(1, ReadCommitted)

	txn.SetState(Shrinking)
	if txn.State() != Shrinking {
		t.Errorf("state = %v, want SHRINKING", txn.State())
	}
	txn.SetState(Aborted)
	if txn.State() != Aborted {
		t.Errorf("state = %v, want ABORTED", txn.State())
	}
}

func TestRegistryAssignsMonotonicIDs(t *testing.T) {
	reg := NewRegistry()

	t1 := reg.Begin(RepeatableRead)
	t2 := reg.Begin(ReadCommitted)
	if t2.ID() <= t1.ID() {
		t.Errorf("ids not monotonic: %d then %d", t1.ID(), t2.ID())
	}

	if got := reg.Get(t1.ID()); got != t1 {
		t.Error("Get returned wrong transaction")
	}
	reg.Remove(t1.ID())
	if reg.Get(t1.ID()) != nil {
		t.Error("removed transaction still resolvable")
	}
}
