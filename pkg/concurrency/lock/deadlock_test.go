package lock

import (
	"errors"
	"testing"
	"time"

	"relkit/pkg/concurrency/transaction"
	"relkit/pkg/primitives"
)

// blockOnRowLock issues the row lock in a goroutine and returns the result
// channel after giving the request time to enqueue.
func blockOnRowLock(m *Manager, txn *transaction.Transaction, oid primitives.TableID, rid primitives.RID) chan error {
	result := make(chan error, 1)
	go func() { result <- m.LockRow(txn, Exclusive, oid, rid) }()
	time.Sleep(50 * time.Millisecond)
	return result
}

func TestWaitsForGraphConstruction(t *testing.T) {
	m, reg := newTestManager(t)
	oid := primitives.TableID(1)
	row := primitives.NewRID(1, 0)

	holder := reg.Begin(transaction.RepeatableRead)
	waiter := reg.Begin(transaction.RepeatableRead)
	if err := m.LockTable(holder, IntentionExclusive, oid); err != nil {
		t.Fatal(err)
	}
	if err := m.LockTable(waiter, IntentionExclusive, oid); err != nil {
		t.Fatal(err)
	}
	if err := m.LockRow(holder, Exclusive, oid, row); err != nil {
		t.Fatal(err)
	}

	blocked := blockOnRowLock(m, waiter, oid, row)

	m.runCycleDetection()
	edges := m.WaitsForEdges()
	want := [2]primitives.TxnID{waiter.ID(), holder.ID()}
	found := false
	for _, e := range edges {
		if e == want {
			found = true
		}
	}
	if !found {
		t.Errorf("waits-for edges %v missing %v", edges, want)
	}

	// No cycle: nobody aborted, the waiter is still parked.
	select {
	case err := <-blocked:
		t.Fatalf("waiter returned unexpectedly: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.UnlockRow(holder, oid, row); err != nil {
		t.Fatal(err)
	}
	if err := <-blocked; err != nil {
		t.Fatalf("waiter grant failed: %v", err)
	}
}

// TestDeadlockAbortsYoungest is the canonical two-transaction deadlock:
// each holds X on one row and requests X on the other. The detector must
// abort the younger (larger-id) transaction; the older one completes.
func TestDeadlockAbortsYoungest(t *testing.T) {
	m, reg := newTestManager(t)
	oid := primitives.TableID(1)
	rowA := primitives.NewRID(1, 0)
	rowB := primitives.NewRID(1, 1)

	t1 := reg.Begin(transaction.RepeatableRead)
	t2 := reg.Begin(transaction.RepeatableRead)

	for _, txn := range []*transaction.Transaction{t1, t2} {
		if err := m.LockTable(txn, IntentionExclusive, oid); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.LockRow(t1, Exclusive, oid, rowA); err != nil {
		t.Fatal(err)
	}
	if err := m.LockRow(t2, Exclusive, oid, rowB); err != nil {
		t.Fatal(err)
	}

	m.StartDeadlockDetection()

	t1Result := blockOnRowLock(m, t1, oid, rowB)
	t2Result := blockOnRowLock(m, t2, oid, rowA)

	// The younger t2 must be chosen as victim within a detection interval.
	var t2Err error
	select {
	case t2Err = <-t2Result:
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock never resolved")
	}

	var abortErr *TransactionAbortError
	if !errors.As(t2Err, &abortErr) || abortErr.Reason != DeadlockVictim {
		t.Fatalf("t2 result = %v, want deadlock-victim abort", t2Err)
	}
	if t2.State() != transaction.Aborted {
		t.Fatalf("t2 state = %v, want ABORTED", t2.State())
	}

	// Unwinding the victim releases its locks; the survivor completes.
	m.ReleaseAll(t2)
	select {
	case err := <-t1Result:
		if err != nil {
			t.Fatalf("survivor t1 failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("survivor never granted after victim release")
	}
	if t1.State() == transaction.Aborted {
		t.Error("survivor must not be aborted")
	}
}

func TestDetectionIsDeterministicWithoutTicker(t *testing.T) {
	m, reg := newTestManager(t)
	oid := primitives.TableID(1)
	rowA := primitives.NewRID(1, 0)
	rowB := primitives.NewRID(1, 1)

	t1 := reg.Begin(transaction.RepeatableRead)
	t2 := reg.Begin(transaction.RepeatableRead)
	for _, txn := range []*transaction.Transaction{t1, t2} {
		if err := m.LockTable(txn, IntentionExclusive, oid); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.LockRow(t1, Exclusive, oid, rowA); err != nil {
		t.Fatal(err)
	}
	if err := m.LockRow(t2, Exclusive, oid, rowB); err != nil {
		t.Fatal(err)
	}

	t1Result := blockOnRowLock(m, t1, oid, rowB)
	t2Result := blockOnRowLock(m, t2, oid, rowA)

	// Drive one detection tick by hand.
	m.runCycleDetection()

	if err := <-t2Result; err == nil {
		t.Fatal("victim lock request should fail")
	}
	if t2.State() != transaction.Aborted {
		t.Fatalf("t2 state = %v, want ABORTED", t2.State())
	}
	if t1.State() == transaction.Aborted {
		t.Fatal("older transaction chosen as victim")
	}

	m.ReleaseAll(t2)
	if err := <-t1Result; err != nil {
		t.Fatalf("survivor failed: %v", err)
	}
}

func TestNoFalsePositiveWithoutCycle(t *testing.T) {
	m, reg := newTestManager(t)
	oid := primitives.TableID(1)
	row := primitives.NewRID(1, 0)

	t1 := reg.Begin(transaction.RepeatableRead)
	t2 := reg.Begin(transaction.RepeatableRead)
	for _, txn := range []*transaction.Transaction{t1, t2} {
		if err := m.LockTable(txn, IntentionExclusive, oid); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.LockRow(t1, Exclusive, oid, row); err != nil {
		t.Fatal(err)
	}

	blocked := blockOnRowLock(m, t2, oid, row)
	m.runCycleDetection()

	if t1.State() == transaction.Aborted || t2.State() == transaction.Aborted {
		t.Fatal("chain without cycle must not abort anyone")
	}

	if err := m.UnlockRow(t1, oid, row); err != nil {
		t.Fatal(err)
	}
	if err := <-blocked; err != nil {
		t.Fatalf("waiter failed after release: %v", err)
	}
}

func TestThreeWayDeadlock(t *testing.T) {
	m, reg := newTestManager(t)
	oid := primitives.TableID(1)
	rows := []primitives.RID{
		primitives.NewRID(1, 0),
		primitives.NewRID(1, 1),
		primitives.NewRID(1, 2),
	}

	txns := []*transaction.Transaction{
		reg.Begin(transaction.RepeatableRead),
		reg.Begin(transaction.RepeatableRead),
		reg.Begin(transaction.RepeatableRead),
	}
	for i, txn := range txns {
		if err := m.LockTable(txn, IntentionExclusive, oid); err != nil {
			t.Fatal(err)
		}
		if err := m.LockRow(txn, Exclusive, oid, rows[i]); err != nil {
			t.Fatal(err)
		}
	}

	// txn[i] requests the row held by txn[(i+1)%3], closing the cycle.
	results := make([]chan error, 3)
	for i, txn := range txns {
		results[i] = blockOnRowLock(m, txn, oid, rows[(i+1)%3])
	}

	m.runCycleDetection()

	// The youngest member must die; survivors stay parked until the
	// victim's locks are released.
	victim := txns[2]
	if err := <-results[2]; err == nil {
		t.Fatal("youngest transaction should have been aborted")
	}
	if victim.State() != transaction.Aborted {
		t.Fatalf("victim state = %v, want ABORTED", victim.State())
	}
	m.ReleaseAll(victim)

	if err := <-results[1]; err != nil {
		t.Fatalf("txn1 failed: %v", err)
	}
	// txn1 now holds rows[1] and rows[2]; txn0 still waits for rows[1].
	m.ReleaseAll(txns[1])
	if err := <-results[0]; err != nil {
		t.Fatalf("txn0 failed: %v", err)
	}
}
