// Package lock implements multi-granularity two-phase locking over tables
// and rows: intention modes, FIFO request queues with upgrades, isolation
// level enforcement, and a background deadlock detector that aborts the
// youngest transaction on each waits-for cycle.
package lock

import (
	"fmt"

	"relkit/pkg/concurrency/transaction"
)

// Mode is a lock mode of the standard multi-granularity lattice.
type Mode int

const (
	IntentionShared Mode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Compatible reports whether a lock in mode held coexists with a request
// in mode requested. The relation is symmetric.
func Compatible(held, requested Mode) bool {
	switch held {
	case IntentionShared:
		return requested != Exclusive
	case IntentionExclusive:
		return requested == IntentionShared || requested == IntentionExclusive
	case Shared:
		return requested == IntentionShared || requested == Shared
	case SharedIntentionExclusive:
		return requested == IntentionShared
	case Exclusive:
		return false
	default:
		return false
	}
}

// UpgradeAllowed reports whether a held lock may be upgraded to the
// requested mode:
//
//	IS  -> S, X, IX, SIX
//	S   -> X, SIX
//	IX  -> X, SIX
//	SIX -> X
func UpgradeAllowed(held, requested Mode) bool {
	switch held {
	case IntentionShared:
		return requested == Shared || requested == Exclusive ||
			requested == IntentionExclusive || requested == SharedIntentionExclusive
	case Shared, IntentionExclusive:
		return requested == Exclusive || requested == SharedIntentionExclusive
	case SharedIntentionExclusive:
		return requested == Exclusive
	default:
		return false
	}
}

// tableLockMode maps a lock mode onto the transaction's per-mode table
// lock sets.
func tableLockMode(m Mode) transaction.TableLockMode {
	switch m {
	case IntentionShared:
		return transaction.TableIntentionShared
	case IntentionExclusive:
		return transaction.TableIntentionExclusive
	case Shared:
		return transaction.TableShared
	case SharedIntentionExclusive:
		return transaction.TableSharedIntentionExclusive
	default:
		return transaction.TableExclusive
	}
}

// modeOfTableLock is the inverse of tableLockMode.
func modeOfTableLock(m transaction.TableLockMode) Mode {
	switch m {
	case transaction.TableIntentionShared:
		return IntentionShared
	case transaction.TableIntentionExclusive:
		return IntentionExclusive
	case transaction.TableShared:
		return Shared
	case transaction.TableSharedIntentionExclusive:
		return SharedIntentionExclusive
	default:
		return Exclusive
	}
}
