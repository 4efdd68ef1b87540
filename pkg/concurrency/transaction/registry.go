package transaction

import (
	"sync"
	"sync/atomic"

	"relkit/pkg/primitives"
)

// Registry tracks live transactions by id and assigns new ids
// monotonically, so a larger id always means a younger transaction. The
// deadlock detector resolves victim ids through it.
type Registry struct {
	mutex  sync.RWMutex
	nextID atomic.Int64
	txns   map[primitives.TxnID]*Transaction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		txns: make(map[primitives.TxnID]*Transaction),
	}
}

// Begin creates and registers a new transaction.
func (r *Registry) Begin(level IsolationLevel) *Transaction {
	id := primitives.TxnID(r.nextID.Add(1))
	txn := New(id, level)

	r.mutex.Lock()
	r.txns[id] = txn
	r.mutex.Unlock()
	return txn
}

// Get returns the transaction with the given id, or nil.
func (r *Registry) Get(id primitives.TxnID) *Transaction {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.txns[id]
}

// Remove drops a finished transaction from the registry.
func (r *Registry) Remove(id primitives.TxnID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.txns, id)
}
