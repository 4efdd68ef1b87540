package lock

import (
	"sync"

	"relkit/pkg/primitives"
)

// request is one entry of a resource's FIFO queue. rid is meaningful only
// on row queues.
type request struct {
	txnID   primitives.TxnID
	mode    Mode
	oid     primitives.TableID
	rid     primitives.RID
	granted bool
}

// requestQueue serializes lock requests on one resource. The queue owns
// its mutex and condvar; the maps that store queues are guarded
// separately, and the map lock is always taken before the queue lock.
// upgrading holds the id of the single transaction allowed to be upgrading
// on this resource, or InvalidTxnID.
type requestQueue struct {
	mutex     sync.Mutex
	cond      *sync.Cond
	requests  []*request
	upgrading primitives.TxnID
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{upgrading: primitives.InvalidTxnID}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

// grantable reports whether every request ahead of req (granted or
// pending) is compatible with req's mode. Checking pending requests too
// keeps the queue FIFO-fair: a writer cannot be starved by readers that
// arrived after it. Called with the queue mutex held.
func (q *requestQueue) grantable(req *request) bool {
	for _, r := range q.requests {
		if r == req {
			return true
		}
		if !Compatible(r.mode, req.mode) {
			return false
		}
	}
	return true
}

// findGranted returns the granted request of the transaction, or nil.
// Called with the queue mutex held.
func (q *requestQueue) findGranted(id primitives.TxnID) *request {
	for _, r := range q.requests {
		if r.txnID == id && r.granted {
			return r
		}
	}
	return nil
}

// remove deletes the request from the queue. Called with the queue mutex
// held.
func (q *requestQueue) remove(req *request) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// insertBeforeFirstWaiting places an upgrade request after every granted
// request but ahead of all pending ones. Called with the queue mutex held.
func (q *requestQueue) insertBeforeFirstWaiting(req *request) {
	pos := len(q.requests)
	for i, r := range q.requests {
		if !r.granted {
			pos = i
			break
		}
	}
	q.requests = append(q.requests, nil)
	copy(q.requests[pos+1:], q.requests[pos:])
	q.requests[pos] = req
}
