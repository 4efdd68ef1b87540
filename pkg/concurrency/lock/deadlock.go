package lock

import (
	"sort"
	"time"

	"relkit/pkg/concurrency/transaction"
	"relkit/pkg/logging"
	"relkit/pkg/primitives"
)

// StartDeadlockDetection launches the background detector, which rebuilds
// the waits-for graph every interval and aborts the youngest transaction
// on each cycle. Stop it with Close.
func (m *Manager) StartDeadlockDetection() {
	m.done.Add(1)
	go func() {
		defer m.done.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runCycleDetection()
			}
		}
	}()
}

// waitsForGraph is the per-tick scratch graph: an adjacency map from each
// waiting transaction to the transactions holding the resource it wants.
type waitsForGraph map[primitives.TxnID]map[primitives.TxnID]struct{}

func (g waitsForGraph) addEdge(waiter, holder primitives.TxnID) {
	if g[waiter] == nil {
		g[waiter] = make(map[primitives.TxnID]struct{})
	}
	g[waiter][holder] = struct{}{}
}

// runCycleDetection takes a consistent snapshot of every queue and aborts
// victims until the graph is acyclic. Lock order: waits-for mutex, table
// map mutex, row map mutex, then queue mutexes one at a time.
func (m *Manager) runCycleDetection() {
	m.waitsMutex.Lock()
	m.tableMutex.Lock()
	m.rowMutex.Lock()
	defer func() {
		m.rowMutex.Unlock()
		m.tableMutex.Unlock()
		m.waitsMutex.Unlock()
	}()

	graph := make(waitsForGraph)
	waitingOn := make(map[primitives.TxnID][]*requestQueue)

	collect := func(q *requestQueue) {
		q.mutex.Lock()
		var granted, waiting []primitives.TxnID
		for _, r := range q.requests {
			if r.granted {
				granted = append(granted, r.txnID)
			} else {
				waiting = append(waiting, r.txnID)
			}
		}
		for _, w := range waiting {
			waitingOn[w] = append(waitingOn[w], q)
			for _, g := range granted {
				graph.addEdge(w, g)
			}
		}
		q.mutex.Unlock()
	}

	for _, q := range m.tableLocks {
		collect(q)
	}
	for _, q := range m.rowLocks {
		collect(q)
	}

	m.lastEdges = graph.edgeList()

	for {
		victim, found := findCycleVictim(graph)
		if !found {
			break
		}

		logging.WithTxn(victim).Warn("deadlock detected, aborting youngest transaction")
		if txn := m.registry.Get(victim); txn != nil {
			txn.SetState(transaction.Aborted)
		}
		delete(graph, victim)

		// The victim is parked on a condvar; wake it so it withdraws its
		// request. Its queue mutex is free here, broadcast needs no lock.
		for _, q := range waitingOn[victim] {
			q.cond.Broadcast()
		}
		delete(waitingOn, victim)
	}
}

// findCycleVictim searches the graph for a cycle, iterating start nodes
// and neighbors in ascending txn-id order so detection is deterministic,
// and returns the youngest (largest-id) transaction on the first cycle
// found.
func findCycleVictim(graph waitsForGraph) (primitives.TxnID, bool) {
	nodes := make([]primitives.TxnID, 0, len(graph))
	for id := range graph {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)

	for _, start := range nodes {
		color := make(map[primitives.TxnID]int)
		parent := make(map[primitives.TxnID]primitives.TxnID)

		var dfs func(id primitives.TxnID) (primitives.TxnID, bool)
		dfs = func(id primitives.TxnID) (primitives.TxnID, bool) {
			color[id] = gray
			for _, next := range sortedNeighbors(graph, id) {
				switch color[next] {
				case black:
					continue
				case gray:
					// Cycle next -> ... -> id -> next: walk the parent
					// chain picking the youngest member.
					victim := id
					for cur := id; cur != next; {
						cur = parent[cur]
						if cur > victim {
							victim = cur
						}
					}
					return victim, true
				default:
					parent[next] = id
					if victim, ok := dfs(next); ok {
						return victim, ok
					}
				}
			}
			color[id] = black
			return 0, false
		}

		if victim, ok := dfs(start); ok {
			return victim, true
		}
	}
	return 0, false
}

func sortedNeighbors(graph waitsForGraph, id primitives.TxnID) []primitives.TxnID {
	out := make([]primitives.TxnID, 0, len(graph[id]))
	for next := range graph[id] {
		out = append(out, next)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g waitsForGraph) edgeList() [][2]primitives.TxnID {
	var edges [][2]primitives.TxnID
	for from, tos := range g {
		for to := range tos {
			edges = append(edges, [2]primitives.TxnID{from, to})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// WaitsForEdges returns the edge list of the last detection tick's graph,
// sorted, for tests and the inspector.
func (m *Manager) WaitsForEdges() [][2]primitives.TxnID {
	m.waitsMutex.Lock()
	defer m.waitsMutex.Unlock()
	return append([][2]primitives.TxnID(nil), m.lastEdges...)
}
