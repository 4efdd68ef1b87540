package btree

import (
	"relkit/pkg/buffer"
	"relkit/pkg/primitives"
)

// Remove deletes the key if present. Underflowing nodes borrow from a
// sibling when possible and merge otherwise, recursing up the held latch
// stack; the root collapses when a leaf root empties or an internal root
// is left with a single child.
func (t *Tree[K, V]) Remove(key K) error {
	t.rootLatch.Lock()
	if t.rootID == primitives.InvalidPageID {
		t.rootLatch.Unlock()
		return nil
	}

	stack := t.newLatchStack()
	if err := t.descendWrite(key, stack, t.safeForDelete); err != nil {
		stack.releaseAll(t.pool)
		return err
	}

	leafFrame := stack.top()
	leaf := t.leaf(leafFrame)
	idx := leaf.indexOf(key, t.cmp)
	if idx < 0 {
		stack.releaseAll(t.pool)
		return nil
	}
	leaf.removeAt(idx)
	stack.markDirty(leafFrame)

	return t.rebalance(stack)
}

// rebalance restores size invariants from the stack's top upward. Each
// iteration either finishes (no underflow, or a redistribution), collapses
// the root, or merges into a sibling and continues with the parent.
func (t *Tree[K, V]) rebalance(stack *latchStack) error {
	for {
		frame := stack.top()
		n := t.asNode(frame)

		if n.isRoot() {
			return t.collapseRoot(stack)
		}

		minSize := t.internalMinSize()
		if n.isLeaf() {
			minSize = t.leafMinSize()
		}
		if n.size() >= minSize {
			stack.releaseAll(t.pool)
			return nil
		}

		done, err := t.fixUnderflow(stack)
		if err != nil || done {
			return err
		}
	}
}

// collapseRoot handles the root's relaxed size rules: an emptied leaf root
// drops the tree, an internal root with one child promotes that child.
func (t *Tree[K, V]) collapseRoot(stack *latchStack) error {
	frame := stack.top()
	n := t.asNode(frame)
	pid := frame.PageID()

	if n.isLeaf() {
		if n.size() > 0 {
			stack.releaseAll(t.pool)
			return nil
		}
		err := t.setRoot(primitives.InvalidPageID)
		stack.releaseAll(t.pool)
		t.pool.DeletePage(pid)
		return err
	}

	if n.size() > 1 {
		stack.releaseAll(t.pool)
		return nil
	}

	childID := t.internal(frame).childAt(0)
	childFrame, err := t.pool.FetchPage(childID)
	if err != nil {
		stack.releaseAll(t.pool)
		return err
	}
	childFrame.WLatch()
	t.asNode(childFrame).setParent(primitives.InvalidPageID)
	childFrame.WUnlatch()
	t.pool.UnpinPage(childID, true)

	err = t.setRoot(childID)
	stack.releaseAll(t.pool)
	t.pool.DeletePage(pid)
	return err
}

// fixUnderflow merges or redistributes the underflowing top of the stack
// with a sibling. Returns done=true when the operation finished (a
// redistribution); after a merge the parent became the top and the caller
// loops.
func (t *Tree[K, V]) fixUnderflow(stack *latchStack) (bool, error) {
	nodeFrame, _ := stack.pop()
	parentFrame := stack.top()
	parent := t.internal(parentFrame)

	i := parent.childIndex(nodeFrame.PageID())
	// Prefer the left sibling; the leftmost child borrows from the right.
	var sibIdx, sepIdx int
	siblingLeft := true
	if i == 0 {
		sibIdx, sepIdx = 1, 1
		siblingLeft = false
	} else {
		sibIdx, sepIdx = i-1, i
	}
	sepKey := parent.keyAt(sepIdx)

	sibFrame, err := t.pool.FetchPage(parent.childAt(sibIdx))
	if err != nil {
		t.releaseFrame(nodeFrame, true)
		stack.releaseAll(t.pool)
		return true, err
	}
	sibFrame.WLatch()

	isLeaf := t.asNode(nodeFrame).isLeaf()
	capacity := t.internalMax
	if isLeaf {
		capacity = t.leafMax - 1
	}

	if t.asNode(sibFrame).size()+t.asNode(nodeFrame).size() <= capacity {
		if err := t.merge(stack, parentFrame, nodeFrame, sibFrame, siblingLeft, sepKey, sepIdx); err != nil {
			return true, err
		}
		return false, nil
	}

	t.redistribute(stack, parentFrame, nodeFrame, sibFrame, siblingLeft, sepKey, sepIdx)
	return true, nil
}

// merge concatenates node and sibling into the left of the two, unlinks
// and deletes the right page, and removes the separator from the parent.
// The parent stays on the stack for the caller's next rebalance round.
func (t *Tree[K, V]) merge(
	stack *latchStack,
	parentFrame, nodeFrame, sibFrame *buffer.Frame,
	siblingLeft bool,
	sepKey K,
	sepIdx int,
) error {
	leftF, rightF := sibFrame, nodeFrame
	if !siblingLeft {
		leftF, rightF = nodeFrame, sibFrame
	}

	if t.asNode(leftF).isLeaf() {
		left, right := t.leaf(leftF), t.leaf(rightF)
		leftSize, rightSize := left.size(), right.size()
		for i := 0; i < rightSize; i++ {
			left.setEntryAt(leftSize+i, right.keyAt(i), right.valueAt(i))
		}
		left.setSize(leftSize + rightSize)
		left.setNext(right.next())
	} else {
		left, right := t.internal(leftF), t.internal(rightF)
		leftSize, rightSize := left.size(), right.size()
		// The right node's slot-0 key is undefined; the parent separator
		// becomes the key over its first child.
		right.setKeyAt(0, sepKey)
		for i := 0; i < rightSize; i++ {
			left.setEntryAt(leftSize+i, right.keyAt(i), right.childAt(i))
		}
		left.setSize(leftSize + rightSize)

		leftID := left.pageID()
		for i := 0; i < rightSize; i++ {
			childFrame, err := t.pool.FetchPage(left.childAt(leftSize + i))
			if err != nil {
				t.releaseFrame(leftF, true)
				t.releaseFrame(rightF, true)
				stack.releaseAll(t.pool)
				return err
			}
			childFrame.WLatch()
			t.asNode(childFrame).setParent(leftID)
			childFrame.WUnlatch()
			t.pool.UnpinPage(childFrame.PageID(), true)
		}
	}

	rightPid := rightF.PageID()
	t.releaseFrame(leftF, true)
	t.releaseFrame(rightF, true)
	t.pool.DeletePage(rightPid)

	parent := t.internal(parentFrame)
	parent.removeAt(sepIdx)
	stack.markDirty(parentFrame)
	return nil
}

// redistribute borrows one entry from the sibling into the underflowing
// node and refreshes the parent separator. Left sibling lends its last
// entry; a right sibling lends its first.
func (t *Tree[K, V]) redistribute(
	stack *latchStack,
	parentFrame, nodeFrame, sibFrame *buffer.Frame,
	siblingLeft bool,
	sepKey K,
	sepIdx int,
) {
	parent := t.internal(parentFrame)

	if t.asNode(nodeFrame).isLeaf() {
		nodeLeaf, sibLeaf := t.leaf(nodeFrame), t.leaf(sibFrame)
		if siblingLeft {
			last := sibLeaf.size() - 1
			k, v := sibLeaf.keyAt(last), sibLeaf.valueAt(last)
			sibLeaf.setSize(last)
			nodeLeaf.insertAt(0, k, v)
			parent.setKeyAt(sepIdx, k)
		} else {
			k, v := sibLeaf.keyAt(0), sibLeaf.valueAt(0)
			sibLeaf.removeAt(0)
			nodeLeaf.insertAt(nodeLeaf.size(), k, v)
			parent.setKeyAt(sepIdx, sibLeaf.keyAt(0))
		}
	} else {
		nodeIn, sibIn := t.internal(nodeFrame), t.internal(sibFrame)
		var movedChild primitives.PageID
		if siblingLeft {
			// Sibling's last child moves to node's slot 0; the old slot-0
			// child gets the separator as its key, and the separator
			// becomes the lent key.
			last := sibIn.size() - 1
			k, c := sibIn.keyAt(last), sibIn.childAt(last)
			sibIn.setSize(last)
			nodeIn.setKeyAt(0, sepKey)
			nodeIn.insertAt(0, k, c)
			// insertAt put the lent key in slot 0, which is unused; the
			// separator key now sits in slot 1 where it belongs.
			parent.setKeyAt(sepIdx, k)
			movedChild = c
		} else {
			// Right sibling's first child moves to node's end under the
			// separator key; the separator becomes the sibling's ousted
			// slot-1 key.
			c := sibIn.childAt(0)
			newSep := sibIn.keyAt(1)
			sibIn.removeAt(0)
			nodeIn.insertAt(nodeIn.size(), sepKey, c)
			parent.setKeyAt(sepIdx, newSep)
			movedChild = c
		}

		nodeID := nodeIn.pageID()
		if childFrame, err := t.pool.FetchPage(movedChild); err == nil {
			childFrame.WLatch()
			t.asNode(childFrame).setParent(nodeID)
			childFrame.WUnlatch()
			t.pool.UnpinPage(movedChild, true)
		}
	}

	stack.markDirty(parentFrame)
	t.releaseFrame(nodeFrame, true)
	t.releaseFrame(sibFrame, true)
	stack.releaseAll(t.pool)
}
