package btree

import (
	"relkit/pkg/buffer"
	"relkit/pkg/primitives"
)

// Insert adds the key/value pair. Returns false without modifying the
// tree when the key already exists.
//
// The descent W-latches the path, releasing ancestors as soon as a child
// cannot split (latch crabbing); the virtual root latch is held until the
// first safe child so a root split cannot race another writer.
func (t *Tree[K, V]) Insert(key K, value V) (bool, error) {
	t.rootLatch.Lock()

	if t.rootID == primitives.InvalidPageID {
		return t.startNewTree(key, value)
	}

	stack := t.newLatchStack()
	if err := t.descendWrite(key, stack, t.safeForInsert); err != nil {
		stack.releaseAll(t.pool)
		return false, err
	}

	leafFrame := stack.top()
	leaf := t.leaf(leafFrame)
	if leaf.indexOf(key, t.cmp) >= 0 {
		stack.releaseAll(t.pool)
		return false, nil
	}

	if leaf.size() < t.leafMax-1 {
		leaf.insertAt(leaf.insertIndex(key, t.cmp), key, value)
		stack.markDirty(leafFrame)
		stack.releaseAll(t.pool)
		return true, nil
	}

	if err := t.splitLeaf(stack, leafFrame, key, value); err != nil {
		return false, err
	}
	return true, nil
}

// startNewTree creates a single-leaf root holding the first entry. Called
// with rootLatch held; releases it.
func (t *Tree[K, V]) startNewTree(key K, value V) (bool, error) {
	frame, err := t.pool.NewPage()
	if err != nil {
		t.rootLatch.Unlock()
		return false, err
	}
	frame.WLatch()

	leaf := t.leaf(frame)
	leaf.init(kindLeaf, frame.PageID(), primitives.InvalidPageID, t.leafMax)
	leaf.insertAt(0, key, value)

	pid := frame.PageID()
	if err := t.setRoot(pid); err != nil {
		frame.WUnlatch()
		t.pool.UnpinPage(pid, true)
		t.rootLatch.Unlock()
		return false, err
	}
	frame.WUnlatch()
	t.pool.UnpinPage(pid, true)
	t.rootLatch.Unlock()
	return true, nil
}

// splitLeaf distributes the full leaf's entries plus the new one over the
// leaf and a fresh right sibling, splices the sibling into the leaf chain,
// and pushes the sibling's first key into the parent.
func (t *Tree[K, V]) splitLeaf(stack *latchStack, leafFrame *buffer.Frame, key K, value V) error {
	leaf := t.leaf(leafFrame)
	size := leaf.size()

	type kv struct {
		k K
		v V
	}
	scratch := make([]kv, 0, size+1)
	pos := leaf.insertIndex(key, t.cmp)
	for i := 0; i < pos; i++ {
		scratch = append(scratch, kv{leaf.keyAt(i), leaf.valueAt(i)})
	}
	scratch = append(scratch, kv{key, value})
	for i := pos; i < size; i++ {
		scratch = append(scratch, kv{leaf.keyAt(i), leaf.valueAt(i)})
	}

	rightFrame, err := t.pool.NewPage()
	if err != nil {
		stack.releaseAll(t.pool)
		return err
	}
	rightFrame.WLatch()
	right := t.leaf(rightFrame)
	right.init(kindLeaf, rightFrame.PageID(), leaf.parent(), t.leafMax)

	leftSize := (t.leafMax + 1) / 2
	for i := 0; i < leftSize; i++ {
		leaf.setEntryAt(i, scratch[i].k, scratch[i].v)
	}
	leaf.setSize(leftSize)
	for i := leftSize; i < len(scratch); i++ {
		right.setEntryAt(i-leftSize, scratch[i].k, scratch[i].v)
	}
	right.setSize(len(scratch) - leftSize)

	right.setNext(leaf.next())
	leaf.setNext(rightFrame.PageID())
	stack.markDirty(leafFrame)

	return t.insertInParent(stack, leafFrame, rightFrame, right.keyAt(0))
}

// insertInParent links a freshly split-off right sibling under the parent
// of left, splitting upward as needed. left is the top of the stack; right
// is W-latched and pinned but not stacked. Both are released here on every
// path.
func (t *Tree[K, V]) insertInParent(stack *latchStack, left, right *buffer.Frame, key K) error {
	if t.asNode(left).isRoot() {
		return t.growNewRoot(stack, left, right, key)
	}

	stack.pop() // left; released explicitly below
	parentFrame := stack.top()
	parent := t.internal(parentFrame)
	idx := parent.childIndex(left.PageID())

	if parent.size() < t.internalMax {
		parent.insertAt(idx+1, key, right.PageID())
		stack.markDirty(parentFrame)
		t.asNode(right).setParent(parentFrame.PageID())
		t.releaseFrame(left, true)
		t.releaseFrame(right, true)
		stack.releaseAll(t.pool)
		return nil
	}

	// Parent is full: split it through a scratch array of size+1 entries
	// and promote the middle key.
	size := parent.size()
	type kc struct {
		k K
		c primitives.PageID
	}
	scratch := make([]kc, 0, size+1)
	for i := 0; i < size; i++ {
		scratch = append(scratch, kc{parent.keyAt(i), parent.childAt(i)})
	}
	scratch = append(scratch[:idx+1:idx+1], append([]kc{{key, right.PageID()}}, scratch[idx+1:]...)...)

	newFrame, err := t.pool.NewPage()
	if err != nil {
		t.releaseFrame(left, true)
		t.releaseFrame(right, true)
		stack.releaseAll(t.pool)
		return err
	}
	newFrame.WLatch()
	newParent := t.internal(newFrame)
	newParent.init(kindInternal, newFrame.PageID(), parent.parent(), t.internalMax)

	leftSize := (size + 2) / 2
	rightSize := size + 1 - leftSize
	for i := 0; i < leftSize; i++ {
		parent.setEntryAt(i, scratch[i].k, scratch[i].c)
	}
	parent.setSize(leftSize)
	for i := 0; i < rightSize; i++ {
		newParent.setEntryAt(i, scratch[leftSize+i].k, scratch[leftSize+i].c)
	}
	newParent.setSize(rightSize)
	stack.markDirty(parentFrame)
	promoted := scratch[leftSize].k

	// Children that moved to the new sibling need their parent pointer
	// rewritten. left and right are already latched by us; everyone else
	// is reachable only through the parent we hold.
	if err := t.reparentChildren(newParent, left, right); err != nil {
		t.releaseFrame(left, true)
		t.releaseFrame(right, true)
		stack.releaseAll(t.pool)
		return err
	}

	t.releaseFrame(left, true)
	t.releaseFrame(right, true)
	return t.insertInParent(stack, parentFrame, newFrame, promoted)
}

// growNewRoot replaces the root with a fresh internal page over (left,
// right). Called with left as the whole remaining stack and the virtual
// root latch held.
func (t *Tree[K, V]) growNewRoot(stack *latchStack, left, right *buffer.Frame, key K) error {
	rootFrame, err := t.pool.NewPage()
	if err != nil {
		t.releaseFrame(right, true)
		stack.releaseAll(t.pool)
		return err
	}
	root := t.internal(rootFrame)
	root.init(kindInternal, rootFrame.PageID(), primitives.InvalidPageID, t.internalMax)
	root.setChildAt(0, left.PageID())
	root.setEntryAt(1, key, right.PageID())
	root.setSize(2)

	t.asNode(left).setParent(rootFrame.PageID())
	t.asNode(right).setParent(rootFrame.PageID())

	rootPid := rootFrame.PageID()
	if err := t.setRoot(rootPid); err != nil {
		t.pool.UnpinPage(rootPid, true)
		t.releaseFrame(right, true)
		stack.releaseAll(t.pool)
		return err
	}

	t.pool.UnpinPage(rootPid, true)
	t.releaseFrame(right, true)
	stack.releaseAll(t.pool)
	return nil
}

// reparentChildren points every child of the freshly created internal node
// at it. held frames are updated in place; others are fetched briefly.
func (t *Tree[K, V]) reparentChildren(in internalNode[K], heldA, heldB *buffer.Frame) error {
	newID := in.pageID()
	for i := 0; i < in.size(); i++ {
		cid := in.childAt(i)
		if heldA != nil && cid == heldA.PageID() {
			t.asNode(heldA).setParent(newID)
			continue
		}
		if heldB != nil && cid == heldB.PageID() {
			t.asNode(heldB).setParent(newID)
			continue
		}
		childFrame, err := t.pool.FetchPage(cid)
		if err != nil {
			return err
		}
		childFrame.WLatch()
		t.asNode(childFrame).setParent(newID)
		childFrame.WUnlatch()
		t.pool.UnpinPage(cid, true)
	}
	return nil
}

// releaseFrame unlatches and unpins a frame held outside the latch stack.
func (t *Tree[K, V]) releaseFrame(f *buffer.Frame, dirty bool) {
	pid := f.PageID()
	f.WUnlatch()
	t.pool.UnpinPage(pid, dirty)
}
