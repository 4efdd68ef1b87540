package btree

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"relkit/pkg/buffer"
	"relkit/pkg/logging"
	"relkit/pkg/primitives"
)

// Tree is a B+ tree over buffer-pool pages, parameterized by key and value
// types with fixed-width codecs and a total-order comparator. Keys are
// unique.
//
// The tree owns no pages: every node lives in the buffer pool and is
// pinned only for the duration of an operation. The root page id is the
// only tree-global state; rootLatch guards it and doubles as the virtual
// root page of the crabbing protocol, so a writer that may grow or shrink
// the tree holds it until the descent reaches a safe child.
type Tree[K any, V any] struct {
	name string
	pool *buffer.Pool
	cmp  Comparator[K]
	kc   KeyCodec[K]
	vc   ValueCodec[V]

	leafMax     int
	internalMax int

	rootLatch sync.Mutex
	rootID    primitives.PageID
}

// NewTree opens the named index over the pool. leafMax and internalMax
// bound the entries per leaf and pointers per internal node; passing 0
// picks the largest value the page size admits. If the header page already
// records the index, its root is recovered; otherwise a record is created.
func NewTree[K any, V any](
	name string,
	pool *buffer.Pool,
	cmp Comparator[K],
	kc KeyCodec[K],
	vc ValueCodec[V],
	leafMax, internalMax int,
) (*Tree[K, V], error) {
	leafStride := kc.Size() + vc.Size()
	internalStride := kc.Size() + childCodec.size()
	if leafMax == 0 {
		leafMax = (primitives.PageSize - nodeHeaderSize) / leafStride
	}
	if internalMax == 0 {
		internalMax = (primitives.PageSize - nodeHeaderSize) / internalStride
	}
	if leafMax < 3 || internalMax < 3 {
		return nil, errors.Errorf("tree orders too small: leaf %d, internal %d", leafMax, internalMax)
	}
	if nodeHeaderSize+leafMax*leafStride > primitives.PageSize ||
		nodeHeaderSize+internalMax*internalStride > primitives.PageSize {
		return nil, errors.Errorf("tree orders exceed page size: leaf %d, internal %d", leafMax, internalMax)
	}

	t := &Tree[K, V]{
		name:        name,
		pool:        pool,
		cmp:         cmp,
		kc:          kc,
		vc:          vc,
		leafMax:     leafMax,
		internalMax: internalMax,
		rootID:      primitives.InvalidPageID,
	}

	root, found, err := headerRootOf(pool, name)
	if err != nil {
		return nil, err
	}
	if found {
		t.rootID = root
	} else if err := headerSetRoot(pool, name, primitives.InvalidPageID); err != nil {
		return nil, err
	}
	return t, nil
}

// leaf and internal wrap a frame's bytes in the typed node views.

func (t *Tree[K, V]) leaf(f *buffer.Frame) leafNode[K, V] {
	return leafNode[K, V]{node: node{data: f.Data()}, kc: t.kc, vc: t.vc}
}

func (t *Tree[K, V]) internal(f *buffer.Frame) internalNode[K] {
	return internalNode[K]{node: node{data: f.Data()}, kc: t.kc}
}

func (t *Tree[K, V]) asNode(f *buffer.Frame) node {
	return node{data: f.Data()}
}

// minSize of a non-root node: ceil(max/2) pointers for internal nodes,
// ceil((max-1)/2) entries for leaves.
func (t *Tree[K, V]) leafMinSize() int     { return t.leafMax / 2 }
func (t *Tree[K, V]) internalMinSize() int { return (t.internalMax + 1) / 2 }

// IsEmpty reports whether the tree holds no keys.
func (t *Tree[K, V]) IsEmpty() bool {
	t.rootLatch.Lock()
	defer t.rootLatch.Unlock()
	return t.rootID == primitives.InvalidPageID
}

// GetValue looks the key up, returning its value and whether it exists.
// The descent crabs shared latches: the child is latched before the parent
// latch is dropped.
func (t *Tree[K, V]) GetValue(key K) (V, bool, error) {
	var zero V

	frame, err := t.descendRead(key)
	if err != nil {
		return zero, false, err
	}
	if frame == nil {
		return zero, false, nil
	}

	leaf := t.leaf(frame)
	idx := leaf.indexOf(key, t.cmp)
	var (
		val   V
		found bool
	)
	if idx >= 0 {
		val = leaf.valueAt(idx)
		found = true
	}
	pid := frame.PageID()
	frame.RUnlatch()
	t.pool.UnpinPage(pid, false)
	return val, found, nil
}

// descendRead walks to the leaf that must contain key, returning its frame
// R-latched and pinned, or nil for an empty tree.
func (t *Tree[K, V]) descendRead(key K) (*buffer.Frame, error) {
	t.rootLatch.Lock()
	if t.rootID == primitives.InvalidPageID {
		t.rootLatch.Unlock()
		return nil, nil
	}
	frame, err := t.pool.FetchPage(t.rootID)
	if err != nil {
		t.rootLatch.Unlock()
		return nil, err
	}
	frame.RLatch()
	t.rootLatch.Unlock()

	for {
		n := t.asNode(frame)
		if n.isLeaf() {
			return frame, nil
		}
		childID := t.internal(frame).lookup(key, t.cmp)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			pid := frame.PageID()
			frame.RUnlatch()
			t.pool.UnpinPage(pid, false)
			return nil, err
		}
		child.RLatch()
		pid := frame.PageID()
		frame.RUnlatch()
		t.pool.UnpinPage(pid, false)
		frame = child
	}
}

// descendReadLeftmost walks to the leftmost leaf, R-latched and pinned.
func (t *Tree[K, V]) descendReadLeftmost() (*buffer.Frame, error) {
	t.rootLatch.Lock()
	if t.rootID == primitives.InvalidPageID {
		t.rootLatch.Unlock()
		return nil, nil
	}
	frame, err := t.pool.FetchPage(t.rootID)
	if err != nil {
		t.rootLatch.Unlock()
		return nil, err
	}
	frame.RLatch()
	t.rootLatch.Unlock()

	for {
		n := t.asNode(frame)
		if n.isLeaf() {
			return frame, nil
		}
		childID := t.internal(frame).childAt(0)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			pid := frame.PageID()
			frame.RUnlatch()
			t.pool.UnpinPage(pid, false)
			return nil, err
		}
		child.RLatch()
		pid := frame.PageID()
		frame.RUnlatch()
		t.pool.UnpinPage(pid, false)
		frame = child
	}
}

// latchStack tracks the W-latched, pinned ancestors of a write descent in
// root-to-leaf order, plus whether the virtual root latch is still held.
// Each entry remembers whether the node was modified so the final unpin
// carries the right dirty flag.
type latchStack struct {
	tree       interface{ unlockRoot() }
	rootLocked bool
	frames     []*buffer.Frame
	dirty      []bool
}

func (t *Tree[K, V]) unlockRoot() { t.rootLatch.Unlock() }

func (t *Tree[K, V]) newLatchStack() *latchStack {
	return &latchStack{tree: t, rootLocked: true}
}

func (s *latchStack) push(f *buffer.Frame) {
	s.frames = append(s.frames, f)
	s.dirty = append(s.dirty, false)
}

// markDirty flags the topmost stack entry holding the frame.
func (s *latchStack) markDirty(f *buffer.Frame) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == f {
			s.dirty[i] = true
			return
		}
	}
}

// pop detaches the top frame from the stack without unlatching it; the
// caller takes over its release. Returns the frame and its dirty flag.
func (s *latchStack) pop() (*buffer.Frame, bool) {
	n := len(s.frames) - 1
	f, d := s.frames[n], s.dirty[n]
	s.frames = s.frames[:n]
	s.dirty = s.dirty[:n]
	return f, d
}

func (s *latchStack) top() *buffer.Frame {
	return s.frames[len(s.frames)-1]
}

// releaseAncestors releases every held frame except the topmost, oldest
// first, and drops the virtual root latch. Called when the descent reaches
// a safe child.
func (s *latchStack) releaseAncestors(pool *buffer.Pool) {
	if s.rootLocked {
		s.tree.unlockRoot()
		s.rootLocked = false
	}
	keepFrame, keepDirty := s.frames[len(s.frames)-1], s.dirty[len(s.frames)-1]
	for i := 0; i < len(s.frames)-1; i++ {
		f := s.frames[i]
		pid := f.PageID()
		f.WUnlatch()
		pool.UnpinPage(pid, s.dirty[i])
	}
	s.frames = s.frames[:0]
	s.dirty = s.dirty[:0]
	s.frames = append(s.frames, keepFrame)
	s.dirty = append(s.dirty, keepDirty)
}

// releaseAll releases every held frame, oldest first, and the virtual root
// latch if still held. Every exit path of a write operation funnels here.
func (s *latchStack) releaseAll(pool *buffer.Pool) {
	if s.rootLocked {
		s.tree.unlockRoot()
		s.rootLocked = false
	}
	for i, f := range s.frames {
		pid := f.PageID()
		f.WUnlatch()
		pool.UnpinPage(pid, s.dirty[i])
	}
	s.frames = s.frames[:0]
	s.dirty = s.dirty[:0]
}

// descendWrite walks to the leaf responsible for key with W-latch
// crabbing: ancestors are released as soon as the newly latched child is
// safe for the operation. On return the stack's top is the target leaf.
// Must be called with rootLatch held and rootID valid.
func (t *Tree[K, V]) descendWrite(key K, stack *latchStack, safe func(node) bool) error {
	frame, err := t.pool.FetchPage(t.rootID)
	if err != nil {
		return err
	}
	frame.WLatch()
	stack.push(frame)
	if safe(t.asNode(frame)) {
		stack.releaseAncestors(t.pool)
	}

	for {
		n := t.asNode(frame)
		if n.isLeaf() {
			return nil
		}
		childID := t.internal(frame).lookup(key, t.cmp)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			return err
		}
		child.WLatch()
		stack.push(child)
		if safe(t.asNode(child)) {
			stack.releaseAncestors(t.pool)
		}
		frame = child
	}
}

// safeForInsert reports whether an insert below this node cannot split it.
func (t *Tree[K, V]) safeForInsert(n node) bool {
	if n.isLeaf() {
		return n.size() < t.leafMax-1
	}
	return n.size() < t.internalMax
}

// safeForDelete reports whether a delete below this node cannot underflow
// it. The root is safe down to two pointers (internal) or one entry
// (leaf).
func (t *Tree[K, V]) safeForDelete(n node) bool {
	if n.isRoot() {
		if n.isLeaf() {
			return n.size() > 1
		}
		return n.size() > 2
	}
	if n.isLeaf() {
		return n.size() > t.leafMinSize()
	}
	return n.size() > t.internalMinSize()
}

// setRoot updates the root page id and its header-page record. Must be
// called with rootLatch held.
func (t *Tree[K, V]) setRoot(pid primitives.PageID) error {
	t.rootID = pid
	if err := headerSetRoot(t.pool, t.name, pid); err != nil {
		return err
	}
	logging.WithIndex(t.name).WithField("root", pid).Debug("root page changed")
	return nil
}

// String renders the tree's structure level by level for debugging (the
// tests print it on failure). It takes no latches beyond per-fetch pins and is not meant to
// run concurrently with writers.
func (t *Tree[K, V]) String() string {
	t.rootLatch.Lock()
	root := t.rootID
	t.rootLatch.Unlock()

	if root == primitives.InvalidPageID {
		return fmt.Sprintf("%s: empty", t.name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: root=%d\n", t.name, root)
	level := []primitives.PageID{root}
	for len(level) > 0 {
		var next []primitives.PageID
		for _, pid := range level {
			frame, err := t.pool.FetchPage(pid)
			if err != nil {
				fmt.Fprintf(&b, "  <page %d: %v>\n", pid, err)
				continue
			}
			n := t.asNode(frame)
			if n.isLeaf() {
				leaf := t.leaf(frame)
				fmt.Fprintf(&b, "  leaf %d (size %d, next %d):", pid, n.size(), leaf.next())
				for i := 0; i < n.size(); i++ {
					fmt.Fprintf(&b, " %v", leaf.keyAt(i))
				}
				b.WriteByte('\n')
			} else {
				in := t.internal(frame)
				fmt.Fprintf(&b, "  internal %d (size %d):", pid, n.size())
				for i := 0; i < n.size(); i++ {
					if i == 0 {
						fmt.Fprintf(&b, " [_:%d]", in.childAt(i))
					} else {
						fmt.Fprintf(&b, " [%v:%d]", in.keyAt(i), in.childAt(i))
					}
					next = append(next, in.childAt(i))
				}
				b.WriteByte('\n')
			}
			t.pool.UnpinPage(pid, false)
		}
		level = next
	}
	return b.String()
}
