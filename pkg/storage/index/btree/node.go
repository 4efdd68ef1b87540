package btree

import (
	"encoding/binary"

	"relkit/pkg/primitives"
)

// On-page node layout. Both node kinds share the first 20 header bytes;
// the next-leaf pointer is meaningful for leaves only. Entries start at
// nodeHeaderSize and are fixed-stride: (key, value) pairs in leaves,
// (key, child page id) pairs in internal nodes with the slot-0 key unused.
const (
	offKind     = 0
	offSize     = 4
	offMaxSize  = 8
	offParent   = 12
	offPageID   = 16
	offNextLeaf = 20

	nodeHeaderSize = 24

	kindLeaf     byte = 1
	kindInternal byte = 2
)

// node wraps a frame's page bytes with typed header accessors.
type node struct {
	data []byte
}

func (n node) kind() byte   { return n.data[offKind] }
func (n node) isLeaf() bool { return n.data[offKind] == kindLeaf }

func (n node) size() int {
	return int(int32(binary.BigEndian.Uint32(n.data[offSize:])))
}

func (n node) setSize(size int) {
	binary.BigEndian.PutUint32(n.data[offSize:], uint32(int32(size)))
}

func (n node) maxSize() int {
	return int(int32(binary.BigEndian.Uint32(n.data[offMaxSize:])))
}

func (n node) parent() primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(n.data[offParent:]))
}

func (n node) setParent(pid primitives.PageID) {
	binary.BigEndian.PutUint32(n.data[offParent:], uint32(pid))
}

func (n node) pageID() primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(n.data[offPageID:]))
}

func (n node) isRoot() bool { return n.parent() == primitives.InvalidPageID }

func (n node) init(kind byte, pid, parent primitives.PageID, maxSize int) {
	n.data[offKind] = kind
	n.setSize(0)
	binary.BigEndian.PutUint32(n.data[offMaxSize:], uint32(int32(maxSize)))
	n.setParent(parent)
	binary.BigEndian.PutUint32(n.data[offPageID:], uint32(pid))
	invalidPageID := primitives.InvalidPageID
	binary.BigEndian.PutUint32(n.data[offNextLeaf:], uint32(invalidPageID))
}

// leaf view

type leafNode[K any, V any] struct {
	node
	kc KeyCodec[K]
	vc ValueCodec[V]
}

func (l leafNode[K, V]) stride() int { return l.kc.Size() + l.vc.Size() }

func (l leafNode[K, V]) entryOff(i int) int { return nodeHeaderSize + i*l.stride() }

func (l leafNode[K, V]) keyAt(i int) K {
	return l.kc.Decode(l.data[l.entryOff(i):])
}

func (l leafNode[K, V]) valueAt(i int) V {
	return l.vc.Decode(l.data[l.entryOff(i)+l.kc.Size():])
}

func (l leafNode[K, V]) setEntryAt(i int, k K, v V) {
	off := l.entryOff(i)
	l.kc.Encode(l.data[off:], k)
	l.vc.Encode(l.data[off+l.kc.Size():], v)
}

func (l leafNode[K, V]) next() primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(l.data[offNextLeaf:]))
}

func (l leafNode[K, V]) setNext(pid primitives.PageID) {
	binary.BigEndian.PutUint32(l.data[offNextLeaf:], uint32(pid))
}

// insertAt shifts entries [i, size) right by one and writes the new entry.
func (l leafNode[K, V]) insertAt(i int, k K, v V) {
	size := l.size()
	copy(l.data[l.entryOff(i+1):l.entryOff(size+1)], l.data[l.entryOff(i):l.entryOff(size)])
	l.setEntryAt(i, k, v)
	l.setSize(size + 1)
}

// removeAt shifts entries (i, size) left over slot i.
func (l leafNode[K, V]) removeAt(i int) {
	size := l.size()
	copy(l.data[l.entryOff(i):l.entryOff(size-1)], l.data[l.entryOff(i+1):l.entryOff(size)])
	l.setSize(size - 1)
}

// indexOf finds the slot holding key, or -1.
func (l leafNode[K, V]) indexOf(k K, cmp Comparator[K]) int {
	lo, hi := 0, l.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(l.keyAt(mid), k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < l.size() && cmp(l.keyAt(lo), k) == 0 {
		return lo
	}
	return -1
}

// insertIndex finds the slot a new key should occupy to keep order.
func (l leafNode[K, V]) insertIndex(k K, cmp Comparator[K]) int {
	lo, hi := 0, l.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(l.keyAt(mid), k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// internal view

type internalNode[K any] struct {
	node
	kc KeyCodec[K]
}

var childCodec pageIDCodec

func (in internalNode[K]) stride() int { return in.kc.Size() + childCodec.size() }

func (in internalNode[K]) entryOff(i int) int { return nodeHeaderSize + i*in.stride() }

// keyAt returns the separator key in slot i; slot 0's key is undefined.
func (in internalNode[K]) keyAt(i int) K {
	return in.kc.Decode(in.data[in.entryOff(i):])
}

func (in internalNode[K]) childAt(i int) primitives.PageID {
	return childCodec.decode(in.data[in.entryOff(i)+in.kc.Size():])
}

func (in internalNode[K]) setKeyAt(i int, k K) {
	in.kc.Encode(in.data[in.entryOff(i):], k)
}

func (in internalNode[K]) setChildAt(i int, pid primitives.PageID) {
	childCodec.encode(in.data[in.entryOff(i)+in.kc.Size():], pid)
}

func (in internalNode[K]) setEntryAt(i int, k K, pid primitives.PageID) {
	in.setKeyAt(i, k)
	in.setChildAt(i, pid)
}

// insertAt shifts entries [i, size) right by one and writes the new entry.
func (in internalNode[K]) insertAt(i int, k K, pid primitives.PageID) {
	size := in.size()
	copy(in.data[in.entryOff(i+1):in.entryOff(size+1)], in.data[in.entryOff(i):in.entryOff(size)])
	in.setEntryAt(i, k, pid)
	in.setSize(size + 1)
}

// removeAt shifts entries (i, size) left over slot i.
func (in internalNode[K]) removeAt(i int) {
	size := in.size()
	copy(in.data[in.entryOff(i):in.entryOff(size-1)], in.data[in.entryOff(i+1):in.entryOff(size)])
	in.setSize(size - 1)
}

// childIndex returns the slot whose child pointer equals pid, or -1.
func (in internalNode[K]) childIndex(pid primitives.PageID) int {
	for i := 0; i < in.size(); i++ {
		if in.childAt(i) == pid {
			return i
		}
	}
	return -1
}

// lookup returns the child that must contain key: the child at the last
// slot whose separator key is <= key, with slot 0 covering minus infinity.
func (in internalNode[K]) lookup(k K, cmp Comparator[K]) primitives.PageID {
	lo, hi := 1, in.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(in.keyAt(mid), k) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return in.childAt(lo - 1)
}
