// Package btree implements an order-N B+ tree index over fixed-size pages
// served by the buffer pool. Concurrent access uses latch crabbing on the
// frames' reader-writer latches; the only tree-global state is the root
// page id, guarded by its own latch.
package btree

import (
	"encoding/binary"

	"relkit/pkg/primitives"
)

// Comparator is a total order over keys: negative for a < b, zero for
// equal, positive for a > b.
type Comparator[K any] func(a, b K) int

// KeyCodec encodes keys into a fixed number of bytes inside tree pages.
type KeyCodec[K any] interface {
	Size() int
	Encode(buf []byte, k K)
	Decode(buf []byte) K
}

// ValueCodec encodes leaf values into a fixed number of bytes.
type ValueCodec[V any] interface {
	Size() int
	Encode(buf []byte, v V)
	Decode(buf []byte) V
}

// Int64Codec stores int64s big-endian in 8 bytes. It serves as both a key
// and a value codec.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(buf []byte, k int64) {
	binary.BigEndian.PutUint64(buf, uint64(k))
}

func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf))
}

// CompareInt64 is the natural order on int64 keys.
func CompareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// RIDCodec stores record identifiers in 8 bytes: page id, slot, padding.
type RIDCodec struct{}

func (RIDCodec) Size() int { return 8 }

func (RIDCodec) Encode(buf []byte, r primitives.RID) {
	binary.BigEndian.PutUint32(buf, uint32(r.PageID))
	binary.BigEndian.PutUint16(buf[4:], r.Slot)
	buf[6], buf[7] = 0, 0
}

func (RIDCodec) Decode(buf []byte) primitives.RID {
	return primitives.RID{
		PageID: primitives.PageID(binary.BigEndian.Uint32(buf)),
		Slot:   binary.BigEndian.Uint16(buf[4:]),
	}
}

// pageIDCodec stores child pointers inside internal nodes.
type pageIDCodec struct{}

func (pageIDCodec) size() int { return 4 }

func (pageIDCodec) encode(buf []byte, pid primitives.PageID) {
	binary.BigEndian.PutUint32(buf, uint32(pid))
}

func (pageIDCodec) decode(buf []byte) primitives.PageID {
	return primitives.PageID(binary.BigEndian.Uint32(buf))
}
