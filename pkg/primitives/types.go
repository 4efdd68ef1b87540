// Package primitives defines the core identifier types shared by every
// layer of the storage kernel: page and frame numbers, transaction ids,
// table ids, and record identifiers.
package primitives

import "fmt"

const (
	// PageSize is the fixed size in bytes of every on-disk page and
	// in-memory frame.
	PageSize = 4096

	// InvalidPageID marks an unassigned page slot. Frames holding it are
	// free, tree pointers holding it are null.
	InvalidPageID PageID = -1

	// InvalidTxnID marks "no transaction", used by the lock manager's
	// upgrade slot.
	InvalidTxnID TxnID = -1
)

// PageID identifies a page-sized slot in the database file.
type PageID int32

// IsValid reports whether the id refers to an actual page.
func (p PageID) IsValid() bool {
	return p != InvalidPageID
}

// FrameID indexes a frame in the buffer pool's frame array.
type FrameID int32

// TxnID identifies a transaction. Ids are assigned monotonically, so a
// larger id always belongs to a younger transaction.
type TxnID int64

// TableID identifies a table (the lock manager's coarse granularity).
type TableID uint32

// RID locates a single record: the page it lives on and its slot within
// that page. RID is a value type and is used directly as a map key.
type RID struct {
	PageID PageID
	Slot   uint16
}

// NewRID builds a record identifier.
func NewRID(pid PageID, slot uint16) RID {
	return RID{PageID: pid, Slot: slot}
}

func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot)
}
