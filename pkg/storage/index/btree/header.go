package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"relkit/pkg/buffer"
	"relkit/pkg/primitives"
)

// The header page (page 0 of the database file) stores one record per
// index: a zero-padded name and the index's current root page id. Trees
// update their record whenever the root changes, so a flushed database
// can be reopened with its indexes intact.
const (
	// HeaderPageID is the fixed id of the header page.
	HeaderPageID primitives.PageID = 0

	headerCountOff  = 0
	headerRecordOff = 4
	recordNameLen   = 32
	recordSize      = recordNameLen + 4

	maxHeaderRecords = (primitives.PageSize - headerRecordOff) / recordSize
)

// headerRootOf scans the header page for the named index. Returns the
// recorded root and whether a record exists.
func headerRootOf(pool *buffer.Pool, name string) (primitives.PageID, bool, error) {
	frame, err := pool.FetchPage(HeaderPageID)
	if err != nil {
		return primitives.InvalidPageID, false, errors.Wrap(err, "fetch header page")
	}
	defer pool.UnpinPage(HeaderPageID, false)

	frame.RLatch()
	defer frame.RUnlatch()

	data := frame.Data()
	count := int(binary.BigEndian.Uint32(data[headerCountOff:]))
	for i := 0; i < count; i++ {
		off := headerRecordOff + i*recordSize
		if recordName(data[off:]) == name {
			root := primitives.PageID(binary.BigEndian.Uint32(data[off+recordNameLen:]))
			return root, true, nil
		}
	}
	return primitives.InvalidPageID, false, nil
}

// headerSetRoot records the root page id for the named index, creating the
// record if the index is new.
func headerSetRoot(pool *buffer.Pool, name string, root primitives.PageID) error {
	if len(name) > recordNameLen {
		return errors.Errorf("index name %q longer than %d bytes", name, recordNameLen)
	}

	frame, err := pool.FetchPage(HeaderPageID)
	if err != nil {
		return errors.Wrap(err, "fetch header page")
	}
	defer pool.UnpinPage(HeaderPageID, true)

	frame.WLatch()
	defer frame.WUnlatch()

	data := frame.Data()
	count := int(binary.BigEndian.Uint32(data[headerCountOff:]))
	for i := 0; i < count; i++ {
		off := headerRecordOff + i*recordSize
		if recordName(data[off:]) == name {
			binary.BigEndian.PutUint32(data[off+recordNameLen:], uint32(root))
			return nil
		}
	}

	if count >= maxHeaderRecords {
		return errors.Errorf("header page full: cannot register index %q", name)
	}
	off := headerRecordOff + count*recordSize
	for i := 0; i < recordNameLen; i++ {
		data[off+i] = 0
	}
	copy(data[off:], name)
	binary.BigEndian.PutUint32(data[off+recordNameLen:], uint32(root))
	binary.BigEndian.PutUint32(data[headerCountOff:], uint32(count+1))
	return nil
}

// HeaderRecords lists the (name, root) records on the header page; the
// inspector uses it to enumerate indexes.
func HeaderRecords(pool *buffer.Pool) (map[string]primitives.PageID, error) {
	frame, err := pool.FetchPage(HeaderPageID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch header page")
	}
	defer pool.UnpinPage(HeaderPageID, false)

	frame.RLatch()
	defer frame.RUnlatch()

	data := frame.Data()
	count := int(binary.BigEndian.Uint32(data[headerCountOff:]))
	if count > maxHeaderRecords {
		return nil, errors.Errorf("corrupt header page: %d records", count)
	}
	records := make(map[string]primitives.PageID, count)
	for i := 0; i < count; i++ {
		off := headerRecordOff + i*recordSize
		root := primitives.PageID(binary.BigEndian.Uint32(data[off+recordNameLen:]))
		records[recordName(data[off:])] = root
	}
	return records, nil
}

func recordName(buf []byte) string {
	name := buf[:recordNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}
