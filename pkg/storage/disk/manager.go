// Package disk implements the on-disk page store: a single file of
// page-sized slots addressed by page id, plus page-id allocation.
package disk

import (
	"io"
	"os"
	"sync"

	"relkit/pkg/logging"
	"relkit/pkg/primitives"

	"github.com/pkg/errors"
)

// ErrShutDown is returned by I/O operations after the manager was shut down.
var ErrShutDown = errors.New("disk manager is shut down")

// Manager reads and writes page-sized slots in a single database file and
// hands out page ids. Page 0 is allocated at creation time and reserved
// for the header page.
type Manager struct {
	mutex      sync.Mutex
	file       *os.File
	path       string
	nextPageID primitives.PageID
	freePages  []primitives.PageID // deallocated ids, reused LIFO
	closed     bool

	numReads  int64
	numWrites int64
}

// NewManager opens (or creates) the database file at path. The id counter
// resumes past the last page the file already contains, so reopening an
// existing database keeps allocations disjoint from its pages.
func NewManager(path string) (*Manager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open database file %s", path)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "stat database file %s", path)
	}

	next := primitives.PageID(info.Size() / primitives.PageSize)
	if info.Size()%primitives.PageSize != 0 {
		next++
	}
	if next == 0 {
		// Fresh database: reserve page 0 for the header page.
		next = 1
	}

	logging.WithComponent("disk.Manager").
		WithField("path", path).
		WithField("next_page_id", next).
		Debug("database file opened")

	return &Manager{
		file:       file,
		path:       path,
		nextPageID: next,
	}, nil
}

// ReadPage fills buf with the contents of the page. Reading a slot that
// was allocated but never written yields zeroes. buf must be PageSize long.
func (m *Manager) ReadPage(pid primitives.PageID, buf []byte) error {
	if len(buf) != primitives.PageSize {
		return errors.Errorf("read buffer must be %d bytes, got %d", primitives.PageSize, len(buf))
	}
	if !pid.IsValid() || pid < 0 {
		return errors.Errorf("read of invalid page id %d", pid)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrShutDown
	}

	n, err := m.file.ReadAt(buf, int64(pid)*primitives.PageSize)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "read page %d", pid)
	}
	// A short read past the end of the file is a page that was allocated
	// but never flushed; the caller sees zeroes.
	for i := n; i < primitives.PageSize; i++ {
		buf[i] = 0
	}
	m.numReads++
	return nil
}

// WritePage writes data into the page's slot. data must be PageSize long.
func (m *Manager) WritePage(pid primitives.PageID, data []byte) error {
	if len(data) != primitives.PageSize {
		return errors.Errorf("write buffer must be %d bytes, got %d", primitives.PageSize, len(data))
	}
	if !pid.IsValid() || pid < 0 {
		return errors.Errorf("write of invalid page id %d", pid)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrShutDown
	}

	if _, err := m.file.WriteAt(data, int64(pid)*primitives.PageSize); err != nil {
		return errors.Wrapf(err, "write page %d", pid)
	}
	m.numWrites++
	return nil
}

// AllocatePage returns a page id not currently in use, preferring ids
// released by DeallocatePage.
func (m *Manager) AllocatePage() primitives.PageID {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if n := len(m.freePages); n > 0 {
		pid := m.freePages[n-1]
		m.freePages = m.freePages[:n-1]
		return pid
	}

	pid := m.nextPageID
	m.nextPageID++
	return pid
}

// DeallocatePage releases a page id for reuse. The slot's bytes are left
// in place; they are overwritten on the next allocation's first flush.
func (m *Manager) DeallocatePage(pid primitives.PageID) {
	if !pid.IsValid() || pid == 0 {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.freePages = append(m.freePages, pid)
}

// NumReads reports how many page reads the manager has served.
func (m *Manager) NumReads() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.numReads
}

// NumWrites reports how many page writes the manager has served.
func (m *Manager) NumWrites() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.numWrites
}

// Size returns the current size of the database file in bytes.
func (m *Manager) Size() (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return 0, ErrShutDown
	}
	info, err := m.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat database file")
	}
	return info.Size(), nil
}

// ShutDown syncs and closes the database file. Further I/O fails with
// ErrShutDown.
func (m *Manager) ShutDown() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.file.Sync(); err != nil {
		m.file.Close()
		return errors.Wrap(err, "sync database file")
	}
	logging.WithComponent("disk.Manager").WithField("path", m.path).Debug("database file closed")
	return errors.Wrap(m.file.Close(), "close database file")
}
