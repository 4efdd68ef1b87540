package buffer

import (
	"sync"

	"github.com/pkg/errors"

	"relkit/pkg/logging"
	"relkit/pkg/primitives"
	"relkit/pkg/storage/disk"
	"relkit/pkg/storage/hash"
)

// ErrNoFrameAvailable is returned when the pool has no free frame and no
// evictable frame. The caller must unpin pages before retrying.
var ErrNoFrameAvailable = errors.New("buffer pool: all frames are pinned")

// directoryBucketSize is the bucket capacity of the page directory.
const directoryBucketSize = 16

// Stats is a snapshot of pool counters.
type Stats struct {
	PoolSize  int
	Resident  int
	Free      int
	Evictable int
	Evictions int64
	Flushes   int64
}

// Pool is the buffer pool manager. It owns a fixed array of frames,
// resolves page ids to frames through an extendible-hash page directory,
// and picks eviction victims with an LRU-K replacer. One mutex serializes
// every public operation; latch-hold time is bounded by at most one
// synchronous disk access per call.
type Pool struct {
	mutex     sync.Mutex
	frames    []Frame
	freeList  []primitives.FrameID
	directory *hash.Table[primitives.PageID, primitives.FrameID]
	replacer  *LRUKReplacer
	dm        *disk.Manager

	evictions int64
	flushes   int64
}

// NewPool creates a pool of poolSize frames over the disk manager, with an
// LRU-K replacer of the given k.
func NewPool(poolSize int, dm *disk.Manager, k int) *Pool {
	p := &Pool{
		frames:    make([]Frame, poolSize),
		freeList:  make([]primitives.FrameID, 0, poolSize),
		directory: hash.NewTable[primitives.PageID, primitives.FrameID](directoryBucketSize, hash.PageIDHasher),
		replacer:  NewLRUKReplacer(poolSize, k),
		dm:        dm,
	}
	for i := range p.frames {
		p.frames[i].id = primitives.FrameID(i)
		p.frames[i].pageID = primitives.InvalidPageID
		p.freeList = append(p.freeList, primitives.FrameID(i))
	}
	return p
}

// NewPage allocates a fresh page id, assigns it a frame with zeroed data,
// and returns the frame pinned once. Fails with ErrNoFrameAvailable when
// every frame is pinned.
func (p *Pool) NewPage() (*Frame, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	frameID, err := p.obtainFrame()
	if err != nil {
		return nil, err
	}

	pid := p.dm.AllocatePage()
	frame := &p.frames[frameID]
	frame.pageID = pid
	frame.pinCount = 1
	frame.dirty = false
	for i := range frame.data {
		frame.data[i] = 0
	}

	p.directory.Insert(pid, frameID)
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)
	return frame, nil
}

// FetchPage returns the frame holding the page, pinning it. A non-resident
// page is read from disk into a freshly obtained frame. Fails with
// ErrNoFrameAvailable when the page is not resident and every frame is
// pinned.
func (p *Pool) FetchPage(pid primitives.PageID) (*Frame, error) {
	if !pid.IsValid() {
		return nil, errors.Errorf("fetch of invalid page id %d", pid)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if frameID, ok := p.directory.Find(pid); ok {
		frame := &p.frames[frameID]
		frame.pinCount++
		p.replacer.RecordAccess(frameID)
		p.replacer.SetEvictable(frameID, false)
		return frame, nil
	}

	frameID, err := p.obtainFrame()
	if err != nil {
		return nil, err
	}

	frame := &p.frames[frameID]
	if err := p.dm.ReadPage(pid, frame.data[:]); err != nil {
		// Hand the frame back so the failed fetch leaks nothing.
		frame.reset()
		p.freeList = append(p.freeList, frameID)
		return nil, err
	}
	frame.pageID = pid
	frame.pinCount = 1
	frame.dirty = false

	p.directory.Insert(pid, frameID)
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)
	return frame, nil
}

// UnpinPage drops one pin from the page's frame, recording whether the
// caller dirtied it. The dirty bit is a sticky disjunction: once set it
// survives later unpins with dirty=false until a flush clears it. Returns
// false when the page is not resident or already unpinned.
func (p *Pool) UnpinPage(pid primitives.PageID, dirty bool) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	frameID, ok := p.directory.Find(pid)
	if !ok {
		return false
	}
	frame := &p.frames[frameID]
	if frame.pinCount == 0 {
		return false
	}

	frame.dirty = frame.dirty || dirty
	frame.pinCount--
	if frame.pinCount == 0 {
		p.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes the page's bytes to disk and clears the dirty bit. It
// works regardless of pin count and does not evict. Returns false when the
// page is not resident.
func (p *Pool) FlushPage(pid primitives.PageID) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.flushLocked(pid)
}

func (p *Pool) flushLocked(pid primitives.PageID) bool {
	frameID, ok := p.directory.Find(pid)
	if !ok {
		return false
	}
	frame := &p.frames[frameID]
	if err := p.dm.WritePage(pid, frame.data[:]); err != nil {
		// The disk manager is in-scope reliable; a failed write-back
		// means the kernel cannot keep its durability contract.
		logging.WithPage(pid).WithError(err).Fatal("page write-back failed")
	}
	frame.dirty = false
	p.flushes++
	return true
}

// FlushAllPages flushes every resident page.
func (p *Pool) FlushAllPages() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i := range p.frames {
		if p.frames[i].pageID.IsValid() {
			p.flushLocked(p.frames[i].pageID)
		}
	}
}

// DeletePage removes the page from the pool and releases its id back to
// the disk manager. Deleting a non-resident page only deallocates;
// deleting a pinned page fails.
func (p *Pool) DeletePage(pid primitives.PageID) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	frameID, ok := p.directory.Find(pid)
	if !ok {
		p.dm.DeallocatePage(pid)
		return true
	}
	frame := &p.frames[frameID]
	if frame.pinCount != 0 {
		return false
	}

	p.directory.Remove(pid)
	p.replacer.Remove(frameID)
	frame.reset()
	p.freeList = append(p.freeList, frameID)
	p.dm.DeallocatePage(pid)
	return true
}

// obtainFrame produces a clean frame id, preferring the free list and
// falling back to eviction. Dirty victims are written back, and the
// victim's directory entry is removed before the caller installs a new
// one. Called with the pool mutex held.
func (p *Pool) obtainFrame() (primitives.FrameID, error) {
	if n := len(p.freeList); n > 0 {
		frameID := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return frameID, nil
	}

	frameID, ok := p.replacer.Evict()
	if !ok {
		return 0, ErrNoFrameAvailable
	}
	frame := &p.frames[frameID]
	if frame.dirty {
		p.flushLocked(frame.pageID)
	}
	logging.WithPage(frame.pageID).WithField("frame_id", frameID).Debug("page evicted")
	p.directory.Remove(frame.pageID)
	frame.reset()
	p.evictions++
	return frameID, nil
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return Stats{
		PoolSize:  len(p.frames),
		Resident:  len(p.frames) - len(p.freeList),
		Free:      len(p.freeList),
		Evictable: p.replacer.Size(),
		Evictions: p.evictions,
		Flushes:   p.flushes,
	}
}

// DiskManager exposes the underlying disk manager.
func (p *Pool) DiskManager() *disk.Manager {
	return p.dm
}
