package buffer

import (
	"sync"

	"relkit/pkg/primitives"
)

// LRUKReplacer picks eviction victims by backward k-distance: the gap
// between now and a frame's k-th most recent access. Frames with fewer
// than k recorded accesses have infinite distance and are evicted first,
// ordered by their oldest recorded access; among frames with full
// histories the oldest k-th-recent access loses. Remaining ties go to the
// smallest frame id, so eviction order is deterministic.
type LRUKReplacer struct {
	mutex     sync.Mutex
	k         int
	numFrames int
	clock     uint64
	frames    map[primitives.FrameID]*frameHistory
	evictable int
}

// frameHistory keeps the last k access timestamps of one frame, oldest
// first.
type frameHistory struct {
	timestamps []uint64
	evictable  bool
}

// NewLRUKReplacer creates a replacer covering frame ids [0, numFrames).
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		k:         k,
		numFrames: numFrames,
		frames:    make(map[primitives.FrameID]*frameHistory, numFrames),
	}
}

// RecordAccess notes an access to the frame at the next logical timestamp.
// First access of an unknown frame registers it as non-evictable.
func (r *LRUKReplacer) RecordAccess(id primitives.FrameID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.clock++
	h, ok := r.frames[id]
	if !ok {
		h = &frameHistory{timestamps: make([]uint64, 0, r.k)}
		r.frames[id] = h
	}
	h.timestamps = append(h.timestamps, r.clock)
	if len(h.timestamps) > r.k {
		h.timestamps = h.timestamps[1:]
	}
}

// SetEvictable flips a frame's evictable flag. Unknown frames are ignored.
func (r *LRUKReplacer) SetEvictable(id primitives.FrameID, evictable bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	h, ok := r.frames[id]
	if !ok {
		return
	}
	if evictable && !h.evictable {
		r.evictable++
	}
	if !evictable && h.evictable {
		r.evictable--
	}
	h.evictable = evictable
}

// Remove drops a frame's access history entirely. Only evictable (or
// unknown) frames may be removed; the buffer pool calls this when a page
// leaves its frame.
func (r *LRUKReplacer) Remove(id primitives.FrameID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.removeLocked(id)
}

func (r *LRUKReplacer) removeLocked(id primitives.FrameID) {
	h, ok := r.frames[id]
	if !ok {
		return
	}
	if h.evictable {
		r.evictable--
	}
	delete(r.frames, id)
}

// Evict selects and removes the victim frame per the LRU-K policy.
// Returns false when no frame is evictable.
func (r *LRUKReplacer) Evict() (primitives.FrameID, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var (
		victim      primitives.FrameID
		found       bool
		foundInf    bool
		bestOldest  uint64
		bestKRecent uint64
	)

	for id, h := range r.frames {
		if !h.evictable {
			continue
		}
		if len(h.timestamps) < r.k {
			// Infinite backward k-distance: classical LRU by first
			// recorded access among these.
			oldest := h.timestamps[0]
			if !foundInf || oldest < bestOldest || (oldest == bestOldest && id < victim) {
				victim = id
				bestOldest = oldest
				foundInf = true
				found = true
			}
			continue
		}
		if foundInf {
			continue
		}
		kRecent := h.timestamps[0] // with exactly k entries, index 0 is the k-th most recent
		if !found || kRecent < bestKRecent || (kRecent == bestKRecent && id < victim) {
			victim = id
			bestKRecent = kRecent
			found = true
		}
	}

	if !found {
		return 0, false
	}
	r.removeLocked(victim)
	return victim, true
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.evictable
}
