package wal

import (
	"sync"

	"github.com/thedenisnikulin/reindexer/errs"
)

// DefaultCapacity is the ring size when none is configured.
const DefaultCapacity = 4_000_000

// Tracker is the fixed-capacity record ring. When the ring is full the
// oldest record is overwritten; readers that fall behind get a
// force-resync error.
type Tracker struct {
	mu       sync.RWMutex
	ring     []Record
	capacity int
	// lsnCounter is the next counter to assign.
	lsnCounter int64
	server     int16
}

// NewTracker creates a ring with the given capacity.
func NewTracker(capacity int, server int16) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{capacity: capacity, server: server}
}

// SetServer changes the server id stamped on new records.
func (t *Tracker) SetServer(server int16) {
	t.mu.Lock()
	t.server = server
	t.mu.Unlock()
}

// Server returns the current server id.
func (t *Tracker) Server() int16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.server
}

// Add appends a record and returns its LSN. When originLSN is set the
// record was produced upstream and its counter is adopted so slaves
// stay LSN-aligned with the master.
func (t *Tracker) Add(rec Record, originLSN LSN) LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	counter := t.lsnCounter
	if !originLSN.IsEmpty() {
		counter = originLSN.Counter()
		if counter >= t.lsnCounter {
			t.lsnCounter = counter + 1
		}
	} else {
		t.lsnCounter++
	}
	t.put(counter, rec)
	return NewLSN(t.server, counter)
}

func (t *Tracker) put(counter int64, rec Record) {
	slot := int(counter % int64(t.capacity))
	for len(t.ring) <= slot {
		t.ring = append(t.ring, Record{})
	}
	t.ring[slot] = rec
}

// LSNCounter returns the next counter to be assigned.
func (t *Tracker) LSNCounter() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lsnCounter
}

// FirstCounter returns the oldest counter still held by the ring.
func (t *Tracker) FirstCounter() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.firstCounterLocked()
}

func (t *Tracker) firstCounterLocked() int64 {
	if t.lsnCounter <= int64(t.capacity) {
		return 0
	}
	return t.lsnCounter - int64(t.capacity)
}

// Get returns the record at the given counter.
func (t *Tracker) Get(counter int64) (Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if counter >= t.lsnCounter {
		return Record{}, errs.NotFound("wal record %d not written yet", counter)
	}
	if counter < t.firstCounterLocked() {
		return Record{}, errs.Logic("wal record %d was overwritten, resync required", counter)
	}
	return t.ring[int(counter%int64(t.capacity))], nil
}

// ForEach walks records from the given counter in LSN order. The walk
// stops when fn returns false. Walking from before the ring start
// fails, signalling that the follower must force-resync.
func (t *Tracker) ForEach(from int64, fn func(counter int64, rec Record) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if from < t.firstCounterLocked() {
		return errs.NotValid("wal records from %d were overwritten, resync required", from)
	}
	for c := from; c < t.lsnCounter; c++ {
		if !fn(c, t.ring[int(c%int64(t.capacity))]) {
			return nil
		}
	}
	return nil
}

// Size reports how many records the ring currently holds.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.lsnCounter - t.firstCounterLocked())
}

// Capacity returns the configured ring capacity.
func (t *Tracker) Capacity() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.capacity
}

// Resize changes the ring capacity, keeping the newest records that fit.
func (t *Tracker) Resize(capacity int) {
	if capacity <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.ring
	oldCap := t.capacity
	first := t.firstCounterLocked()
	if keep := t.lsnCounter - int64(capacity); keep > first {
		first = keep
	}
	t.capacity = capacity
	t.ring = nil
	for c := first; c < t.lsnCounter; c++ {
		t.put(c, old[int(c%int64(oldCap))])
	}
}

// Reset drops all records and restarts the counter, used on truncate
// and force-resync.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.ring = nil
	t.lsnCounter = 0
	t.mu.Unlock()
}
