package tefdebug

import "sync/atomic"

// PoolCounters track operations on a sync.Pool for a specific type.
type PoolCounters struct {
	Get   atomic.Uint64
	Alloc atomic.Uint64
	Put   atomic.Uint64
}

// ReusePercent returns the percent (0..100) reuse of the pool type.
func (pc *PoolCounters) ReusePercent() float64 {
	var (
		get   = pc.Get.Load()
		alloc = pc.Alloc.Load()
		reuse = get - alloc
	)
	if get <= 0 {
		return 0.0
	}
	return 100 * float64(reuse) / float64(get)
}

// Values returns the current values of the counters.
func (pc *PoolCounters) Values() (get, alloc, put uint64, reuse float64) {
	return pc.Get.Load(), pc.Alloc.Load(), pc.Put.Load(), pc.ReusePercent()
}

// BufferCounters tracks the event buffer pool.
var BufferCounters PoolCounters

// Counters track the activity of a single recorder. Every field is safe for
// concurrent use. Counters are monotonic.
type Counters struct {
	Events        atomic.Uint64 // fragments serialized
	Flushes       atomic.Uint64 // non-empty buffer hand-offs to the sink
	BytesWritten  atomic.Uint64 // bytes accepted by the sink, incl. header and footer
	DroppedWrites atomic.Uint64 // batches dropped by a sink that wasn't open
	DroppedEvents atomic.Uint64 // tasks dropped because of stack overflow
	UnmatchedEnds atomic.Uint64 // End calls with an empty stack
	OpenAtClose   atomic.Uint64 // tasks still open when their thread closed
	ThreadsOpened atomic.Uint64
	ThreadsClosed atomic.Uint64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Events         uint64 `json:"events"`
	Flushes        uint64 `json:"flushes"`
	BytesWritten   uint64 `json:"bytes_written"`
	DroppedWrites  uint64 `json:"dropped_writes"`
	DroppedEvents  uint64 `json:"dropped_events"`
	UnmatchedEnds  uint64 `json:"unmatched_ends"`
	InternFailures uint64 `json:"intern_failures"`
	OpenAtClose    uint64 `json:"open_at_close"`
	ThreadsOpened  uint64 `json:"threads_opened"`
	ThreadsClosed  uint64 `json:"threads_closed"`
}

// Snapshot returns the current values of the counters. Individual fields are
// loaded independently, so the snapshot isn't atomic as a whole. InternFailures
// is owned by the interner and left zero.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Events:        c.Events.Load(),
		Flushes:       c.Flushes.Load(),
		BytesWritten:  c.BytesWritten.Load(),
		DroppedWrites: c.DroppedWrites.Load(),
		DroppedEvents: c.DroppedEvents.Load(),
		UnmatchedEnds: c.UnmatchedEnds.Load(),
		OpenAtClose:   c.OpenAtClose.Load(),
		ThreadsOpened: c.ThreadsOpened.Load(),
		ThreadsClosed: c.ThreadsClosed.Load(),
	}
}
