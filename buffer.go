package tef

import (
	"sync"

	"github.com/peterbourgon/tef/internal/tefdebug"
)

// DefaultBufferSize is the default flush threshold of an event buffer.
const DefaultBufferSize = 4096

const maxPooledBuffer = 64 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		tefdebug.BufferCounters.Alloc.Add(1)
		b := make([]byte, 0, DefaultBufferSize+512)
		return &b
	},
}

func getBuffer() *[]byte {
	tefdebug.BufferCounters.Get.Add(1)
	return bufferPool.Get().(*[]byte)
}

func putBuffer(b *[]byte) {
	if cap(*b) > maxPooledBuffer {
		return
	}
	tefdebug.BufferCounters.Put.Add(1)
	*b = (*b)[:0]
	bufferPool.Put(b)
}

// EventBuffer accumulates serialized fragments on behalf of a single thread,
// and hands them to the sink in batches. It's not safe for concurrent use: the
// contents and the separator flag belong to the owning thread, and Flush is a
// one-way hand-off to the sink, under the sink's lock.
type EventBuffer struct {
	sink      *Sink
	enc       *encoder
	counters  *tefdebug.Counters
	buf       *[]byte
	threshold int
	needsSep  bool // buf holds at least one fragment
	pending   int  // fragments in buf
}

func newEventBuffer(sink *Sink, enc *encoder, counters *tefdebug.Counters, threshold int) *EventBuffer {
	if threshold <= 0 {
		threshold = DefaultBufferSize
	}
	return &EventBuffer{
		sink:      sink,
		enc:       enc,
		counters:  counters,
		buf:       getBuffer(),
		threshold: threshold,
	}
}

// Append serializes the record as a fragment with the given phase. If the
// buffer grows beyond its threshold, it's flushed.
func (b *EventBuffer) Append(ph byte, r *Record) {
	if b.buf == nil {
		return
	}

	if b.needsSep {
		*b.buf = append(*b.buf, separator...)
	}
	*b.buf = b.enc.appendEvent(*b.buf, ph, r)
	b.needsSep = true
	b.pending++
	b.counters.Events.Add(1)

	if len(*b.buf) >= b.threshold {
		b.Flush()
	}
}

// Len returns the number of buffered bytes.
func (b *EventBuffer) Len() int {
	if b.buf == nil {
		return 0
	}
	return len(*b.buf)
}

// Pending returns the number of buffered fragments.
func (b *EventBuffer) Pending() int {
	return b.pending
}

// Flush hands the buffered fragments to the sink and clears the buffer.
// Flushing an empty buffer is a no-op. If the sink isn't open, the fragments
// are dropped.
func (b *EventBuffer) Flush() {
	if b.buf == nil || len(*b.buf) <= 0 {
		return
	}

	if b.sink.Write(*b.buf) {
		b.counters.Flushes.Add(1)
	}

	*b.buf = (*b.buf)[:0]
	b.needsSep = false
	b.pending = 0
}

// release flushes the buffer and returns its memory to the pool. The buffer
// is unusable afterwards.
func (b *EventBuffer) release() {
	b.Flush()
	if b.buf != nil {
		putBuffer(b.buf)
		b.buf = nil
	}
}
