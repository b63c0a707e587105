package tef

import (
	"context"
)

// Thread records tasks on behalf of a single goroutine. It owns a task stack
// and an event buffer, neither of which is synchronized, so a Thread must not
// be shared between goroutines.
//
// A Thread must be closed when the goroutine is done with it, typically via
// defer. Close flushes buffered events to the sink, and tells the recorder the
// thread has drained. Events buffered by a thread that's never closed are lost.
//
// All methods are no-ops on a nil Thread, a zero Thread, or a closed Thread.
type Thread struct {
	rec        *Recorder
	id         int64
	stack      taskStack
	buf        *EventBuffer
	closed     bool
	registered bool
}

// ID returns the thread ID written to the tid field of events.
func (th *Thread) ID() int64 {
	if th == nil {
		return 0
	}
	return th.id
}

// Begin opens a task. It's a no-op if collection is disabled, if either handle
// is zero, or if the domain is disabled.
func (th *Thread) Begin(d Domain, n Name) {
	if th == nil || th.rec == nil || th.closed || !th.rec.Enabled() {
		return
	}

	if d == 0 || n == 0 || !th.rec.interner.DomainEnabled(d) {
		return
	}

	if !th.stack.push(openTask{domain: d, name: n, start: th.rec.now()}) {
		th.rec.counters.DroppedEvents.Add(1)
	}
}

// End closes the innermost open task and records it. Tasks are matched to
// Begin calls purely by call order; the domain is informational. End is a
// no-op if collection is disabled, or if no task is open.
func (th *Thread) End(d Domain) {
	th.EndArgs(d, nil)
}

// EndArgs is like End, and attaches args to the recorded event.
func (th *Thread) EndArgs(_ Domain, args Args) {
	if th == nil || th.rec == nil || th.closed || !th.rec.Enabled() {
		return
	}

	if th.stack.depth() <= 0 {
		th.rec.counters.UnmatchedEnds.Add(1)
		return
	}

	t, ok := th.stack.pop()
	if !ok {
		return // its Begin overflowed the stack
	}

	r := Record{
		Domain: t.domain,
		Name:   t.name,
		Start:  t.start,
		End:    th.rec.now(),
		TID:    th.id,
		Args:   args,
	}

	if th.rec.summary != nil {
		th.rec.summary.observe(r.Domain, r.Name, r.Duration())
	}

	// A B fragment is only written once its task ends, so tasks left open at
	// Close never leave an unmatched B in the file.
	if th.rec.endPhase == PhaseEnd {
		th.buf.Append(PhaseBegin, &r)
	}
	th.buf.Append(th.rec.endPhase, &r)
}

// Region begins a task and returns a function that ends it.
//
//	defer th.Region(domain, name)()
func (th *Thread) Region(d Domain, n Name) (end func()) {
	th.Begin(d, n)
	return func() { th.End(d) }
}

// Depth returns the number of open tasks.
func (th *Thread) Depth() int {
	if th == nil {
		return 0
	}
	return th.stack.depth()
}

// Flush hands buffered events to the sink.
func (th *Thread) Flush() {
	if th == nil || th.buf == nil || th.closed {
		return
	}
	th.buf.Flush()
}

// Close flushes buffered events and releases the thread. Tasks that are still
// open are dropped. Close is idempotent.
func (th *Thread) Close() {
	if th == nil || th.closed {
		return
	}
	th.closed = true

	if th.rec == nil {
		return
	}

	if n := th.stack.reset(); n > 0 {
		th.rec.counters.OpenAtClose.Add(uint64(n))
	}

	if th.buf != nil {
		th.buf.release()
	}

	if th.registered {
		th.rec.releaseThread()
	}
}

//
//
//

type threadContextKey struct{}

// Put returns a new context containing the thread.
func Put(ctx context.Context, th *Thread) context.Context {
	return context.WithValue(ctx, threadContextKey{}, th)
}

// MaybeFromContext returns the thread in the context, if one exists.
func MaybeFromContext(ctx context.Context) (*Thread, bool) {
	th, ok := ctx.Value(threadContextKey{}).(*Thread)
	return th, ok && th != nil
}

// FromContext returns the thread in the context, or nil. Methods on a nil
// thread are no-ops, so the result is always safe to use.
func FromContext(ctx context.Context) *Thread {
	th, _ := MaybeFromContext(ctx)
	return th
}
