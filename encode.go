package tef

import (
	"strconv"
	"time"
)

// Phase markers, as defined by the Trace Event Format.
const (
	PhaseComplete byte = 'X'
	PhaseBegin    byte = 'B'
	PhaseEnd      byte = 'E'
)

// Record is a single task, as it's handed to an event buffer. Start and End
// are offsets from the recorder epoch.
type Record struct {
	Domain Domain
	Name   Name
	Start  time.Duration
	End    time.Duration
	TID    int64
	Args   Args
}

// Duration of the task. Never negative.
func (r Record) Duration() time.Duration {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// separator delimits fragments in the traceEvents array.
var separator = []byte(",\n")

// encoder renders records as self-contained JSON objects. It holds only
// immutable state, and can be shared between threads.
type encoder struct {
	in       *Interner
	category []byte // escaped
	pid      []byte // formatted
}

func newEncoder(in *Interner, category string, pid int) *encoder {
	return &encoder{
		in:       in,
		category: escapeJSON(category),
		pid:      strconv.AppendInt(nil, int64(pid), 10),
	}
}

// appendEvent appends the fragment for r with the given phase to dst. Complete
// events carry both ts and dur, begin events carry the start as ts, and end
// events carry the end as ts.
func (enc *encoder) appendEvent(dst []byte, ph byte, r *Record) []byte {
	dst = append(dst, `{"name":"`...)
	if e := enc.in.lookup(kindDomain, uint32(r.Domain)); e != nil {
		dst = append(dst, e.escaped...)
	}
	dst = append(dst, "::"...)
	if e := enc.in.lookup(kindName, uint32(r.Name)); e != nil {
		dst = append(dst, e.escaped...)
	}
	dst = append(dst, `","cat":"`...)
	dst = append(dst, enc.category...)
	dst = append(dst, `","ph":"`...)
	dst = append(dst, ph)
	dst = append(dst, `","ts":`...)

	switch ph {
	case PhaseEnd:
		dst = strconv.AppendInt(dst, r.End.Microseconds(), 10)
	default:
		dst = strconv.AppendInt(dst, r.Start.Microseconds(), 10)
	}

	if ph == PhaseComplete {
		dst = append(dst, `,"dur":`...)
		dst = strconv.AppendInt(dst, r.Duration().Microseconds(), 10)
	}

	dst = append(dst, `,"pid":`...)
	dst = append(dst, enc.pid...)
	dst = append(dst, `,"tid":`...)
	dst = strconv.AppendInt(dst, r.TID, 10)

	if r.Args != nil && ph != PhaseBegin {
		dst = append(dst, `,"args":`...)
		dst = r.Args.appendArgs(dst, enc.in)
	}

	return append(dst, '}')
}
