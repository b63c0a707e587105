package tef

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Domain is an opaque handle to an interned domain, i.e. the subsystem that
// emits a task. Handles are comparable: two domains created from the same text
// by the same recorder are equal. The zero Domain is the no-op domain, and
// tasks begun with it are never recorded.
type Domain uint32

// Name is an opaque handle to an interned task name. Handles are comparable:
// two names created from the same text by the same recorder are equal. The
// zero Name is the no-op name, and tasks begun with it are never recorded.
type Name uint32

const maxInternEntries = 1 << 16

type internKind uint8

const (
	kindDomain internKind = iota
	kindName
)

// internEntry is immutable after creation, except for the enabled flag of
// domain entries.
type internEntry struct {
	text    string
	escaped []byte // JSON string contents, without the surrounding quotes
	enabled atomic.Bool
}

// internTable maps text to a handle. Handle n refers to entries[n-1]. Inserts
// append past the end of every published slice header and publish the longer
// header, so readers can load it without taking the lock: the elements they
// can see are never written again.
type internTable struct {
	index   map[string]uint32
	entries atomic.Pointer[[]*internEntry]
}

// Interner maps domain and name text to stable handles. It's safe for
// concurrent use. Handles are never invalidated, and entries are never freed
// for the lifetime of the interner.
type Interner struct {
	mtx      sync.Mutex
	tables   [2]internTable
	capacity int
	failures atomic.Uint64
}

// NewInterner returns an empty interner.
func NewInterner() *Interner {
	in := &Interner{capacity: maxInternEntries}
	for i := range in.tables {
		in.tables[i].index = map[string]uint32{}
		in.tables[i].entries.Store(&[]*internEntry{})
	}
	return in
}

// CreateDomain returns the handle for the given domain text, creating it if
// necessary. New domains are enabled. Empty text returns the zero Domain.
func (in *Interner) CreateDomain(text string) Domain {
	return Domain(in.intern(kindDomain, text))
}

// CreateName returns the handle for the given name text, creating it if
// necessary. Empty text returns the zero Name.
func (in *Interner) CreateName(text string) Name {
	return Name(in.intern(kindName, text))
}

func (in *Interner) intern(kind internKind, text string) uint32 {
	if text == "" {
		return 0
	}

	in.mtx.Lock()
	defer in.mtx.Unlock()

	tab := &in.tables[kind]
	if h, ok := tab.index[text]; ok {
		return h
	}

	prev := *tab.entries.Load()
	if len(prev) >= in.capacity {
		in.failures.Add(1)
		return 0
	}

	e := &internEntry{text: text, escaped: escapeJSON(text)}
	e.enabled.Store(true)

	next := append(prev, e)
	tab.entries.Store(&next)

	h := uint32(len(next))
	tab.index[text] = h
	return h
}

func (in *Interner) lookup(kind internKind, h uint32) *internEntry {
	if in == nil || h == 0 {
		return nil
	}
	entries := *in.tables[kind].entries.Load()
	if int(h) > len(entries) {
		return nil
	}
	return entries[h-1]
}

// DomainText returns the text of the domain, or the empty string for the zero
// or an unknown Domain.
func (in *Interner) DomainText(d Domain) string {
	if e := in.lookup(kindDomain, uint32(d)); e != nil {
		return e.text
	}
	return ""
}

// NameText returns the text of the name, or the empty string for the zero or
// an unknown Name.
func (in *Interner) NameText(n Name) string {
	if e := in.lookup(kindName, uint32(n)); e != nil {
		return e.text
	}
	return ""
}

// SetDomainEnabled controls whether tasks begun in the domain are recorded.
// Changing it has no effect on tasks that are already open.
func (in *Interner) SetDomainEnabled(d Domain, enabled bool) {
	if e := in.lookup(kindDomain, uint32(d)); e != nil {
		e.enabled.Store(enabled)
	}
}

// DomainEnabled reports whether the domain is known and enabled.
func (in *Interner) DomainEnabled(d Domain) bool {
	e := in.lookup(kindDomain, uint32(d))
	return e != nil && e.enabled.Load()
}

// Len returns the number of interned domains and names.
func (in *Interner) Len() (domains, names int) {
	return len(*in.tables[kindDomain].entries.Load()), len(*in.tables[kindName].entries.Load())
}

// Failures returns the number of intern calls that returned a zero handle
// because the table was full.
func (in *Interner) Failures() uint64 {
	return in.failures.Load()
}

// escapeJSON returns text encoded as the contents of a JSON string.
func escapeJSON(text string) []byte {
	b, err := json.Marshal(text)
	if err != nil || len(b) < 2 {
		return []byte{}
	}
	return b[1 : len(b)-1]
}
