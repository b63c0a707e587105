package tef

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/peterbourgon/tef/internal/tefdebug"
)

// SinkState describes where a sink is in its lifecycle. A sink moves from
// idle to open, and then to closed. Any failure moves it to disabled, which,
// like closed, is permanent.
type SinkState uint32

// Sink states.
const (
	SinkIdle SinkState = iota
	SinkOpen
	SinkDisabled
	SinkClosed
)

func (s SinkState) String() string {
	switch s {
	case SinkIdle:
		return "idle"
	case SinkOpen:
		return "open"
	case SinkDisabled:
		return "disabled"
	case SinkClosed:
		return "closed"
	default:
		return fmt.Sprintf("SinkState(%d)", uint32(s))
	}
}

// OpenFunc creates the output resource of a sink.
type OpenFunc func() (io.WriteCloser, error)

// FileOpener returns an OpenFunc that creates (or truncates) the file at path,
// creating parent directories as necessary.
func FileOpener(path string) OpenFunc {
	return func() (io.WriteCloser, error) {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create file: %w", err)
		}
		return f, nil
	}
}

var (
	defaultHeader = []byte("{\"traceEvents\":[\n")
	footer        = []byte("\n]}\n")
)

// Sink is the single shared destination of a trace. It owns the output
// resource, writes the header when it's opened and the footer when it's
// closed, and serializes batches of fragments flushed by event buffers.
// Sink is safe for concurrent use.
//
// Failures never propagate to callers: a sink that can't be opened, or that
// fails a write, becomes disabled, and subsequent writes are dropped.
type Sink struct {
	mtx      sync.Mutex
	state    atomic.Uint32 // written under mtx
	name     string
	open     OpenFunc
	w        io.WriteCloser
	header   []byte
	wroteAny bool // at least one fragment has been written
	counters *tefdebug.Counters
	logger   *log.Logger
}

// NewSink returns an idle sink which will write to the resource returned by
// open. The header is written when the sink is opened, and should open the
// top-level object and the traceEvents array; if it's nil, a minimal header is
// used. Problems are reported to the logger, which may be nil.
func NewSink(name string, open OpenFunc, header []byte, logger *log.Logger) *Sink {
	return newSink(name, open, header, &tefdebug.Counters{}, logger)
}

func newSink(name string, open OpenFunc, header []byte, counters *tefdebug.Counters, logger *log.Logger) *Sink {
	if header == nil {
		header = defaultHeader
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Sink{
		name:     name,
		open:     open,
		header:   header,
		counters: counters,
		logger:   logger,
	}
}

// Name of the sink, typically the path of the output file.
func (s *Sink) Name() string { return s.name }

// State returns the current state of the sink.
func (s *Sink) State() SinkState { return SinkState(s.state.Load()) }

// Open creates the output resource and writes the header. It's idempotent:
// only the first call has any effect, and concurrent first calls are
// serialized. Open reports whether the sink is open for writes.
func (s *Sink) Open() bool {
	if st := s.State(); st != SinkIdle {
		return st == SinkOpen
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if st := s.State(); st != SinkIdle {
		return st == SinkOpen
	}

	w, err := s.open()
	if err != nil {
		s.disable("open", err)
		return false
	}

	n, err := w.Write(s.header)
	s.counters.BytesWritten.Add(uint64(n))
	if err != nil {
		w.Close()
		s.disable("write header", err)
		return false
	}

	s.w = w
	s.state.Store(uint32(SinkOpen))
	s.logger.Printf("%s: opened", s.name)
	return true
}

// Write appends a batch of one or more comma-separated fragments. A separator
// is written first if any fragment has already been written, so that the
// traceEvents array stays well-formed regardless of which thread flushes
// first. Batches are dropped unless the sink is open. Write reports whether the
// batch was written.
func (s *Sink) Write(batch []byte) bool {
	if len(batch) <= 0 {
		return true
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.State() != SinkOpen {
		s.counters.DroppedWrites.Add(1)
		return false
	}

	if s.wroteAny {
		n, err := s.w.Write(separator)
		s.counters.BytesWritten.Add(uint64(n))
		if err != nil {
			s.fail(err)
			return false
		}
	}

	n, err := s.w.Write(batch)
	s.counters.BytesWritten.Add(uint64(n))
	if err != nil {
		s.fail(err)
		return false
	}

	s.wroteAny = true
	return true
}

// Close writes the footer and releases the output resource. It's idempotent:
// only the first call has any effect. Close waits for in-flight writes, and
// subsequent writes are dropped. Closing a sink that was never opened doesn't
// create the output resource.
func (s *Sink) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch s.State() {
	case SinkIdle:
		s.state.Store(uint32(SinkClosed))
		return nil

	case SinkOpen:
		s.state.Store(uint32(SinkClosed))

		n, werr := s.w.Write(footer)
		s.counters.BytesWritten.Add(uint64(n))
		cerr := s.w.Close()
		s.w = nil

		switch {
		case werr != nil:
			return fmt.Errorf("%s: write footer: %w", s.name, werr)
		case cerr != nil:
			return fmt.Errorf("%s: close: %w", s.name, cerr)
		}

		s.logger.Printf("%s: closed", s.name)
		return nil

	default:
		return nil
	}
}

// fail disables an open sink after a write error. The file is left without a
// footer. Must be called with mtx held.
func (s *Sink) fail(err error) {
	s.w.Close()
	s.w = nil
	s.disable("write", err)
}

// disable must be called with mtx held.
func (s *Sink) disable(op string, err error) {
	s.state.Store(uint32(SinkDisabled))
	s.logger.Printf("%s: %s failed, recording disabled: %v", s.name, op, err)
}
