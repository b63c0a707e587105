package tef

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/tef/internal/tefdebug"
	"github.com/zoobzio/clockz"
)

// Stats is a snapshot of a recorder's counters.
type Stats = tefdebug.Snapshot

// Recorder owns everything shared by the threads of a trace: the interner,
// the sink, and the lifecycle that binds them. The sink is opened at most once
// and closed at most once, and Shutdown closes it only after every live thread
// has drained, or the drain deadline has passed.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	cfg      Config
	clock    clockz.Clock
	epoch    time.Time
	pid      int
	session  ulid.ULID
	opener   OpenFunc
	interner *Interner
	enc      *encoder
	sink     *Sink
	summary  *Summary
	endPhase byte
	enabled  atomic.Bool
	counters tefdebug.Counters
	nextTID  atomic.Int64
	info     *log.Logger
	debug    *log.Logger

	mtx     sync.Mutex
	closing bool
	live    sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a recorder.
type Option func(*Recorder)

// WithClock sets the clock used to timestamp tasks. The default is the real
// clock.
func WithClock(clock clockz.Clock) Option {
	return func(r *Recorder) { r.clock = clock }
}

// WithLogger sets the logger for lifecycle messages, like the location of the
// output file and the summary report. By default, nothing is logged.
func WithLogger(logger *log.Logger) Option {
	return func(r *Recorder) { r.info = logger }
}

// WithDebugLogger sets the logger for diagnostic messages. By default, nothing
// is logged.
func WithDebugLogger(logger *log.Logger) Option {
	return func(r *Recorder) { r.debug = logger }
}

// WithOpener overrides how the output resource is created. By default, the
// file at Config.OutputPath is created.
func WithOpener(open OpenFunc) Option {
	return func(r *Recorder) { r.opener = open }
}

// WithPID overrides the process ID written to events and used in the output
// file name. By default, os.Getpid is used.
func WithPID(pid int) Option {
	return func(r *Recorder) { r.pid = pid }
}

// NewRecorder returns a recorder for the config. Unless the config is
// disabled or asks for a lazy open, the output file is created immediately, so
// that even a trace with no events is a valid document.
func NewRecorder(cfg Config, options ...Option) *Recorder {
	cfg = cfg.withDefaults()

	r := &Recorder{
		cfg:      cfg,
		clock:    clockz.RealClock,
		pid:      os.Getpid(),
		endPhase: iff(cfg.Phase == PhaseModeDuration, PhaseEnd, PhaseComplete),
		info:     log.New(io.Discard, "", 0),
		debug:    log.New(io.Discard, "", 0),
	}
	for _, option := range options {
		option(r)
	}

	r.epoch = r.clock.Now()
	r.session = ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy())
	r.interner = NewInterner()
	r.enc = newEncoder(r.interner, cfg.Category, r.pid)

	path := cfg.OutputPath(r.pid)
	if r.opener == nil {
		r.opener = FileOpener(path)
	}
	r.sink = newSink(path, r.opener, r.header(), &r.counters, r.debug)

	if cfg.Summary {
		r.summary = newSummary(r.interner, cfg.SummaryPrefix)
	}

	r.enabled.Store(cfg.Enabled)
	if cfg.Enabled && !cfg.LazyOpen {
		r.openSink()
	}

	return r
}

func iff[T any](cond bool, yes, no T) T {
	if cond {
		return yes
	}
	return no
}

func (r *Recorder) header() []byte {
	var sb strings.Builder
	sb.WriteString(`{"otherData":{"session":"`)
	sb.WriteString(r.session.String())
	sb.WriteString(`","pid":`)
	sb.WriteString(strconv.Itoa(r.pid))
	sb.WriteString("},\"traceEvents\":[\n")
	return []byte(sb.String())
}

func (r *Recorder) openSink() {
	if r.sink.State() != SinkIdle {
		return
	}
	if r.sink.Open() {
		r.info.Printf("recording to %s (session %s)", r.sink.Name(), r.session)
	}
}

func (r *Recorder) now() time.Duration {
	return r.clock.Now().Sub(r.epoch)
}

// CreateDomain returns the handle for the domain text. See Interner.
func (r *Recorder) CreateDomain(text string) Domain {
	return r.interner.CreateDomain(text)
}

// CreateName returns the handle for the name text. See Interner.
func (r *Recorder) CreateName(text string) Name {
	return r.interner.CreateName(text)
}

// Interner returns the recorder's interner.
func (r *Recorder) Interner() *Interner {
	return r.interner
}

// NewThread returns a new thread, registered with the recorder until it's
// closed. Once Shutdown has begun, NewThread returns a closed thread, on which
// every method is a no-op.
func (r *Recorder) NewThread() *Thread {
	r.mtx.Lock()
	if r.closing {
		r.mtx.Unlock()
		return &Thread{rec: r, closed: true}
	}
	r.live.Add(1)
	r.mtx.Unlock()

	if r.enabled.Load() && r.cfg.LazyOpen {
		r.openSink()
	}

	r.counters.ThreadsOpened.Add(1)
	return &Thread{
		rec:        r,
		id:         r.nextTID.Add(1),
		buf:        newEventBuffer(r.sink, r.enc, &r.counters, r.cfg.BufferSize),
		registered: true,
	}
}

func (r *Recorder) releaseThread() {
	r.counters.ThreadsClosed.Add(1)
	r.live.Done()
}

// Do runs fn with a new thread, and closes the thread when fn returns.
func (r *Recorder) Do(fn func(th *Thread)) {
	th := r.NewThread()
	defer th.Close()
	fn(th)
}

// Enabled reports whether tasks are being recorded.
func (r *Recorder) Enabled() bool {
	return r.enabled.Load()
}

// SetEnabled pauses or resumes recording. Tasks that are open when recording
// is paused can't be ended until it's resumed.
func (r *Recorder) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
	if enabled {
		r.openSink()
	}
}

// Path returns the name of the output resource.
func (r *Recorder) Path() string {
	return r.sink.Name()
}

// Session returns the unique ID of this recording, which is written to the
// header of the output file.
func (r *Recorder) Session() string {
	return r.session.String()
}

// SinkState returns the state of the sink.
func (r *Recorder) SinkState() SinkState {
	return r.sink.State()
}

// Summary returns the task summary, or nil if it isn't enabled.
func (r *Recorder) Summary() *Summary {
	return r.summary
}

// Stats returns a snapshot of the recorder's counters.
func (r *Recorder) Stats() Stats {
	s := r.counters.Snapshot()
	s.InternFailures = r.interner.Failures()
	return s
}

// Shutdown stops new threads from registering, waits for every live thread to
// close, and then closes the sink. If ctx is done before every thread has
// closed, the sink is closed anyway, events flushed afterwards are dropped, and
// Shutdown returns an error wrapping the context error. Shutdown is
// idempotent: subsequent calls return the result of the first.
//
// Callers must close their own thread before calling Shutdown, or the drain
// will wait for the full deadline.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.mtx.Lock()
		r.closing = true
		r.mtx.Unlock()

		drained := make(chan struct{})
		go func() {
			r.live.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			r.debug.Printf("all threads drained")
		case <-ctx.Done():
			r.shutdownErr = fmt.Errorf("drain threads: %w", ctx.Err())
			r.info.Printf("closing with %d live thread(s): %v", r.liveCount(), ctx.Err())
		}

		if r.summary != nil {
			var sb strings.Builder
			if err := r.summary.WriteReport(&sb); err == nil && sb.Len() > 0 {
				r.info.Print(sb.String())
			}
		}

		if err := r.sink.Close(); err != nil {
			r.info.Printf("%v", err)
			if r.shutdownErr == nil {
				r.shutdownErr = err
			}
		}

		stats := r.Stats()
		r.info.Printf("finalized %s: %d event(s), %d thread(s)", r.sink.Name(), stats.Events, stats.ThreadsOpened)
	})
	return r.shutdownErr
}

// Close is Shutdown with a deadline of Config.DrainTimeout.
func (r *Recorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()
	return r.Shutdown(ctx)
}

func (r *Recorder) liveCount() uint64 {
	s := r.counters.Snapshot()
	return s.ThreadsOpened - s.ThreadsClosed
}
