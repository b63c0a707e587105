package tef_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/peterbourgon/tef"
	"github.com/peterbourgon/tef/tefmerge"
	"github.com/zoobzio/clockz"
)

func TestNestedTasks(t *testing.T) {
	t.Parallel()

	clock := clockz.NewFakeClock()
	rec := tef.NewRecorder(testConfig(t), tef.WithClock(clock))

	var (
		d = rec.CreateDomain("D")
		a = rec.CreateName("A")
		b = rec.CreateName("B")
	)

	th := rec.NewThread()
	th.Begin(d, a) // t=0
	clock.Advance(10 * time.Microsecond)
	th.Begin(d, b) // t=10
	clock.Advance(50 * time.Microsecond)
	th.End(d) // t=60, closes B
	clock.Advance(40 * time.Microsecond)
	th.End(d) // t=100, closes A
	th.Close()

	assertNoError(t, rec.Close())

	tf := readTrace(t, rec.Path())
	pid, tid := os.Getpid(), th.ID()
	assertEqual(t, []traceEvent{
		{Name: "D::B", Cat: "task", Ph: "X", TS: 10, Dur: 50, PID: pid, TID: tid},
		{Name: "D::A", Cat: "task", Ph: "X", TS: 0, Dur: 100, PID: pid, TID: tid},
	}, tf.TraceEvents)

	assertEqual(t, rec.Session(), tf.OtherData["session"].(string))
	assertEqual(t, filepath.Base(rec.Path()), "trace."+strconv.Itoa(pid)+".json")
}

func TestZeroEvents(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	assertNoError(t, rec.Close())

	data, err := os.ReadFile(rec.Path())
	assertNoError(t, err)

	tf := parseTrace(t, data)
	assertEqual(t, 0, len(tf.TraceEvents))

	if !bytes.HasSuffix(data, []byte("\"traceEvents\":[\n\n]}\n")) {
		t.Errorf("unexpected document shape: %q", data)
	}
}

func TestConcurrentThreads(t *testing.T) {
	t.Parallel()

	const (
		threads = 8
		pairs   = 500
	)

	cfg := testConfig(t)
	cfg.BufferSize = 256
	rec := tef.NewRecorder(cfg)

	var (
		d = rec.CreateDomain("domain")
		n = rec.CreateName("name")
	)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := rec.NewThread()
			defer th.Close()
			for j := 0; j < pairs; j++ {
				th.Begin(d, n)
				th.End(d)
			}
		}()
	}
	wg.Wait()

	assertNoError(t, rec.Close())

	tf := readTrace(t, rec.Path())
	assertEqual(t, threads*pairs, len(tf.TraceEvents))

	perThread := map[int64][]int64{}
	for _, ev := range tf.TraceEvents {
		perThread[ev.TID] = append(perThread[ev.TID], ev.TS)
	}
	assertEqual(t, threads, len(perThread))
	for tid, ts := range perThread {
		assertEqual(t, pairs, len(ts))
		if !sort.SliceIsSorted(ts, func(i, j int) bool { return ts[i] < ts[j] }) {
			t.Errorf("tid %d: events out of order", tid)
		}
	}

	stats := rec.Stats()
	assertEqual(t, uint64(threads*pairs), stats.Events)
	assertEqual(t, uint64(threads), stats.ThreadsOpened)
	assertEqual(t, uint64(threads), stats.ThreadsClosed)
	if stats.Flushes <= threads {
		t.Errorf("expected threshold flushes, got %d flushes", stats.Flushes)
	}
}

func TestTwoThreadsOnePairEach(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	d, n := rec.CreateDomain("D"), rec.CreateName("N")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go rec.Do(func(th *tef.Thread) {
			defer wg.Done()
			th.Begin(d, n)
			th.End(d)
		})
	}
	wg.Wait()

	assertNoError(t, rec.Close())
	assertEqual(t, 2, len(readTrace(t, rec.Path()).TraceEvents))
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	rec.Do(func(th *tef.Thread) {
		defer th.Region(rec.CreateDomain("D"), rec.CreateName("N"))()
	})

	assertNoError(t, rec.Close())
	first, err := os.ReadFile(rec.Path())
	assertNoError(t, err)

	assertNoError(t, rec.Close())
	assertNoError(t, rec.Shutdown(context.Background()))
	second, err := os.ReadFile(rec.Path())
	assertNoError(t, err)

	assertEqual(t, string(first), string(second))
	assertEqual(t, tef.SinkClosed, rec.SinkState())
}

func TestUnmatchedEnd(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	d, n := rec.CreateDomain("D"), rec.CreateName("N")

	th := rec.NewThread()
	th.End(d)
	th.End(0)
	th.Begin(d, n)
	th.End(d)
	th.Close()

	assertNoError(t, rec.Close())

	tf := readTrace(t, rec.Path())
	assertEqual(t, 1, len(tf.TraceEvents))
	assertEqual(t, "D::N", tf.TraceEvents[0].Name)
	assertEqual(t, uint64(2), rec.Stats().UnmatchedEnds)
}

func TestEventCountMatchesNonEmptyEnds(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.BufferSize = 128
	rec := tef.NewRecorder(cfg)
	d, n := rec.CreateDomain("D"), rec.CreateName("N")

	var (
		rng   = rand.New(rand.NewSource(1))
		depth = 0
		want  = 0
	)

	th := rec.NewThread()
	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			th.Begin(d, n)
			depth++
		} else {
			if depth > 0 {
				want++
				depth--
			}
			th.End(d)
		}
		assertEqual(t, depth, th.Depth())
	}
	th.Close()

	assertNoError(t, rec.Close())
	assertEqual(t, want, len(readTrace(t, rec.Path()).TraceEvents))
	assertEqual(t, uint64(depth), rec.Stats().OpenAtClose)
}

func TestNoopHandles(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	d, n := rec.CreateDomain("D"), rec.CreateName("N")
	off := rec.CreateDomain("off")
	rec.Interner().SetDomainEnabled(off, false)

	rec.Do(func(th *tef.Thread) {
		th.Begin(0, n)
		th.Begin(d, 0)
		th.Begin(rec.CreateDomain(""), rec.CreateName(""))
		th.Begin(off, n)
		assertEqual(t, 0, th.Depth())
		th.End(d)
	})

	assertNoError(t, rec.Close())
	assertEqual(t, 0, len(readTrace(t, rec.Path()).TraceEvents))
}

func TestDisabledRecorder(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Enabled = false
	rec := tef.NewRecorder(cfg)
	d, n := rec.CreateDomain("D"), rec.CreateName("N")

	rec.Do(func(th *tef.Thread) {
		th.Begin(d, n)
		th.End(d)
	})

	assertNoError(t, rec.Close())
	assertEqual(t, uint64(0), rec.Stats().Events)

	if _, err := os.Stat(rec.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want no output file, have %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	d, a, b := rec.CreateDomain("D"), rec.CreateName("A"), rec.CreateName("B")

	rec.Do(func(th *tef.Thread) {
		rec.SetEnabled(false)
		th.Begin(d, a)
		th.End(d)
		assertEqual(t, 0, th.Depth())

		rec.SetEnabled(true)
		th.Begin(d, b)
		th.End(d)
	})

	assertNoError(t, rec.Close())

	tf := readTrace(t, rec.Path())
	assertEqual(t, 1, len(tf.TraceEvents))
	assertEqual(t, "D::B", tf.TraceEvents[0].Name)
}

func TestLazyOpen(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.LazyOpen = true
	rec := tef.NewRecorder(cfg)
	assertEqual(t, tef.SinkIdle, rec.SinkState())

	if _, err := os.Stat(rec.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want no output file yet, have %v", err)
	}

	rec.Do(func(th *tef.Thread) {
		assertEqual(t, tef.SinkOpen, rec.SinkState())
	})

	assertNoError(t, rec.Close())
	assertEqual(t, 0, len(readTrace(t, rec.Path()).TraceEvents))
}

func TestOpenFailure(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t), tef.WithOpener(func() (io.WriteCloser, error) {
		return nil, os.ErrPermission
	}))
	assertEqual(t, tef.SinkDisabled, rec.SinkState())

	d, n := rec.CreateDomain("D"), rec.CreateName("N")
	rec.Do(func(th *tef.Thread) {
		th.Begin(d, n)
		th.End(d)
	})

	assertNoError(t, rec.Close())
	assertEqual(t, tef.SinkDisabled, rec.SinkState())

	stats := rec.Stats()
	assertEqual(t, uint64(1), stats.Events)
	assertEqual(t, uint64(1), stats.DroppedWrites)
	assertEqual(t, uint64(0), stats.Flushes)
}

func TestShutdownDeadline(t *testing.T) {
	t.Parallel()

	f := &memFile{}
	rec := tef.NewRecorder(testConfig(t), tef.WithOpener(f.opener(nil)))
	d, n := rec.CreateDomain("D"), rec.CreateName("N")

	late := rec.NewThread()
	late.Begin(d, n)
	late.End(d)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := rec.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, have %v", err)
	}
	assertEqual(t, tef.SinkClosed, rec.SinkState())

	late.Close() // flush after close is dropped

	assertEqual(t, 0, len(parseTrace(t, f.Bytes()).TraceEvents))
	assertEqual(t, 1, f.Closes())
	assertEqual(t, uint64(1), rec.Stats().DroppedWrites)
}

func TestShutdownWaitsForThreads(t *testing.T) {
	t.Parallel()

	f := &memFile{}
	rec := tef.NewRecorder(testConfig(t), tef.WithOpener(f.opener(nil)))
	d, n := rec.CreateDomain("D"), rec.CreateName("N")

	th := rec.NewThread()
	th.Begin(d, n)
	th.End(d)

	done := make(chan error)
	go func() { done <- rec.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Shutdown returned before the thread closed: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	th.Close()
	assertNoError(t, <-done)
	assertEqual(t, 1, len(parseTrace(t, f.Bytes()).TraceEvents))
}

func TestNewThreadAfterShutdown(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	assertNoError(t, rec.Close())

	th := rec.NewThread()
	th.Begin(rec.CreateDomain("D"), rec.CreateName("N"))
	assertEqual(t, 0, th.Depth())
	th.End(0)
	th.Flush()
	th.Close()

	assertEqual(t, uint64(0), rec.Stats().ThreadsOpened)
}

func TestDurationPhase(t *testing.T) {
	t.Parallel()

	clock := clockz.NewFakeClock()
	cfg := testConfig(t)
	cfg.Phase = tef.PhaseModeDuration
	rec := tef.NewRecorder(cfg, tef.WithClock(clock))
	d, n := rec.CreateDomain("D"), rec.CreateName("N")

	th := rec.NewThread()
	clock.Advance(5 * time.Microsecond)
	th.Begin(d, n)
	clock.Advance(20 * time.Microsecond)
	th.End(d)
	th.Close()

	assertNoError(t, rec.Close())

	pid, tid := os.Getpid(), th.ID()
	assertEqual(t, []traceEvent{
		{Name: "D::N", Cat: "task", Ph: "B", TS: 5, PID: pid, TID: tid},
		{Name: "D::N", Cat: "task", Ph: "E", TS: 25, PID: pid, TID: tid},
	}, readTrace(t, rec.Path()).TraceEvents)
}

func TestDurationPhaseOpenAtClose(t *testing.T) {
	t.Parallel()

	clock := clockz.NewFakeClock()
	cfg := testConfig(t)
	cfg.Phase = tef.PhaseModeDuration
	rec := tef.NewRecorder(cfg, tef.WithClock(clock))
	d, outer, inner := rec.CreateDomain("D"), rec.CreateName("outer"), rec.CreateName("inner")

	th := rec.NewThread()
	th.Begin(d, outer)
	clock.Advance(time.Microsecond)
	th.Begin(d, inner)
	clock.Advance(2 * time.Microsecond)
	th.End(d)
	th.Begin(d, outer)
	th.Close()

	assertNoError(t, rec.Close())

	pid, tid := os.Getpid(), th.ID()
	assertEqual(t, []traceEvent{
		{Name: "D::inner", Cat: "task", Ph: "B", TS: 1, PID: pid, TID: tid},
		{Name: "D::inner", Cat: "task", Ph: "E", TS: 3, PID: pid, TID: tid},
	}, readTrace(t, rec.Path()).TraceEvents)
	assertEqual(t, uint64(2), rec.Stats().OpenAtClose)

	events, truncated, err := tefmerge.ReadFile(rec.Path())
	assertNoError(t, err)
	assertEqual(t, false, truncated)
	assertEqual(t, 0, tefmerge.Inspect(events).Unclosed)
}

func TestZeroThread(t *testing.T) {
	t.Parallel()

	var th tef.Thread
	th.Begin(1, 1)
	th.End(1)
	th.EndArgs(1, tef.MPIInternalArgs{Counter: 1})
	th.Region(1, 1)()
	th.Flush()
	th.Close()
	th.Close()
	assertEqual(t, 0, th.Depth())
	assertEqual(t, int64(0), th.ID())
}

func TestEndArgs(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Category = "CCL"
	rec := tef.NewRecorder(cfg)
	d, n, k := rec.CreateDomain("oneCCL"), rec.CreateName("allreduce"), rec.CreateName("bytes")

	rec.Do(func(th *tef.Thread) {
		th.Begin(d, n)
		th.EndArgs(d, tef.MPIArgs{SrcSize: 64, SrcLocation: 1, SrcTag: 2, DstSize: 128, DstLocation: 3, DstTag: 4})
		th.Begin(d, n)
		th.EndArgs(d, tef.MPIInternalArgs{Counter: -1, SrcSize: 8, DstSize: 16})
		th.Begin(d, n)
		th.EndArgs(d, tef.MetadataArgs{Key: k, Values: []float64{1.5, 2}})
	})

	assertNoError(t, rec.Close())

	events := readTrace(t, rec.Path()).TraceEvents
	assertEqual(t, 3, len(events))
	assertEqual(t, "CCL", events[0].Cat)
	assertEqual(t, map[string]any{
		"src_size": 64.0, "src_location": 1.0, "src_tag": 2.0,
		"dst_size": 128.0, "dst_location": 3.0, "dst_tag": 4.0,
	}, events[0].Args)
	assertEqual(t, map[string]any{"mpi_counter": -1.0, "src_size": 8.0, "dst_size": 16.0}, events[1].Args)
	assertEqual(t, map[string]any{"bytes": []any{1.5, 2.0}}, events[2].Args)
}

func TestEscapedNames(t *testing.T) {
	t.Parallel()

	rec := tef.NewRecorder(testConfig(t))
	d, n := rec.CreateDomain(`my "domain"`), rec.CreateName("line\nbreak\\")

	rec.Do(func(th *tef.Thread) {
		th.Begin(d, n)
		th.End(d)
	})

	assertNoError(t, rec.Close())
	assertEqual(t, "my \"domain\"::line\nbreak\\", readTrace(t, rec.Path()).TraceEvents[0].Name)
}

func TestContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, ok := tef.MaybeFromContext(ctx); ok {
		t.Fatalf("unexpectedly got thread from fresh context")
	}

	tef.FromContext(ctx).Begin(1, 1) // nil thread is a no-op
	tef.FromContext(ctx).End(1)
	tef.FromContext(ctx).Close()

	rec := tef.NewRecorder(testConfig(t))
	rec.Do(func(th *tef.Thread) {
		ctx := tef.Put(ctx, th)
		have, ok := tef.MaybeFromContext(ctx)
		assertEqual(t, true, ok)
		assertEqual(t, th.ID(), have.ID())
	})
	assertNoError(t, rec.Close())
}

func TestSummary(t *testing.T) {
	t.Parallel()

	clock := clockz.NewFakeClock()
	cfg := testConfig(t)
	cfg.Summary = true
	cfg.SummaryPrefix = "oneCCL::"
	rec := tef.NewRecorder(cfg, tef.WithClock(clock))

	var (
		ccl   = rec.CreateDomain("oneCCL")
		other = rec.CreateDomain("other")
		ar    = rec.CreateName("allreduce")
		bc    = rec.CreateName("bcast")
	)

	rec.Do(func(th *tef.Thread) {
		for _, took := range []time.Duration{10, 30, 20} {
			th.Begin(ccl, ar)
			clock.Advance(took * time.Microsecond)
			th.End(ccl)
		}
		th.Begin(ccl, bc)
		clock.Advance(100 * time.Microsecond)
		th.End(ccl)
		th.Begin(other, ar)
		clock.Advance(time.Second)
		th.End(other)
	})

	assertEqual(t, []tef.TaskStats{
		{Name: "oneCCL::bcast", Count: 1, Total: 100 * time.Microsecond, Min: 100 * time.Microsecond, Max: 100 * time.Microsecond},
		{Name: "oneCCL::allreduce", Count: 3, Total: 60 * time.Microsecond, Min: 10 * time.Microsecond, Max: 30 * time.Microsecond},
	}, rec.Summary().Stats())

	var buf bytes.Buffer
	assertNoError(t, rec.Summary().WriteReport(&buf))
	if !bytes.Contains(buf.Bytes(), []byte("oneCCL::allreduce")) || bytes.Contains(buf.Bytes(), []byte("other::")) {
		t.Errorf("unexpected report:\n%s", buf.String())
	}

	assertNoError(t, rec.Close())
}
