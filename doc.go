// Package tef records tasks from instrumented code into a Trace Event Format
// file, which can be loaded by chrome://tracing, Perfetto, and similar tools.
//
// Instrumented code interns its domains and task names once, and then marks
// the beginning and end of each task on a [Thread]. A thread belongs to a
// single goroutine, and buffers serialized events without any locking. Full
// buffers, and the buffer of every closed thread, are flushed to a single
// shared [Sink], which owns the output file.
//
//	rec := tef.NewRecorder(tef.DefaultConfig())
//	defer rec.Close()
//
//	domain, name := rec.CreateDomain("db"), rec.CreateName("query")
//
//	th := rec.NewThread()
//	defer th.Close()
//
//	th.Begin(domain, name)
//	...
//	th.End(domain)
//
// Tasks are matched purely by call order: End always closes the innermost
// open task of the thread. Each completed task is written as a single
// "complete" event, carrying its start timestamp and its duration in
// microseconds.
//
// Recording is strictly best-effort. No method returns an error or panics
// because of a tracing problem. A sink that can't be created disables itself,
// unmatched End calls are ignored, and events flushed after the recorder is
// closed are dropped. Counters for all of these are available via
// [Recorder.Stats].
//
// Most applications should use [github.com/peterbourgon/tef/eztef], which
// maintains a process-wide recorder configured from the environment.
package tef
