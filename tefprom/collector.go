// Package tefprom exposes the counters of a recorder as Prometheus metrics.
package tefprom

import (
	"errors"

	"github.com/peterbourgon/tef"
	"github.com/peterbourgon/tef/internal/tefdebug"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tef"

// Collector reads the counters of a recorder at scrape time. Recording never
// touches Prometheus types, so it adds no cost to Begin and End.
type Collector struct {
	rec *tef.Recorder

	events         *prometheus.Desc
	flushes        *prometheus.Desc
	bytesWritten   *prometheus.Desc
	droppedWrites  *prometheus.Desc
	droppedEvents  *prometheus.Desc
	unmatchedEnds  *prometheus.Desc
	internFailures *prometheus.Desc
	openAtClose    *prometheus.Desc
	threadsOpened  *prometheus.Desc
	liveThreads    *prometheus.Desc
	interned       *prometheus.Desc
	sinkState      *prometheus.Desc
	enabled        *prometheus.Desc
	bufferPool     *prometheus.Desc
}

// NewCollector returns a collector for the recorder. Metrics carry a constant
// session label, so that recorders can share a registry.
func NewCollector(rec *tef.Recorder) *Collector {
	labels := prometheus.Labels{"session": rec.Session()}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, variable, labels)
	}
	return &Collector{
		rec:            rec,
		events:         desc("", "events_total", "Events serialized into thread buffers."),
		flushes:        desc("sink", "flushes_total", "Batches written to the sink."),
		bytesWritten:   desc("sink", "written_bytes_total", "Bytes written to the output file."),
		droppedWrites:  desc("sink", "dropped_writes_total", "Batches dropped because the sink wasn't open."),
		droppedEvents:  desc("thread", "dropped_events_total", "Tasks dropped because the task stack was full."),
		unmatchedEnds:  desc("thread", "unmatched_ends_total", "End calls with no open task."),
		internFailures: desc("intern", "failures_total", "Intern calls that returned a zero handle."),
		openAtClose:    desc("thread", "open_at_close_total", "Tasks still open when their thread closed."),
		threadsOpened:  desc("thread", "opened_total", "Threads created."),
		liveThreads:    desc("thread", "live", "Threads created and not yet closed."),
		interned:       desc("intern", "entries", "Interned strings.", "kind"),
		sinkState:      desc("sink", "state", "Sink state, 1 for the current state.", "state"),
		enabled:        desc("", "enabled", "Whether tasks are being recorded."),
		bufferPool:     desc("buffer_pool", "operations_total", "Event buffer pool operations, process-wide.", "op"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.events, c.flushes, c.bytesWritten, c.droppedWrites, c.droppedEvents,
		c.unmatchedEnds, c.internFailures, c.openAtClose, c.threadsOpened,
		c.liveThreads, c.interned, c.sinkState, c.enabled, c.bufferPool,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.rec.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.events, s.Events)
	counter(c.flushes, s.Flushes)
	counter(c.bytesWritten, s.BytesWritten)
	counter(c.droppedWrites, s.DroppedWrites)
	counter(c.droppedEvents, s.DroppedEvents)
	counter(c.unmatchedEnds, s.UnmatchedEnds)
	counter(c.internFailures, s.InternFailures)
	counter(c.openAtClose, s.OpenAtClose)
	counter(c.threadsOpened, s.ThreadsOpened)
	gauge(c.liveThreads, float64(s.ThreadsOpened-s.ThreadsClosed))

	domains, names := c.rec.Interner().Len()
	gauge(c.interned, float64(domains), "domain")
	gauge(c.interned, float64(names), "name")

	current := c.rec.SinkState()
	for _, state := range []tef.SinkState{tef.SinkIdle, tef.SinkOpen, tef.SinkDisabled, tef.SinkClosed} {
		gauge(c.sinkState, iff(state == current, 1.0, 0.0), state.String())
	}
	gauge(c.enabled, iff(c.rec.Enabled(), 1.0, 0.0))

	get, alloc, put, _ := tefdebug.BufferCounters.Values()
	counter(c.bufferPool, get, "get")
	counter(c.bufferPool, alloc, "alloc")
	counter(c.bufferPool, put, "put")
}

// Register a collector for the recorder with r. Registering the same recorder
// twice is not an error.
func Register(r prometheus.Registerer, rec *tef.Recorder) error {
	if err := r.Register(NewCollector(rec)); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

func iff[T any](cond bool, yes, no T) T {
	if cond {
		return yes
	}
	return no
}
