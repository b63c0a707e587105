// Package eztef provides a process-wide recorder, configured from TEF_
// environment variables the first time it's used.
package eztef

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/peterbourgon/tef"
)

var (
	defaultOnce     sync.Once
	defaultRecorder *tef.Recorder
)

// Default returns the process-wide recorder. On first use, its config is
// parsed from the environment, e.g. TEF_DIR or TEF_ENABLED. An invalid config
// is reported to stderr, and produces a disabled recorder.
func Default() *tef.Recorder {
	defaultOnce.Do(func() {
		logger := log.New(os.Stderr, "[tef] ", log.Lmsgprefix)
		cfg, err := tef.ParseConfig(nil)
		if err != nil {
			logger.Printf("%v, recording disabled", err)
			cfg = tef.DefaultConfig()
			cfg.Enabled = false
		}
		defaultRecorder = tef.NewRecorder(cfg, tef.WithLogger(logger))
	})
	return defaultRecorder
}

// CreateDomain interns the domain in the default recorder.
func CreateDomain(text string) tef.Domain {
	return Default().CreateDomain(text)
}

// CreateName interns the name in the default recorder.
func CreateName(text string) tef.Name {
	return Default().CreateName(text)
}

// NewThread returns a new thread of the default recorder. The caller must
// close it.
func NewThread() *tef.Thread {
	return Default().NewThread()
}

// WithThread returns a context containing a new thread of the default
// recorder, and a function that closes it.
//
//	ctx, done := eztef.WithThread(ctx)
//	defer done()
func WithThread(ctx context.Context) (context.Context, func()) {
	th := NewThread()
	return tef.Put(ctx, th), th.Close
}

// Begin opens a task on the thread in the context. It's a no-op if the context
// has no thread.
func Begin(ctx context.Context, d tef.Domain, n tef.Name) {
	tef.FromContext(ctx).Begin(d, n)
}

// End closes the innermost task on the thread in the context.
func End(ctx context.Context, d tef.Domain) {
	tef.FromContext(ctx).End(d)
}

// Region begins a task on the thread in the context, and returns a function
// that ends it.
//
//	defer eztef.Region(ctx, domain, name)()
func Region(ctx context.Context, d tef.Domain, n tef.Name) func() {
	return tef.FromContext(ctx).Region(d, n)
}

// Shutdown finalizes the default recorder. Threads created afterwards are
// no-ops.
func Shutdown(ctx context.Context) error {
	return Default().Shutdown(ctx)
}
