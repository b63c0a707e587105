package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/tef"
	"github.com/peterbourgon/tef/internal/tefutil"
	"github.com/peterbourgon/tef/tefprom"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type benchConfig struct {
	*rootConfig

	tefConfig   tef.Config
	goroutines  int
	tasks       int
	depth       int
	work        time.Duration
	metricsAddr string
}

func (cfg *benchConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'g', LongName: "goroutines" /*    */, Value: ffval.NewValueDefault(&cfg.goroutines, 4) /*         */, Usage: "concurrent recording goroutines"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "tasks" /*         */, Value: ffval.NewValueDefault(&cfg.tasks, 1000) /*           */, Usage: "top-level tasks per goroutine"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "depth" /*         */, Value: ffval.NewValueDefault(&cfg.depth, 2) /*              */, Usage: "nesting depth of each top-level task"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "work" /*          */, Value: ffval.NewValue(&cfg.work) /*                         */, Usage: "simulated work in each innermost task"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "metrics-addr" /*  */, Value: ffval.NewValue(&cfg.metricsAddr) /*                  */, Usage: "serve Prometheus metrics on this address while running", Placeholder: "ADDR", NoDefault: true})
	cfg.tefConfig.Register(fs)
}

func (cfg *benchConfig) Exec(ctx context.Context, args []string) error {
	if cfg.goroutines <= 0 || cfg.tasks < 0 || cfg.depth <= 0 {
		return fmt.Errorf("goroutines and depth must be positive, tasks must not be negative")
	}
	if err := cfg.tefConfig.Validate(); err != nil {
		return err
	}

	// Listen before the recorder creates its file, so a bad address doesn't
	// leave an unterminated trace behind.
	var ln net.Listener
	if cfg.metricsAddr != "" {
		var err error
		if ln, err = net.Listen("tcp", cfg.metricsAddr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		defer ln.Close()
	}

	rec := tef.NewRecorder(cfg.tefConfig, tef.WithLogger(cfg.info), tef.WithDebugLogger(cfg.debug))
	defer rec.Close()

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return cfg.runWorkload(ctx, rec)
		}, func(error) {
			cancel()
		})
	}

	if ln != nil {
		reg := prometheus.NewRegistry()
		if err := tefprom.Register(reg, rec); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		cfg.info.Printf("serving metrics on http://%s/metrics", ln.Addr())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			server.Close()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	began := time.Now()
	runErr := g.Run()
	took := time.Since(began)

	if err := rec.Close(); err != nil {
		cfg.info.Printf("close recorder: %v", err)
	}

	stats := rec.Stats()
	result := benchResult{
		Path:    rec.Path(),
		Session: rec.Session(),
		Took:    took,
		Stats:   stats,
	}
	if err := cfg.writeResult(result, result.writeText); err != nil {
		return err
	}

	return runErr
}

func (cfg *benchConfig) runWorkload(ctx context.Context, rec *tef.Recorder) error {
	domain := rec.CreateDomain("test.domain")
	names := make([]tef.Name, cfg.depth)
	names[0] = rec.CreateName("main_task")
	for i := 1; i < cfg.depth; i++ {
		names[i] = rec.CreateName(fmt.Sprintf("subtask.%d", i))
	}

	cfg.debug.Printf("running %d goroutine(s) of %d task(s) at depth %d", cfg.goroutines, cfg.tasks, cfg.depth)

	var wg sync.WaitGroup
	for i := 0; i < cfg.goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Do(func(th *tef.Thread) {
				for j := 0; j < cfg.tasks && ctx.Err() == nil; j++ {
					cfg.nest(ctx, th, domain, names)
				}
			})
		}()
	}
	wg.Wait()

	return ctx.Err()
}

func (cfg *benchConfig) nest(ctx context.Context, th *tef.Thread, d tef.Domain, names []tef.Name) {
	if len(names) <= 0 {
		if cfg.work > 0 {
			contextSleep(ctx, cfg.work)
		}
		return
	}
	th.Begin(d, names[0])
	cfg.nest(ctx, th, d, names[1:])
	th.End(d)
}

type benchResult struct {
	Path    string        `json:"path"`
	Session string        `json:"session"`
	Took    time.Duration `json:"took"`
	Stats   tef.Stats     `json:"stats"`
}

func (res benchResult) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: %d event(s) from %d thread(s), %s in %s\n",
		res.Path,
		res.Stats.Events,
		res.Stats.ThreadsOpened,
		tefutil.HumanizeBytes(res.Stats.BytesWritten),
		tefutil.HumanizeDuration(res.Took),
	)
	return err
}

func contextSleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
