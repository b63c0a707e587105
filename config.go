package tef

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
)

// Config for a recorder. Use DefaultConfig or ParseConfig to get a config
// with sensible defaults; the zero value is a disabled recorder.
type Config struct {
	// Enabled is the collection switch. When false, Begin and End are no-ops,
	// and no output file is created.
	Enabled bool

	// Dir is the directory of the output file, which is named
	// trace.<pid>.json. Path, if set, takes precedence.
	Dir  string
	Path string

	// Category is written to the cat field of every event.
	Category string

	// Phase is "complete" to write one X event per task, or "duration" to
	// write a B and E pair per task. Both are written when the task ends.
	Phase string

	// BufferSize is the per-thread flush threshold, in bytes.
	BufferSize int

	// LazyOpen defers creating the output file until the first thread is
	// created.
	LazyOpen bool

	// DrainTimeout bounds how long Close waits for live threads.
	DrainTimeout time.Duration

	// Summary enables per-task statistics, optionally limited to tasks whose
	// "domain::name" begins with SummaryPrefix.
	Summary       bool
	SummaryPrefix string
}

// Phase modes.
const (
	PhaseModeComplete = "complete"
	PhaseModeDuration = "duration"
)

const (
	defaultCategory     = "task"
	defaultDrainTimeout = 5 * time.Second
)

// DefaultConfig returns an enabled config that writes to the working
// directory.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Dir:          ".",
		Category:     defaultCategory,
		Phase:        PhaseModeComplete,
		BufferSize:   DefaultBufferSize,
		DrainTimeout: defaultDrainTimeout,
	}
}

// Register the config fields as flags in the flag set.
func (cfg *Config) Register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{LongName: "enabled" /*        */, Value: ffval.NewValueDefault(&cfg.Enabled, true) /*                                   */, Usage: "record tasks"})
	fs.AddFlag(ff.FlagConfig{LongName: "dir" /*            */, Value: ffval.NewValueDefault(&cfg.Dir, ".") /*                                        */, Usage: "directory for trace.<pid>.json", Placeholder: "DIR"})
	fs.AddFlag(ff.FlagConfig{LongName: "path" /*           */, Value: ffval.NewValue(&cfg.Path) /*                                                   */, Usage: "output file, overrides --dir", Placeholder: "FILE", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{LongName: "category" /*       */, Value: ffval.NewValueDefault(&cfg.Category, defaultCategory) /*                       */, Usage: "event category"})
	fs.AddFlag(ff.FlagConfig{LongName: "phase" /*          */, Value: ffval.NewEnum(&cfg.Phase, PhaseModeComplete, PhaseModeDuration) /*             */, Usage: "event phase mode: complete, duration"})
	fs.AddFlag(ff.FlagConfig{LongName: "buffer-size" /*    */, Value: ffval.NewValueDefault(&cfg.BufferSize, DefaultBufferSize) /*                   */, Usage: "per-thread flush threshold in bytes", Placeholder: "BYTES"})
	fs.AddFlag(ff.FlagConfig{LongName: "lazy-open" /*      */, Value: ffval.NewValue(&cfg.LazyOpen) /*                                               */, Usage: "create the output file on first use", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{LongName: "drain-timeout" /*  */, Value: ffval.NewValueDefault(&cfg.DrainTimeout, defaultDrainTimeout) /*              */, Usage: "max time to wait for live threads at close"})
	fs.AddFlag(ff.FlagConfig{LongName: "summary" /*        */, Value: ffval.NewValue(&cfg.Summary) /*                                                */, Usage: "report per-task statistics at close", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{LongName: "summary-prefix" /* */, Value: ffval.NewValue(&cfg.SummaryPrefix) /*                                          */, Usage: "only summarize tasks with this prefix", Placeholder: "PREFIX", NoDefault: true})
}

// ParseConfig parses a config from args, and from environment variables with
// the prefix TEF, e.g. TEF_ENABLED=false or TEF_BUFFER_SIZE=8192. Additional
// options are passed to ff.Parse.
func ParseConfig(args []string, options ...ff.Option) (Config, error) {
	var cfg Config
	fs := ff.NewFlagSet("tef")
	cfg.Register(fs)

	options = append([]ff.Option{ff.WithEnvVarPrefix("TEF")}, options...)
	if err := ff.Parse(fs, args, options...); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate returns an error if the config can't be used as-is.
func (cfg Config) Validate() error {
	switch cfg.Phase {
	case "", PhaseModeComplete, PhaseModeDuration:
	default:
		return fmt.Errorf("invalid phase %q", cfg.Phase)
	}
	if cfg.BufferSize < 0 {
		return fmt.Errorf("invalid buffer size %d", cfg.BufferSize)
	}
	if cfg.DrainTimeout < 0 {
		return fmt.Errorf("invalid drain timeout %s", cfg.DrainTimeout)
	}
	return nil
}

// OutputPath returns the path of the output file for the given process ID.
func (cfg Config) OutputPath(pid int) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(cfg.Dir, "trace."+strconv.Itoa(pid)+".json")
}

func (cfg Config) withDefaults() Config {
	if cfg.Category == "" {
		cfg.Category = defaultCategory
	}
	if cfg.Phase == "" {
		cfg.Phase = PhaseModeComplete
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return cfg
}
