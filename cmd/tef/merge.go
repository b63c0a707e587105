package main

import (
	"context"
	"fmt"
	"io"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/tef/tefmerge"
)

type mergeConfig struct {
	*rootConfig

	outputFile string
}

func (cfg *mergeConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		LongName:    "file",
		Value:       ffval.NewValue(&cfg.outputFile),
		Usage:       "merged trace file (default: DIR/" + tefmerge.DefaultOutput + ")",
		Placeholder: "FILE",
		NoDefault:   true,
	})
}

func (cfg *mergeConfig) Exec(ctx context.Context, args []string) error {
	dir := "."
	switch len(args) {
	case 0:
	case 1:
		dir = args[0]
	default:
		return fmt.Errorf("at most one directory may be given")
	}

	res, err := tefmerge.MergeDir(dir, cfg.outputFile)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	for _, s := range res.Skipped {
		cfg.info.Printf("skipped %s: %v", s.Path, s.Err)
	}
	for _, path := range res.Truncated {
		cfg.info.Printf("%s: truncated, complete events kept", path)
	}

	return cfg.writeResult(res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "combined %d file(s), %d event(s), into %s\n", len(res.Merged), res.Events, res.Output)
		return err
	})
}
