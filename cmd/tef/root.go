package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
)

type rootConfig struct {
	stdout io.Writer
	stderr io.Writer

	logLevel string
	output   string

	info, debug *log.Logger
}

func (cfg *rootConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log",
		Value:       ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "none", "n"),
		Usage:       "log level: i/info, d/debug, n/none",
		Placeholder: "LEVEL",
	})
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'o',
		LongName:    "output",
		Value:       ffval.NewEnum(&cfg.output, "text", "json"),
		Usage:       "output format: text, json",
		Placeholder: "FORMAT",
	})
}

// writeResult writes v to stdout as JSON if requested, and otherwise calls
// text to render it.
func (cfg *rootConfig) writeResult(v any, text func(w io.Writer) error) error {
	if cfg.output == "json" {
		enc := json.NewEncoder(cfg.stdout)
		enc.SetIndent("", "    ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		return nil
	}
	return text(cfg.stdout)
}
