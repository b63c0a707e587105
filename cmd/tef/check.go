package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/tef/internal/tefutil"
	"github.com/peterbourgon/tef/tefmerge"
)

type checkConfig struct {
	*rootConfig

	top    int
	strict bool
}

func (cfg *checkConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "top" /*     */, Value: ffval.NewValueDefault(&cfg.top, 10) /*  */, Usage: "number of names to show per file, 0 for all"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "strict" /*  */, Value: ffval.NewValue(&cfg.strict) /*          */, Usage: "fail on truncated files or unclosed tasks", NoDefault: true})
}

type checkResult struct {
	Path      string          `json:"path"`
	Size      int64           `json:"size"`
	Truncated bool            `json:"truncated"`
	Report    tefmerge.Report `json:"report"`
}

func (cfg *checkConfig) Exec(ctx context.Context, args []string) error {
	if len(args) <= 0 {
		return fmt.Errorf("at least one file is required")
	}

	var (
		results []checkResult
		errs    []error
	)
	for _, path := range args {
		res, err := cfg.check(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cfg.strict && (res.Truncated || res.Report.Unclosed > 0 || res.Report.Invalid > 0) {
			errs = append(errs, fmt.Errorf("%s: incomplete trace", path))
		}
		results = append(results, res)
	}

	if err := cfg.writeResult(results, func(w io.Writer) error {
		for _, res := range results {
			if err := cfg.writeText(w, res); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if len(errs) > 0 {
		return errors.New(tefutil.JoinErrors(errs...))
	}
	return nil
}

func (cfg *checkConfig) check(path string) (checkResult, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return checkResult{}, err
	}

	events, truncated, err := tefmerge.ReadFile(path)
	if err != nil {
		return checkResult{}, err
	}

	cfg.debug.Printf("%s: read %d event(s)", path, len(events))

	rep := tefmerge.Inspect(events)
	if cfg.top > 0 && len(rep.Names) > cfg.top {
		rep.Names = rep.Names[:cfg.top]
	}

	return checkResult{
		Path:      path,
		Size:      fi.Size(),
		Truncated: truncated,
		Report:    rep,
	}, nil
}

func (cfg *checkConfig) writeText(w io.Writer, res checkResult) error {
	status := "ok"
	if res.Truncated {
		status = "truncated"
	}

	fmt.Fprintf(w, "%s: %s, %s, %d event(s), %d thread(s), span %s\n",
		res.Path,
		status,
		tefutil.HumanizeBytes(res.Size),
		res.Report.Events,
		res.Report.Threads,
		tefutil.HumanizeDuration(res.Report.Span),
	)
	if res.Report.Invalid > 0 {
		fmt.Fprintf(w, "  %d invalid event(s)\n", res.Report.Invalid)
	}
	if res.Report.Unclosed > 0 {
		fmt.Fprintf(w, "  %d unclosed task(s)\n", res.Report.Unclosed)
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "  NAME\tCOUNT\tTOTAL\n")
	for _, nt := range res.Report.Names {
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", nt.Name, nt.Count, tefutil.HumanizeDuration(nt.Total))
	}
	return tw.Flush()
}
