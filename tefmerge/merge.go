package tefmerge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// DefaultOutput is the file name MergeDir writes to when no output is given.
const DefaultOutput = "combined_trace.json"

// ErrNoInput is returned by MergeDir when the directory has no trace files.
var ErrNoInput = errors.New("no trace files")

// Result describes a merge.
type Result struct {
	Output    string    `json:"output,omitempty"`
	Merged    []string  `json:"merged"`
	Truncated []string  `json:"truncated,omitempty"`
	Skipped   []Skipped `json:"skipped,omitempty"`
	Events    int       `json:"events"`
}

// Skipped is an input that couldn't be read as a trace.
type Skipped struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// Merge reads the trace files at paths, in order, and writes a single
// document with all of their events to w. Inputs that can't be read as traces
// are skipped and reported in the result; truncated inputs contribute every
// complete event. Only write errors are returned.
func Merge(w io.Writer, paths ...string) (Result, error) {
	var res Result

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("{\"traceEvents\":[\n"); err != nil {
		return res, fmt.Errorf("write header: %w", err)
	}

	for _, path := range paths {
		events, truncated, err := ReadFile(path)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Path: path, Err: err})
			continue
		}

		res.Merged = append(res.Merged, path)
		if truncated {
			res.Truncated = append(res.Truncated, path)
		}

		if err := writeEvents(bw, events, res.Events > 0); err != nil {
			return res, fmt.Errorf("%s: write events: %w", path, err)
		}
		res.Events += len(events)
	}

	if _, err := bw.WriteString("\n]}\n"); err != nil {
		return res, fmt.Errorf("write footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("flush: %w", err)
	}

	return res, nil
}

func writeEvents(w *bufio.Writer, events []json.RawMessage, needsSep bool) error {
	for _, ev := range events {
		if needsSep {
			if _, err := w.WriteString(",\n"); err != nil {
				return err
			}
		}
		if _, err := w.Write(ev); err != nil {
			return err
		}
		needsSep = true
	}
	return nil
}

// MergeDir merges every *.json file in dir, in lexical order, into output. If
// output is empty, DefaultOutput in dir is used. The output file itself is
// never an input. The output is written to a temporary file that replaces
// output only if the merge succeeds.
func MergeDir(dir, output string) (Result, error) {
	if output == "" {
		output = filepath.Join(dir, DefaultOutput)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return Result{}, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(paths)

	inputs := paths[:0]
	for _, path := range paths {
		if !samePath(path, output) {
			inputs = append(inputs, path)
		}
	}
	if len(inputs) <= 0 {
		return Result{}, fmt.Errorf("%s: %w", dir, ErrNoInput)
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), "."+filepath.Base(output)+".*")
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("chmod output: %w", err)
	}

	res, err := Merge(tmp, inputs...)
	if err != nil {
		tmp.Close()
		return res, err
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return res, fmt.Errorf("rename output: %w", err)
	}

	res.Output = output
	return res, nil
}

func samePath(a, b string) bool {
	aa, aerr := filepath.Abs(a)
	bb, berr := filepath.Abs(b)
	if aerr != nil || berr != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}
