// Package tefmerge reads and combines trace files written by tef, or by any
// other producer of the Trace Event Format.
package tefmerge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotTrace is returned when the input is neither a JSON object nor a JSON
// array.
var ErrNotTrace = errors.New("not a trace document")

// ReadEvents reads the events of a trace document from r. Both the object
// form, {"traceEvents":[...]}, and the bare array form are accepted. An
// object without a traceEvents key has no events.
//
// Files whose writer died, or whose sink was disabled after a write error,
// lack a footer and may end mid-event. For such inputs, ReadEvents returns
// every complete event before the damage, with truncated set to true. An error
// is returned only if no part of the input can be read as a trace.
func ReadEvents(r io.Reader) (events []json.RawMessage, truncated bool, err error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	tok, err := dec.Token()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrNotTrace, err)
	}

	switch tok {
	case json.Delim('['):
		events, err = readArray(dec)
		return events, err != nil, nil

	case json.Delim('{'):
		for {
			tok, err := dec.Token()
			if err != nil {
				return events, true, nil
			}
			if tok == json.Delim('}') {
				return events, false, nil
			}

			key, _ := tok.(string)
			if key != "traceEvents" {
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					return events, true, nil
				}
				continue
			}

			tok, err = dec.Token()
			if err != nil {
				return events, true, nil
			}
			if tok != json.Delim('[') {
				return nil, false, fmt.Errorf("%w: traceEvents is not an array", ErrNotTrace)
			}

			more, err := readArray(dec)
			events = append(events, more...)
			if err != nil {
				return events, true, nil
			}
		}

	default:
		return nil, false, fmt.Errorf("%w: unexpected %v", ErrNotTrace, tok)
	}
}

// readArray reads elements until the closing bracket, which is consumed. The
// returned events are valid even if err is non-nil.
func readArray(dec *json.Decoder) ([]json.RawMessage, error) {
	var events []json.RawMessage
	for dec.More() {
		var ev json.RawMessage
		if err := dec.Decode(&ev); err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	if _, err := dec.Token(); err != nil {
		return events, err
	}
	return events, nil
}

// ReadFile is ReadEvents for the file at path.
func ReadFile(path string) (events []json.RawMessage, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	events, truncated, err = ReadEvents(f)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}

	return events, truncated, nil
}
