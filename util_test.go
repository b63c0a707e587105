package tef_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/tef"
)

func assertEqual[T any](t *testing.T, want, have T) {
	t.Helper()
	if !cmp.Equal(want, have) {
		t.Fatal(cmp.Diff(want, have))
	}
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type traceFile struct {
	OtherData   map[string]any `json:"otherData"`
	TraceEvents []traceEvent   `json:"traceEvents"`
}

type traceEvent struct {
	Name string         `json:"name"`
	Cat  string         `json:"cat"`
	Ph   string         `json:"ph"`
	TS   int64          `json:"ts"`
	Dur  int64          `json:"dur"`
	PID  int            `json:"pid"`
	TID  int64          `json:"tid"`
	Args map[string]any `json:"args,omitempty"`
}

func parseTrace(t *testing.T, data []byte) traceFile {
	t.Helper()
	var tf traceFile
	if err := json.Unmarshal(data, &tf); err != nil {
		t.Fatalf("invalid trace: %v\n%s", err, data)
	}
	return tf
}

func readTrace(t *testing.T, path string) traceFile {
	t.Helper()
	data, err := os.ReadFile(path)
	assertNoError(t, err)
	return parseTrace(t, data)
}

func testConfig(t *testing.T) tef.Config {
	t.Helper()
	cfg := tef.DefaultConfig()
	cfg.Dir = t.TempDir()
	return cfg
}

// memFile is an in-memory output resource.
type memFile struct {
	mtx    sync.Mutex
	buf    bytes.Buffer
	closes int
	fail   bool
}

func (f *memFile) Write(p []byte) (int, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.fail {
		return 0, io.ErrShortWrite
	}
	return f.buf.Write(p)
}

func (f *memFile) Close() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.closes++
	return nil
}

func (f *memFile) Bytes() []byte {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return bytes.Clone(f.buf.Bytes())
}

func (f *memFile) Closes() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.closes
}

func (f *memFile) SetFail(fail bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.fail = fail
}

func (f *memFile) opener(opens *int) tef.OpenFunc {
	return func() (io.WriteCloser, error) {
		if opens != nil {
			*opens++
		}
		return f, nil
	}
}
