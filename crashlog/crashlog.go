// Package crashlog persists a record of the last abnormal termination so
// the next boot can report what happened. The record is a single compact
// CBOR map written atomically; a crash while writing it loses the record,
// never the rest of the state directory.
package crashlog

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record describes one termination. Integer keys keep the encoding small
// enough for flash-backed state partitions.
type Record struct {
	Reason   string `cbor:"1,keyasint"`
	Time     int64  `cbor:"2,keyasint"`
	Uptime   int64  `cbor:"3,keyasint,omitempty"`
	HeapFree uint64 `cbor:"4,keyasint,omitempty"`
	Version  string `cbor:"5,keyasint,omitempty"`
	LogTail  string `cbor:"6,keyasint,omitempty"`
	Trace    []byte `cbor:"7,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// Save writes the record at path, replacing any previous one.
func Save(path string, r Record) error {
	data, err := encMode.Marshal(r)
	if err != nil {
		return fmt.Errorf("crashlog: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("crashlog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("crashlog: %w", err)
	}
	return nil
}

// Load reads the record at path. A missing file reports ok false; the
// device has never crashed, or the record was cleared.
func Load(path string) (Record, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("crashlog: %w", err)
	}
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Record{}, false, fmt.Errorf("crashlog: %s: %w", path, err)
	}
	return r, true, nil
}

// Clear removes the record at path, if any.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("crashlog: %w", err)
	}
	return nil
}

// Capture returns a function for deferring in main. On panic it writes a
// record with the panic value, the goroutine stack and the retained log
// tail, then resumes the panic so the process still dies loudly.
func Capture(path, version string, start time.Time, tail *Tail) func() {
	return func() {
		v := recover()
		if v == nil {
			return
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		r := Record{
			Reason:   fmt.Sprint(v),
			Time:     time.Now().Unix(),
			Uptime:   int64(time.Since(start) / time.Second),
			HeapFree: m.HeapSys - m.HeapInuse,
			Version:  version,
			Trace:    stack(),
		}
		if tail != nil {
			r.LogTail = tail.String()
		}
		// Best effort; the record must not mask the crash.
		Save(path, r)
		panic(v)
	}
}

func stack() []byte {
	buf := make([]byte, 16<<10)
	n := runtime.Stack(buf, false)
	return buf[:n]
}

// Tail is an io.Writer retaining the last max bytes written to it. Wire
// it alongside stderr in the log output so crash records carry the final
// log lines.
type Tail struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func NewTail(max int) *Tail {
	return &Tail{max: max}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
