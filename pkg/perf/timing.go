// Package perf records operation latencies when OVERLAY_PERF=1.
// Records go to $TMPDIR/webapp-overlay-perf.log, one per line.
package perf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	out io.Writer
)

func init() {
	if os.Getenv("OVERLAY_PERF") != "1" {
		return
	}
	path := filepath.Join(os.TempDir(), "webapp-overlay-perf.log")
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		out = f
	}
}

// SetOutput sends records to w. A nil writer turns recording off.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// Enabled reports whether records are being written.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return out != nil
}

// Span is one timed operation.
type Span struct {
	name  string
	start time.Time
}

func Start(name string) Span {
	return Span{name: name, start: time.Now()}
}

// End records the span and returns its duration. A non-nil err is appended
// to the record.
func (s Span) End(err error) time.Duration {
	elapsed := time.Since(s.start)
	if err != nil {
		record("%s %v err=%q", s.name, elapsed, err.Error())
	} else {
		record("%s %v", s.name, elapsed)
	}
	return elapsed
}

func record(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		return
	}
	fmt.Fprintf(out, time.Now().Format("15:04:05.000")+" "+format+"\n", args...)
}
