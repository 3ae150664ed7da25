package store

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds one background write.
const DefaultWriteTimeout = 5 * time.Second

// Setter is anything values can be written to; *Store is the usual one.
type Setter interface {
	Set(ctx context.Context, values Values) error
}

// AsyncWriter performs writes on its own goroutine, so callers never wait on
// storage. Values queued while a write is in flight are merged per key, last
// value wins, and go out as one write. Writes never reorder. Failures are
// logged and dropped; the caller's in-memory state is not rolled back.
type AsyncWriter struct {
	dst     Setter
	timeout time.Duration
	log     *log.Logger

	mu      sync.Mutex
	pending Values
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewAsyncWriter starts a writer for dst. A zero timeout means
// DefaultWriteTimeout; a nil logger discards.
func NewAsyncWriter(dst Setter, timeout time.Duration, logger *log.Logger) *AsyncWriter {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &AsyncWriter{
		dst:     dst,
		timeout: timeout,
		log:     logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue never blocks. It reports false once the writer is closed.
func (w *AsyncWriter) Enqueue(v Values) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Printf("write after close dropped: %v", v)
		return false
	}
	if w.pending == nil {
		w.pending = Values{}
	}
	for k, val := range v {
		w.pending[k] = val
	}
	w.mu.Unlock()

	w.signal()
	return true
}

func (w *AsyncWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for range w.wake {
		for {
			w.mu.Lock()
			if len(w.pending) == 0 {
				closed := w.closed
				w.mu.Unlock()
				if closed {
					return
				}
				break
			}
			v := w.pending
			w.pending = nil
			w.mu.Unlock()

			w.write(v)
		}
	}
}

func (w *AsyncWriter) write(v Values) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.dst.Set(ctx, v); err != nil {
		w.log.Printf("background write %v: %v", v, err)
	}
}

// Close waits for queued writes to finish and stops the writer.
func (w *AsyncWriter) Close() {
	w.mu.Lock()
	already := w.closed
	w.closed = true
	w.mu.Unlock()
	if !already {
		w.signal()
	}
	<-w.done
}
