package agent

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultFrameInterval approximates one display frame.
const DefaultFrameInterval = 16 * time.Millisecond

// frameCoalescer holds at most one pending width. Offers made during a frame
// overwrite each other; when the frame ends the owner takes the latest value.
// It is not safe for concurrent use: the owning Agent's mutex guards it, and
// onFrame must take that mutex before calling take.
type frameCoalescer struct {
	clock    clockwork.Clock
	interval time.Duration
	onFrame  func(gen uint64)

	pending float64
	has     bool
	timer   clockwork.Timer
	gen     uint64
}

func newFrameCoalescer(clock clockwork.Clock, interval time.Duration, onFrame func(gen uint64)) *frameCoalescer {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &frameCoalescer{clock: clock, interval: interval, onFrame: onFrame}
}

// offer replaces the pending value and schedules a frame if none is pending.
func (f *frameCoalescer) offer(v float64) {
	f.pending = v
	f.has = true
	if f.timer != nil {
		return
	}
	f.gen++
	gen := f.gen
	f.timer = f.clock.AfterFunc(f.interval, func() { f.onFrame(gen) })
}

// takeFrame is take for a timer callback; callbacks from a cancelled frame
// get nothing. The timer has already fired, so it is not stopped here.
func (f *frameCoalescer) takeFrame(gen uint64) (float64, bool) {
	if gen != f.gen || f.timer == nil {
		return 0, false
	}
	f.timer = nil
	v, ok := f.pending, f.has
	f.pending, f.has = 0, false
	return v, ok
}

// take empties the slot and cancels the pending frame.
func (f *frameCoalescer) take() (float64, bool) {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	v, ok := f.pending, f.has
	f.pending, f.has = 0, false
	return v, ok
}

// stop discards any pending value.
func (f *frameCoalescer) stop() {
	f.take()
}
