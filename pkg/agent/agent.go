// Package agent implements the per-page overlay state machine: visibility,
// pin mode, and drag-to-resize, synchronized with the coordinator and the
// settings store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/b/webapp-overlay/pkg/daemon"
	"github.com/b/webapp-overlay/pkg/settings"
	"github.com/b/webapp-overlay/pkg/store"
)

// View is the presentation the agent drives.
type View interface {
	Mount(content settings.Content)
	SetVisible(visible bool)
	SetWidth(percent float64)
	SetPinned(pinned bool)
	SetBackdrop(shown bool)
	SetResizing(active bool)
}

// Notifier delivers one-way messages to the coordinator.
type Notifier interface {
	Notify(t daemon.MessageType, payload any)
}

// SettingsStore is the part of store.Store the agent uses.
type SettingsStore interface {
	Get(ctx context.Context, keys ...string) (store.Values, error)
	Set(ctx context.Context, values store.Values) error
}

var ErrUnsupported = errors.New("unsupported message")

// State is a snapshot of the overlay UI state.
type State struct {
	Ready        bool
	Visible      bool
	WidthPercent float64
	Pinned       bool
	Resizing     bool
}

// Agent owns one page load's overlay. All mutations are serialized on mu.
type Agent struct {
	mu       sync.Mutex
	state    State
	settings settings.Settings
	mounted  bool
	closed   bool

	store   SettingsStore
	view    View
	out     *sender
	frames  *frameCoalescer
	persist *store.AsyncWriter

	ready     chan struct{}
	readyOnce sync.Once
	log       *log.Logger
}

type options struct {
	clock          clockwork.Clock
	frameInterval  time.Duration
	persistTimeout time.Duration
	logger         *log.Logger
}

// Option configures an Agent.
type Option func(*options)

// WithClock sets the clock driving resize frames.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithFrameInterval sets the resize frame length.
func WithFrameInterval(d time.Duration) Option {
	return func(o *options) { o.frameInterval = d }
}

// WithPersistTimeout bounds each background settings write.
func WithPersistTimeout(d time.Duration) Option {
	return func(o *options) { o.persistTimeout = d }
}

// WithLogger routes agent diagnostics to l.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

type nopNotifier struct{}

func (nopNotifier) Notify(daemon.MessageType, any) {}

// New creates an uninitialized agent. notify may be nil when no coordinator
// is reachable.
func New(st SettingsStore, view View, notify Notifier, opts ...Option) *Agent {
	o := options{
		clock:  clockwork.NewRealClock(),
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if notify == nil {
		notify = nopNotifier{}
	}

	a := &Agent{
		state:    State{WidthPercent: settings.DefaultWidth},
		settings: settings.Defaults(),
		store:    st,
		view:     view,
		out:      newSender(notify, o.logger),
		ready:    make(chan struct{}),
		log:      o.logger,
	}
	a.frames = newFrameCoalescer(o.clock, o.frameInterval, a.onFrame)
	a.persist = store.NewAsyncWriter(st, o.persistTimeout, o.logger)
	return a
}

// Init loads settings and moves the agent to Ready. It runs once; later calls
// return immediately. A failed read leaves the agent Ready with defaults and
// the overlay hidden.
func (a *Agent) Init(ctx context.Context) {
	select {
	case <-a.ready:
		return
	default:
	}

	values, err := a.store.Get(ctx, settings.AllKeys...)
	if err != nil {
		a.log.Printf("Error loading settings: %v", err)
		values = nil
	}
	s := settings.FromValues(values)

	pinned := s.PinnedMode
	promote := err == nil && !values.Has(settings.KeyPinnedMode)
	if promote {
		pinned = s.PinnedModeDefault
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Ready || a.closed {
		return
	}

	a.settings = s
	a.state.Ready = true
	a.state.Pinned = pinned
	a.state.WidthPercent = s.OverlayWidth
	a.view.SetWidth(a.state.WidthPercent)
	a.view.SetPinned(pinned)

	if promote {
		a.persist.Enqueue(store.Values{settings.KeyPinnedMode: pinned})
	}

	if (pinned || s.OverlayEnabledByDefault) && s.HasValidURL() {
		a.showLocked()
	}
	a.readyOnce.Do(func() { close(a.ready) })
}

// Ready is closed once Init has completed.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// State returns a snapshot of the UI state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Settings returns the settings loaded by Init.
func (a *Agent) Settings() settings.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Show makes the overlay visible. It reports whether anything changed.
func (a *Agent) Show() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return false
	}
	return a.showLocked()
}

// Hide hides the overlay. It reports whether anything changed.
func (a *Agent) Hide() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return false
	}
	return a.hideLocked()
}

// Toggle flips visibility and returns the new value.
func (a *Agent) Toggle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return a.state.Visible
	}
	if a.state.Visible {
		a.hideLocked()
	} else {
		a.showLocked()
	}
	return a.state.Visible
}

func (a *Agent) showLocked() bool {
	if a.state.Visible {
		return false
	}
	if !a.mounted {
		a.view.Mount(settings.ContentFor(a.settings.WebAppURL))
		a.mounted = true
	}
	a.state.Visible = true
	a.view.SetVisible(true)
	a.view.SetBackdrop(a.backdropLocked())
	a.out.send(daemon.MsgUpdateOverlayState, daemon.OverlayStatePayload{Visible: true})
	return true
}

func (a *Agent) hideLocked() bool {
	if !a.state.Visible {
		return false
	}
	if a.state.Resizing {
		a.finishResizeLocked()
	}
	a.state.Visible = false
	a.view.SetVisible(false)
	a.view.SetBackdrop(false)
	a.out.send(daemon.MsgUpdateOverlayState, daemon.OverlayStatePayload{Visible: false})
	return true
}

// backdropLocked: the page is dimmed behind a floating panel, never behind a
// pinned one.
func (a *Agent) backdropLocked() bool {
	return a.state.Visible && a.settings.UseBackdrop && !a.state.Pinned
}

// TogglePin flips pin mode, tells the coordinator, and persists the new value.
// It returns the new value.
func (a *Agent) TogglePin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() {
		return a.state.Pinned
	}
	a.state.Pinned = !a.state.Pinned
	pinned := a.state.Pinned
	a.view.SetPinned(pinned)
	a.view.SetBackdrop(a.backdropLocked())
	a.out.send(daemon.MsgUpdatePinnedMode, daemon.PinnedPayload{Pinned: pinned})
	a.persist.Enqueue(store.Values{settings.KeyPinnedMode: pinned})
	return pinned
}

// OpenOptions asks the coordinator to open the options editor.
func (a *Agent) OpenOptions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.out.send(daemon.MsgOpenOptions, nil)
}

// activeLocked reports whether the agent may change the overlay: Init has
// run and the page load has not been detached.
func (a *Agent) activeLocked() bool {
	return a.state.Ready && !a.closed
}

// BeginResize starts a drag on the panel handle. Only a visible overlay
// can be resized.
func (a *Agent) BeginResize() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.activeLocked() || !a.state.Visible || a.state.Resizing {
		return false
	}
	a.state.Resizing = true
	a.view.SetResizing(true)
	return true
}

// PointerMove offers the width implied by the pointer position. At most one
// width is applied per frame; the latest offer wins.
func (a *Agent) PointerMove(pointerX, viewportWidth float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.Resizing || a.closed {
		return
	}
	a.frames.offer(settings.WidthFromPointer(pointerX, viewportWidth))
}

// EndResize applies any pending width, leaves resize mode, and persists the
// final width.
func (a *Agent) EndResize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.Resizing || a.closed {
		return
	}
	a.finishResizeLocked()
}

// CancelResize ends a drag whose pointer-up will never arrive (pointer
// cancel, window blur, focus loss). It behaves like EndResize.
func (a *Agent) CancelResize() {
	a.EndResize()
}

func (a *Agent) finishResizeLocked() {
	if w, ok := a.frames.take(); ok {
		a.applyWidthLocked(w)
	}
	a.state.Resizing = false
	a.view.SetResizing(false)
	a.persist.Enqueue(store.Values{settings.KeyOverlayWidth: a.state.WidthPercent})
}

func (a *Agent) onFrame(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.frames.takeFrame(gen); ok {
		a.applyWidthLocked(w)
	}
}

func (a *Agent) applyWidthLocked(w float64) {
	w = settings.ClampWidth(w)
	if w == a.state.WidthPercent {
		return
	}
	a.state.WidthPercent = w
	a.view.SetWidth(w)
}

// HandleRequest answers coordinator requests once Init has completed.
func (a *Agent) HandleRequest(ctx context.Context, msg daemon.Message) (any, error) {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch msg.Type {
	case daemon.MsgToggleOverlay:
		a.Toggle()
		return daemon.AckPayload{Success: true}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, msg.Type)
}

// Detach ends the page load without waiting: the agent stops touching its
// view, later calls are no-ops and a pending frame is dropped. Notifications
// and writes already queued still go out.
func (a *Agent) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.frames.stop()
}

// Close detaches the agent and waits for queued notifications and writes.
// Each write is bounded by the persist timeout.
func (a *Agent) Close() {
	a.Detach()
	a.out.close()
	a.persist.Close()
}
