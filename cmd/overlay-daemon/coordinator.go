package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/b/webapp-overlay/pkg/daemon"
	"github.com/b/webapp-overlay/pkg/settings"
	"github.com/b/webapp-overlay/pkg/store"
)

var coordinatorDebugLog = log.New(io.Discard, "", 0)

// SetCoordinatorDebugLog routes coordinator diagnostics to l.
func SetCoordinatorDebugLog(l *log.Logger) {
	if l != nil {
		coordinatorDebugLog = l
	}
}

// SettingsStore is what the coordinator needs from the settings store.
type SettingsStore interface {
	Get(ctx context.Context, keys ...string) (store.Values, error)
	Set(ctx context.Context, values store.Values) error
	SetIfAbsent(ctx context.Context, defaults store.Values) ([]string, error)
}

// AgentMessenger sends requests to the page agent of a tab.
type AgentMessenger interface {
	Request(ctx context.Context, tabID string, t daemon.MessageType, payload any) (daemon.Message, error)
}

// Install reasons, as reported by the lifecycle check.
const (
	ReasonInstall = "install"
	ReasonUpdate  = "update"
)

var (
	ErrMissingTab  = errors.New("message has no tab id")
	ErrUnsupported = errors.New("unsupported message")
)

// Coordinator holds the process-wide overlay state: the session's pinned mode
// and which tabs currently show the overlay. Everything here is disposable; the
// settings store is the only durable copy.
type Coordinator struct {
	stateMu         sync.RWMutex
	pinnedMode      bool
	tabOverlayState map[string]bool

	store       SettingsStore
	agents      AgentMessenger
	openOptions func(ctx context.Context) error
	writer      *store.AsyncWriter

	requestTimeout time.Duration
	startOnce      sync.Once
}

// NewCoordinator creates a coordinator. openOptions may be nil when no options
// editor can be launched.
func NewCoordinator(st SettingsStore, agents AgentMessenger, openOptions func(ctx context.Context) error, requestTimeout, persistTimeout time.Duration) *Coordinator {
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Second
	}
	return &Coordinator{
		tabOverlayState: make(map[string]bool),
		store:           st,
		agents:          agents,
		openOptions:     openOptions,
		writer:          store.NewAsyncWriter(st, persistTimeout, coordinatorDebugLog),
		requestTimeout:  requestTimeout,
	}
}

// Start loads pinned mode from the store. Only the first call does anything.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.loadPinnedMode(ctx)
	})
}

// loadPinnedMode replaces the cached pinned mode with the stored one. On a
// read failure the cache keeps its value.
func (c *Coordinator) loadPinnedMode(ctx context.Context) {
	values, err := c.store.Get(ctx, settings.KeyPinnedMode)
	if err != nil {
		coordinatorDebugLog.Printf("Error loading pinned mode: %v", err)
		return
	}
	pinned, _ := values.Bool(settings.KeyPinnedMode)

	c.stateMu.Lock()
	c.pinnedMode = pinned
	c.stateMu.Unlock()
	logEvent("PINNED_LOADED pinned=%v", pinned)
}

// PinnedMode returns the cached pinned mode.
func (c *Coordinator) PinnedMode() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.pinnedMode
}

// TabOverlayState returns the last visibility reported by a tab.
func (c *Coordinator) TabOverlayState(tabID string) (visible, known bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	visible, known = c.tabOverlayState[tabID]
	return visible, known
}

// KnownTabs returns the tabs that have reported visibility, sorted.
func (c *Coordinator) KnownTabs() []string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	tabs := make([]string, 0, len(c.tabOverlayState))
	for id := range c.tabOverlayState {
		tabs = append(tabs, id)
	}
	sort.Strings(tabs)
	return tabs
}

// OnActionClicked asks the tab's agent to toggle its overlay. A tab without a
// listening agent makes the click a no-op; failures are logged, never
// returned.
func (c *Coordinator) OnActionClicked(ctx context.Context, tabID string) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if _, err := c.agents.Request(ctx, tabID, daemon.MsgToggleOverlay, nil); err != nil {
		if errors.Is(err, daemon.ErrNoReceiver) {
			coordinatorDebugLog.Printf("Action click on tab %s ignored: no page agent", tabID)
		} else {
			coordinatorDebugLog.Printf("Toggle overlay on tab %s failed: %v", tabID, err)
		}
		logEvent("TOGGLE_FAILED tab=%s err=%v", tabID, err)
		return
	}
	logEvent("TOGGLE tab=%s", tabID)
}

// OnTabRemoved forgets a closed tab.
func (c *Coordinator) OnTabRemoved(tabID string) {
	c.stateMu.Lock()
	_, known := c.tabOverlayState[tabID]
	delete(c.tabOverlayState, tabID)
	c.stateMu.Unlock()
	if known {
		logEvent("TAB_REMOVED tab=%s", tabID)
	}
}

// OnInstalled runs the install/update handlers. Install seeds every unset
// preference with its default and then loads pinned mode; update only reloads
// pinned mode.
func (c *Coordinator) OnInstalled(ctx context.Context, reason string) error {
	switch reason {
	case ReasonInstall:
		seed := settings.Defaults().Values()
		// pinnedMode stays unset so the first page load promotes pinnedModeDefault
		delete(seed, settings.KeyPinnedMode)
		written, err := c.store.SetIfAbsent(ctx, seed)
		if err != nil {
			coordinatorDebugLog.Printf("Error seeding defaults: %v", err)
		} else {
			coordinatorDebugLog.Printf("Extension installed, seeded %d default settings", len(written))
		}
		c.loadPinnedMode(ctx)
		return err
	case ReasonUpdate:
		coordinatorDebugLog.Printf("Extension updated")
		c.loadPinnedMode(ctx)
		return nil
	}
	return nil
}

// HandleRequest answers a protocol request. msg.TabID is the sender's tab for
// requests from page agents and the target tab for host events.
func (c *Coordinator) HandleRequest(ctx context.Context, msg daemon.Message) (any, error) {
	switch msg.Type {
	case daemon.MsgOpenOptions:
		if c.openOptions == nil {
			return nil, errors.New("no options editor available")
		}
		if err := c.openOptions(ctx); err != nil {
			coordinatorDebugLog.Printf("Error opening options: %v", err)
			return nil, err
		}
		return daemon.AckPayload{Success: true}, nil

	case daemon.MsgUpdatePinnedMode:
		var p daemon.PinnedPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		c.stateMu.Lock()
		c.pinnedMode = p.Pinned
		c.stateMu.Unlock()
		c.writer.Enqueue(store.Values{settings.KeyPinnedMode: p.Pinned})
		logEvent("PINNED_UPDATE tab=%s pinned=%v", msg.TabID, p.Pinned)
		return daemon.AckPayload{Success: true}, nil

	case daemon.MsgGetPinnedMode:
		return daemon.PinnedPayload{Pinned: c.PinnedMode()}, nil

	case daemon.MsgUpdateOverlayState:
		if msg.TabID == "" {
			return nil, ErrMissingTab
		}
		var p daemon.OverlayStatePayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		c.stateMu.Lock()
		c.tabOverlayState[msg.TabID] = p.Visible
		c.stateMu.Unlock()
		return daemon.AckPayload{Success: true}, nil

	case daemon.MsgActionClicked:
		if msg.TabID == "" {
			return nil, ErrMissingTab
		}
		c.OnActionClicked(ctx, msg.TabID)
		return daemon.AckPayload{Success: true}, nil

	case daemon.MsgTabRemoved:
		if msg.TabID == "" {
			return nil, ErrMissingTab
		}
		c.OnTabRemoved(msg.TabID)
		return daemon.AckPayload{Success: true}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, msg.Type)
}

// Close waits for queued pinned-mode writes.
func (c *Coordinator) Close() {
	c.writer.Close()
}
