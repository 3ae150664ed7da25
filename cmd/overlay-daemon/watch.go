package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/b/webapp-overlay/pkg/tmux"
)

const (
	reapInterval   = 5 * time.Second
	socketInterval = 3 * time.Second
)

// every runs fn each interval until ctx ends or fn returns false.
func every(ctx context.Context, name string, interval time.Duration, fn func() bool) {
	go func() {
		defer recoverPanic(name)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fn() {
					return
				}
			}
		}
	}()
}

// tabForgetter is the part of the coordinator the window reaper drives.
type tabForgetter interface {
	KnownTabs() []string
	OnTabRemoved(tabID string)
}

// reapClosedWindows forgets tabs whose tmux window is gone. Closed windows
// never report TAB_REMOVED themselves. Tabs that are not tmux windows, such
// as browser tabs behind the bridge, are left alone.
func reapClosedWindows(c tabForgetter, list func() ([]tmux.Window, error)) {
	windows, err := list()
	if err != nil {
		return
	}
	open := make(map[string]bool, len(windows))
	for _, w := range windows {
		open[w.ID] = true
	}
	for _, tab := range c.KnownTabs() {
		if tmux.IsWindowID(tab) && !open[tab] {
			logEvent("REAP tab=%s", tab)
			c.OnTabRemoved(tab)
		}
	}
}

// socketGone reports whether another daemon replaced or removed our socket.
func socketGone(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}
