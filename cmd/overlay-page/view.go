package main

import (
	"sync"

	"github.com/b/webapp-overlay/pkg/settings"
)

// panelState is what the page renders for the overlay.
type panelState struct {
	Content  settings.Content
	Mounted  bool
	Visible  bool
	Width    float64
	Pinned   bool
	Backdrop bool
	Resizing bool
}

// panelView is the agent's view. The agent calls it with its own lock held,
// so it only records state and signals a redraw without blocking; the
// program reads it back in View.
type panelView struct {
	mu    sync.Mutex
	state panelState
	dirty chan struct{}
}

func newPanelView() *panelView {
	return &panelView{
		state: panelState{Width: settings.DefaultWidth},
		dirty: make(chan struct{}, 1),
	}
}

func (v *panelView) update(fn func(*panelState)) {
	v.mu.Lock()
	fn(&v.state)
	v.mu.Unlock()
	select {
	case v.dirty <- struct{}{}:
	default:
	}
}

func (v *panelView) Mount(c settings.Content) {
	v.update(func(s *panelState) {
		s.Content = c
		s.Mounted = true
	})
}

func (v *panelView) SetVisible(visible bool) {
	v.update(func(s *panelState) { s.Visible = visible })
}

func (v *panelView) SetWidth(percent float64) {
	v.update(func(s *panelState) { s.Width = percent })
}

func (v *panelView) SetPinned(pinned bool) {
	v.update(func(s *panelState) { s.Pinned = pinned })
}

func (v *panelView) SetBackdrop(shown bool) {
	v.update(func(s *panelState) { s.Backdrop = shown })
}

func (v *panelView) SetResizing(active bool) {
	v.update(func(s *panelState) { s.Resizing = active })
}

// Reset drops the mounted panel, as a page reload does.
func (v *panelView) Reset() {
	v.update(func(s *panelState) { *s = panelState{Width: settings.DefaultWidth} })
}

func (v *panelView) Snapshot() panelState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Changed delivers one signal per burst of updates.
func (v *panelView) Changed() <-chan struct{} {
	return v.dirty
}
