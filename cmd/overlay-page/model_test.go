package main

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b/webapp-overlay/pkg/agent"
	"github.com/b/webapp-overlay/pkg/daemon"
	"github.com/b/webapp-overlay/pkg/settings"
	"github.com/b/webapp-overlay/pkg/store"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []daemon.MessageType
}

func (n *recordingNotifier) Notify(t daemon.MessageType, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, t)
}

func (n *recordingNotifier) types() []daemon.MessageType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]daemon.MessageType(nil), n.sent...)
}

type pageFixture struct {
	sync     *store.MemoryTier
	notifier *recordingNotifier
	current  atomic.Pointer[agent.Agent]
	detached []bool
	m        *pageModel
}

func newPageFixture(t *testing.T, seed store.Values) *pageFixture {
	t.Helper()
	f := &pageFixture{
		sync:     store.NewMemoryTier("sync"),
		notifier: &recordingNotifier{},
	}
	if seed != nil {
		require.NoError(t, f.sync.Set(context.Background(), seed))
	}
	st := store.New(f.sync, store.NewMemoryTier("local"))
	clock := clockwork.NewFakeClock()
	newAgent := func(v *panelView) *agent.Agent {
		return agent.New(st, v, f.notifier, agent.WithClock(clock))
	}
	f.m = newPageModel("@1", &f.current, newAgent, func(closed bool) {
		f.detached = append(f.detached, closed)
	})
	f.m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	t.Cleanup(func() { f.current.Load().Close() })
	return f
}

func (f *pageFixture) load(t *testing.T) {
	t.Helper()
	msg := f.m.initAgent(f.current.Load())()
	f.m.Update(msg)
	require.True(t, f.m.ready)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func mouse(action tea.MouseAction, x int) tea.MouseMsg {
	return tea.MouseMsg{X: x, Y: 5, Button: tea.MouseButtonLeft, Action: action}
}

var configured = store.Values{
	settings.KeyWebAppURL:               "https://app.example.com",
	settings.KeyOverlayEnabledByDefault: true,
}

func TestInputBeforeReadyIsReplayed(t *testing.T) {
	f := newPageFixture(t, store.Values{settings.KeyWebAppURL: "https://app.example.com"})

	f.m.Update(key("t"))
	assert.False(t, f.current.Load().State().Visible)
	assert.Contains(t, f.m.View(), "Loading")

	f.load(t)
	assert.True(t, f.current.Load().State().Visible)
	assert.True(t, f.m.view.Snapshot().Visible)
	assert.Eventually(t, func() bool {
		return slices.Contains(f.notifier.types(), daemon.MsgUpdateOverlayState)
	}, time.Second, 5*time.Millisecond)
}

func TestDragResizesPanel(t *testing.T) {
	f := newPageFixture(t, configured)
	f.load(t)
	require.True(t, f.current.Load().State().Visible)

	handle := f.m.handleColumn(f.m.view.Snapshot())
	assert.Equal(t, 83, handle)

	f.m.Update(mouse(tea.MouseActionPress, handle))
	require.True(t, f.current.Load().State().Resizing)
	assert.True(t, f.m.view.Snapshot().Resizing)

	f.m.Update(mouse(tea.MouseActionMotion, 70))
	f.m.Update(mouse(tea.MouseActionRelease, 70))

	a := f.current.Load()
	assert.False(t, a.State().Resizing)
	assert.InDelta(t, 30.0, a.State().WidthPercent, 1e-9)
	assert.Equal(t, 70, f.m.handleColumn(f.m.view.Snapshot()))

	a.Close()
	assert.InDelta(t, 30.0, f.sync.Snapshot()[settings.KeyOverlayWidth], 1e-9)
}

func TestPressAwayFromHandleDoesNotResize(t *testing.T) {
	f := newPageFixture(t, configured)
	f.load(t)

	f.m.Update(mouse(tea.MouseActionPress, 10))
	f.m.Update(mouse(tea.MouseActionMotion, 50))
	f.m.Update(mouse(tea.MouseActionRelease, 50))

	assert.InDelta(t, settings.DefaultWidth, f.current.Load().State().WidthPercent, 1e-9)
}

func TestBlurAndEscapeEndResize(t *testing.T) {
	for _, end := range []tea.Msg{tea.BlurMsg{}, key("esc")} {
		f := newPageFixture(t, configured)
		f.load(t)

		f.m.Update(mouse(tea.MouseActionPress, f.m.handleColumn(f.m.view.Snapshot())))
		f.m.Update(mouse(tea.MouseActionMotion, 60))
		f.m.Update(end)

		s := f.current.Load().State()
		assert.False(t, s.Resizing, "%T", end)
		assert.True(t, s.Visible, "%T must not hide while resizing", end)
		assert.InDelta(t, 40.0, s.WidthPercent, 1e-9)
	}
}

func TestKeys(t *testing.T) {
	f := newPageFixture(t, configured)
	f.load(t)
	a := f.current.Load()

	f.m.Update(key("p"))
	assert.True(t, a.State().Pinned)
	f.m.Update(key("o"))
	f.m.Update(key("esc"))
	assert.False(t, a.State().Visible)
	f.m.Update(key(" "))
	assert.True(t, a.State().Visible)

	assert.Eventually(t, func() bool {
		types := f.notifier.types()
		return slices.Contains(types, daemon.MsgUpdatePinnedMode) && slices.Contains(types, daemon.MsgOpenOptions)
	}, time.Second, 5*time.Millisecond)
}

func TestReloadStartsNewPageLoad(t *testing.T) {
	f := newPageFixture(t, configured)
	f.load(t)
	old := f.current.Load()
	require.True(t, old.State().Visible)

	_, cmd := f.m.Update(key("r"))
	require.NotNil(t, cmd)
	assert.NotSame(t, old, f.current.Load())
	assert.False(t, f.m.ready)
	assert.False(t, f.m.view.Snapshot().Visible)

	// A late result from the previous load is ignored
	f.m.Update(agentReadyMsg{agent: old})
	assert.False(t, f.m.ready)

	f.m.Update(cmd())
	assert.True(t, f.m.ready)
	assert.True(t, f.current.Load().State().Visible, "auto-show runs again")
}

func TestQuitDetachesAsClosedTab(t *testing.T) {
	f := newPageFixture(t, nil)
	_, cmd := f.m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, []bool{true}, f.detached)
}

// heldTier blocks writes until released.
type heldTier struct {
	*store.MemoryTier
	release chan struct{}
}

func (h *heldTier) Set(ctx context.Context, values store.Values) error {
	select {
	case <-h.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return h.MemoryTier.Set(ctx, values)
}

func TestReloadAndQuitDoNotWaitForWrites(t *testing.T) {
	tier := &heldTier{MemoryTier: store.NewMemoryTier("sync"), release: make(chan struct{})}
	require.NoError(t, tier.MemoryTier.Set(context.Background(), configured))
	st := store.New(tier, store.NewMemoryTier("local"))

	var current atomic.Pointer[agent.Agent]
	newAgent := func(v *panelView) *agent.Agent {
		return agent.New(st, v, &recordingNotifier{}, agent.WithPersistTimeout(time.Minute))
	}
	m := newPageModel("@1", &current, newAgent, func(bool) {})
	m.Update(m.initAgent(current.Load())())
	require.True(t, m.ready)
	old := current.Load()

	m.Update(key("p"))
	require.True(t, old.State().Pinned)

	updated := make(chan tea.Cmd, 1)
	go func() {
		_, cmd := m.Update(key("r"))
		updated <- cmd
	}()
	var reload tea.Cmd
	select {
	case reload = <-updated:
	case <-time.After(time.Second):
		close(tier.release)
		t.Fatal("reload waited for the previous page's writes")
	}
	require.NotNil(t, reload)
	assert.True(t, old.TogglePin(), "detached agent ignores input")

	close(tier.release)
	m.Update(reload())
	require.True(t, m.ready)
	assert.True(t, current.Load().State().Pinned, "new load sees the old page's write")

	_, quit := m.Update(key("q"))
	require.NotNil(t, quit)
	assert.IsType(t, tea.QuitMsg{}, quit())
	assert.True(t, current.Load().Toggle(), "closed agent stays visible")
}

func TestViewRendering(t *testing.T) {
	f := newPageFixture(t, nil)
	f.m.Update(tea.WindowSizeMsg{Width: 200, Height: 20})
	f.load(t)

	hidden := f.m.View()
	assert.NotContains(t, hidden, panelTitle)
	assert.Contains(t, hidden, "Page @1")

	f.m.Update(key("t"))
	out := f.m.View()
	assert.Len(t, strings.Split(out, "\n"), 20)
	assert.Contains(t, out, panelTitle)
	assert.Contains(t, out, "No Web App URL Configured")
	assert.Contains(t, out, "Open Options")
	assert.Contains(t, out, "◇")

	f.m.Update(key("p"))
	assert.Contains(t, f.m.View(), "◆")
}

func TestViewShowsEmbeddedApp(t *testing.T) {
	f := newPageFixture(t, configured)
	f.m.Update(tea.WindowSizeMsg{Width: 200, Height: 20})
	f.m.Update(key("p"))
	f.load(t)

	out := f.m.View()
	assert.Contains(t, out, "https://app.example.com")
	assert.Contains(t, out, "allow-scripts")
	assert.NotContains(t, out, "No Web App URL Configured")
}

func TestPanelColumns(t *testing.T) {
	tests := []struct {
		total   int
		percent float64
		want    int
	}{
		{100, settings.DefaultWidth, 17},
		{100, settings.MaxWidth, 50},
		{20, settings.MinWidth, 3},
		{4, settings.MaxWidth, 3},
	}
	for _, tt := range tests {
		if got := panelColumns(tt.total, tt.percent); got != tt.want {
			t.Errorf("panelColumns(%d, %g) = %d, want %d", tt.total, tt.percent, got, tt.want)
		}
	}
}

func TestPanelViewCoalescesRedraws(t *testing.T) {
	v := newPanelView()
	v.SetVisible(true)
	v.SetWidth(25)
	v.SetResizing(true)

	assert.Len(t, v.dirty, 1)
	<-v.Changed()
	assert.Equal(t, panelState{Visible: true, Width: 25, Resizing: true}, v.Snapshot())

	v.Reset()
	assert.Equal(t, settings.DefaultWidth, v.Snapshot().Width)
	assert.False(t, v.Snapshot().Visible)
}
