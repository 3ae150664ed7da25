package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b/webapp-overlay/pkg/settings"
	"github.com/b/webapp-overlay/pkg/store"
)

type formFixture struct {
	sync  *store.MemoryTier
	local *store.MemoryTier
	m     *formModel
}

func newFormFixture(t *testing.T, seed store.Values) *formFixture {
	t.Helper()
	f := &formFixture{
		sync:  store.NewMemoryTier(store.SyncTierName),
		local: store.NewMemoryTier(store.LocalTierName),
	}
	if seed != nil {
		require.NoError(t, f.sync.Set(context.Background(), seed))
	}
	f.m = newFormModel(store.New(f.sync, f.local), time.Second)
	f.m.statusTimeout = time.Millisecond
	f.m.Update(f.m.load(false)())
	require.True(t, f.m.loaded)
	return f
}

// run feeds msg and resolves the store command it produces, if any.
func (f *formFixture) run(t *testing.T, msg tea.Msg) {
	t.Helper()
	_, cmd := f.m.Update(msg)
	if cmd == nil {
		return
	}
	switch out := cmd().(type) {
	case savedMsg, loadedMsg:
		f.m.Update(out)
	}
}

func typeText(f *formFixture, s string) {
	for _, r := range s {
		f.m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func keyOf(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestLoadFillsForm(t *testing.T) {
	f := newFormFixture(t, store.Values{
		settings.KeyWebAppURL:         "https://app.example.com",
		settings.KeyUseBackdrop:       true,
		settings.KeyOverlayWidth:      25.5,
		settings.KeyPinnedModeDefault: true,
	})
	assert.Equal(t, "https://app.example.com", f.m.url.Value())
	assert.True(t, f.m.backdrop)
	assert.True(t, f.m.pinnedDefault)
	assert.False(t, f.m.enabled)
	assert.Equal(t, "25.5", f.m.width.Value())
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	f := newFormFixture(t, nil)
	assert.Empty(t, f.m.url.Value())
	assert.Equal(t, "16.666", f.m.width.Value())
}

func TestInvalidURLBlocksSave(t *testing.T) {
	f := newFormFixture(t, nil)
	typeText(f, "ftp://files.example.com")

	f.run(t, keyOf("ctrl+s"))
	assert.NotEmpty(t, f.m.urlErr)
	assert.True(t, f.m.statusErr)
	assert.Contains(t, f.m.View(), "valid HTTP or HTTPS URL")
	assert.Empty(t, f.sync.Snapshot(), "nothing written")

	// Editing the field clears the error right away
	f.m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Empty(t, f.m.urlErr)
}

func TestWidthOutOfRangeBlocksSave(t *testing.T) {
	for _, input := range []string{"9", "50.5", "wide"} {
		f := newFormFixture(t, nil)
		f.m.width.SetValue(input)
		f.run(t, keyOf("ctrl+s"))
		assert.NotEmpty(t, f.m.widthErr, input)
		assert.Empty(t, f.sync.Snapshot(), input)
	}
}

func TestSaveWritesEditedSettings(t *testing.T) {
	f := newFormFixture(t, store.Values{settings.KeyPinnedMode: true})
	typeText(f, "  https://app.example.com  ")
	f.run(t, keyOf("tab"))
	f.run(t, keyOf(" "))

	f.run(t, keyOf("ctrl+s"))
	assert.Equal(t, "Settings saved successfully!", f.m.status)
	assert.False(t, f.m.statusErr)

	snap := f.sync.Snapshot()
	assert.Equal(t, "https://app.example.com", snap[settings.KeyWebAppURL])
	assert.Equal(t, true, snap[settings.KeyOverlayEnabledByDefault])
	assert.Equal(t, false, snap[settings.KeyUseBackdrop])
	assert.Equal(t, settings.DefaultWidth, snap[settings.KeyOverlayWidth])
	assert.Equal(t, true, snap[settings.KeyPinnedMode], "the volatile pin override is not touched by save")
	assert.Empty(t, f.m.touched)
}

func TestEmptyURLIsAllowed(t *testing.T) {
	f := newFormFixture(t, store.Values{settings.KeyWebAppURL: "https://old.example.com"})
	f.m.url.SetValue("")
	f.run(t, keyOf("enter"))
	assert.Empty(t, f.m.urlErr)
	assert.Equal(t, "", f.sync.Snapshot()[settings.KeyWebAppURL])
}

func TestSaveReportsLocalFallback(t *testing.T) {
	f := newFormFixture(t, nil)
	f.sync.FailSets(errors.New("quota exceeded"))
	f.run(t, keyOf("ctrl+s"))
	assert.Equal(t, "Settings saved successfully! (Using local storage)", f.m.status)
	assert.True(t, f.local.Snapshot().Has(settings.KeyOverlayWidth))

	f.local.FailSets(errors.New("disk full"))
	f.run(t, keyOf("ctrl+s"))
	assert.True(t, f.m.statusErr)
	assert.Contains(t, f.m.status, "Error saving settings")
}

func TestResetNeedsConfirmation(t *testing.T) {
	seed := store.Values{
		settings.KeyWebAppURL:    "https://app.example.com",
		settings.KeyUseBackdrop:  true,
		settings.KeyOverlayWidth: 40.0,
		settings.KeyPinnedMode:   true,
	}
	f := newFormFixture(t, seed)

	f.run(t, keyOf("ctrl+r"))
	assert.True(t, f.m.confirmReset)
	assert.Contains(t, f.m.View(), "reset all settings")
	f.run(t, keyOf("n"))
	assert.False(t, f.m.confirmReset)
	assert.Equal(t, "https://app.example.com", f.sync.Snapshot()[settings.KeyWebAppURL])

	f.run(t, keyOf("ctrl+r"))
	f.run(t, keyOf("y"))
	assert.Equal(t, "Settings reset to defaults", f.m.status)
	assert.Equal(t, settings.Defaults().Values(), f.sync.Snapshot())
	assert.Empty(t, f.m.url.Value())
	assert.False(t, f.m.backdrop)
}

func TestExternalWriteRefreshesUntouchedFields(t *testing.T) {
	f := newFormFixture(t, store.Values{settings.KeyWebAppURL: "https://a.example.com"})
	f.m.url.SetValue("")
	typeText(f, "https://mine.example.com")

	require.NoError(t, f.sync.Set(context.Background(), store.Values{
		settings.KeyWebAppURL:   "https://theirs.example.com",
		settings.KeyUseBackdrop: true,
	}))
	f.run(t, storeChangedMsg{})

	assert.Equal(t, "https://mine.example.com", f.m.url.Value(), "edited field kept")
	assert.True(t, f.m.backdrop, "untouched field refreshed")
}

func TestStatusExpires(t *testing.T) {
	f := newFormFixture(t, nil)
	f.m.setStatus("first", false)
	seq := f.m.statusSeq
	f.m.setStatus("second", false)

	f.m.Update(statusExpiredMsg{seq: seq})
	assert.Equal(t, "second", f.m.status, "stale timer ignored")
	f.m.Update(statusExpiredMsg{seq: f.m.statusSeq})
	assert.Empty(t, f.m.status)
}
