package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/b/webapp-overlay/pkg/settings"
	"github.com/b/webapp-overlay/pkg/store"
	"github.com/b/webapp-overlay/pkg/theme"
)

const statusTimeout = 3 * time.Second

// optionsStore is the part of store.Store the editor uses.
type optionsStore interface {
	Get(ctx context.Context, keys ...string) (store.Values, error)
	SetVia(ctx context.Context, values store.Values) (string, error)
}

type field int

const (
	fieldURL field = iota
	fieldEnabled
	fieldBackdrop
	fieldPinnedDefault
	fieldWidth
	fieldSave
	fieldReset
	fieldCount
)

// Message types
type loadedMsg struct {
	values  store.Values
	err     error
	refresh bool
}

type savedMsg struct {
	tier  string
	err   error
	reset bool
}

type storeChangedMsg struct{}

type statusExpiredMsg struct {
	seq int
}

// formModel edits the persisted settings. Fields the user has edited since
// the last load or save are left alone when another component writes.
type formModel struct {
	store         optionsStore
	timeout       time.Duration
	statusTimeout time.Duration

	url           textinput.Model
	width         textinput.Model
	enabled       bool
	backdrop      bool
	pinnedDefault bool

	focus   field
	touched map[field]bool

	urlErr   string
	widthErr string

	status    string
	statusErr bool
	statusSeq int

	confirmReset bool
	saving       bool
	loaded       bool
}

func newFormModel(st optionsStore, timeout time.Duration) *formModel {
	url := textinput.New()
	url.Placeholder = "https://example.com/app"
	url.Prompt = ""
	url.CharLimit = 2048
	url.Width = 48
	url.Focus()

	width := textinput.New()
	width.Prompt = ""
	width.CharLimit = 8
	width.Width = 8

	return &formModel{
		store:         st,
		timeout:       timeout,
		statusTimeout: statusTimeout,
		url:           url,
		width:         width,
		touched:       make(map[field]bool),
	}
}

// Init implements tea.Model
func (m *formModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.load(false))
}

func (m *formModel) load(refresh bool) tea.Cmd {
	st, timeout := m.store, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		values, err := st.Get(ctx, settings.AllKeys...)
		return loadedMsg{values: values, err: err, refresh: refresh}
	}
}

func (m *formModel) write(values store.Values, reset bool) tea.Cmd {
	st, timeout := m.store, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		tier, err := st.SetVia(ctx, values)
		return savedMsg{tier: tier, err: err, reset: reset}
	}
}

// apply copies s into the fields, skipping edited ones when keepTouched.
func (m *formModel) apply(s settings.Settings, keepTouched bool) {
	set := func(f field, fn func()) {
		if keepTouched && m.touched[f] {
			return
		}
		fn()
	}
	set(fieldURL, func() { m.url.SetValue(s.WebAppURL) })
	set(fieldEnabled, func() { m.enabled = s.OverlayEnabledByDefault })
	set(fieldBackdrop, func() { m.backdrop = s.UseBackdrop })
	set(fieldPinnedDefault, func() { m.pinnedDefault = s.PinnedModeDefault })
	set(fieldWidth, func() { m.width.SetValue(formatWidth(s.OverlayWidth)) })
}

func formatWidth(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}

func (m *formModel) setStatus(text string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.status = text
	m.statusErr = isErr
	seq := m.statusSeq
	return tea.Tick(m.statusTimeout, func(time.Time) tea.Msg {
		return statusExpiredMsg{seq: seq}
	})
}

// Update implements tea.Model
func (m *formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			return m, m.setStatus(fmt.Sprintf("Error loading settings: %v", msg.err), true)
		}
		m.apply(settings.FromValues(msg.values), msg.refresh)
		m.loaded = true
		return m, nil

	case storeChangedMsg:
		return m, m.load(true)

	case savedMsg:
		m.saving = false
		if msg.err != nil {
			return m, m.setStatus("Error saving settings. Please try again.", true)
		}
		m.touched = make(map[field]bool)
		if msg.reset {
			return m, m.setStatus("Settings reset to defaults", false)
		}
		if msg.tier == store.LocalTierName {
			return m, m.setStatus("Settings saved successfully! (Using local storage)", false)
		}
		return m, m.setStatus("Settings saved successfully!", false)

	case statusExpiredMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	if m.focus == fieldWidth {
		m.width, cmd = m.width.Update(msg)
	} else {
		m.url, cmd = m.url.Update(msg)
	}
	return m, cmd
}

func (m *formModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmReset {
		switch msg.String() {
		case "y", "Y":
			m.confirmReset = false
			return m, m.reset()
		case "ctrl+c":
			return m, tea.Quit
		default:
			m.confirmReset = false
			return m, nil
		}
	}

	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab", "down":
		m.setFocus((m.focus + 1) % fieldCount)
		return m, nil
	case "shift+tab", "up":
		m.setFocus((m.focus + fieldCount - 1) % fieldCount)
		return m, nil
	case "ctrl+s":
		return m, m.save()
	case "ctrl+r":
		m.confirmReset = true
		return m, nil
	}

	switch m.focus {
	case fieldURL:
		before := m.url.Value()
		if msg.String() == "enter" {
			return m, m.save()
		}
		var cmd tea.Cmd
		m.url, cmd = m.url.Update(msg)
		if m.url.Value() != before {
			m.touched[fieldURL] = true
			m.urlErr = ""
		}
		return m, cmd
	case fieldWidth:
		before := m.width.Value()
		if msg.String() == "enter" {
			return m, m.save()
		}
		var cmd tea.Cmd
		m.width, cmd = m.width.Update(msg)
		if m.width.Value() != before {
			m.touched[fieldWidth] = true
			m.widthErr = ""
		}
		return m, cmd
	case fieldEnabled, fieldBackdrop, fieldPinnedDefault:
		if msg.String() == " " || msg.String() == "enter" {
			m.toggle(m.focus)
		}
	case fieldSave:
		if msg.String() == "enter" || msg.String() == " " {
			return m, m.save()
		}
	case fieldReset:
		if msg.String() == "enter" || msg.String() == " " {
			m.confirmReset = true
		}
	}
	return m, nil
}

func (m *formModel) setFocus(f field) {
	m.focus = f
	m.url.Blur()
	m.width.Blur()
	switch f {
	case fieldURL:
		m.url.Focus()
	case fieldWidth:
		m.width.Focus()
	}
}

func (m *formModel) toggle(f field) {
	switch f {
	case fieldEnabled:
		m.enabled = !m.enabled
	case fieldBackdrop:
		m.backdrop = !m.backdrop
	case fieldPinnedDefault:
		m.pinnedDefault = !m.pinnedDefault
	}
	m.touched[f] = true
}

// validate checks the form and returns the values to write.
func (m *formModel) validate() (store.Values, bool) {
	ok := true
	url := strings.TrimSpace(m.url.Value())
	if err := settings.ValidateURLInput(url); err != nil {
		m.urlErr = "Please enter a valid HTTP or HTTPS URL"
		ok = false
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(m.width.Value()), 64)
	if err == nil {
		err = settings.ValidateWidthInput(width)
	}
	if err != nil {
		m.widthErr = fmt.Sprintf("Width must be a number between %g and %g", settings.MinWidth, settings.MaxWidth)
		ok = false
	}
	if !ok {
		return nil, false
	}
	return store.Values{
		settings.KeyWebAppURL:               url,
		settings.KeyOverlayEnabledByDefault: m.enabled,
		settings.KeyUseBackdrop:             m.backdrop,
		settings.KeyPinnedModeDefault:       m.pinnedDefault,
		settings.KeyOverlayWidth:            width,
	}, true
}

func (m *formModel) save() tea.Cmd {
	if m.saving {
		return nil
	}
	values, ok := m.validate()
	if !ok {
		if m.urlErr != "" {
			return m.setStatus(m.urlErr, true)
		}
		return m.setStatus(m.widthErr, true)
	}
	m.url.SetValue(values[settings.KeyWebAppURL].(string))
	m.saving = true
	return m.write(values, false)
}

func (m *formModel) reset() tea.Cmd {
	defaults := settings.Defaults()
	m.urlErr, m.widthErr = "", ""
	m.apply(defaults, false)
	m.saving = true
	return m.write(defaults.Values(), true)
}

var (
	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	focusStyle   lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	hintStyle    lipgloss.Style
)

func init() {
	usePalette(theme.New(theme.DefaultAccent, true))
}

func usePalette(p theme.Palette) {
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(p.TitleFg)).Background(lipgloss.Color(p.TitleBg)).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Text))
	focusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Focus)).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Error))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Success))
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted))
}

// View implements tea.Model
func (m *formModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Web App Reader Options"))
	b.WriteString("\n\n")

	label := func(f field, text string) string {
		if m.focus == f {
			return focusStyle.Render("› " + text)
		}
		return labelStyle.Render("  " + text)
	}
	check := func(on bool) string {
		if on {
			return "[x]"
		}
		return "[ ]"
	}

	b.WriteString(label(fieldURL, "Web app URL") + "\n    " + m.url.View() + "\n")
	if m.urlErr != "" {
		b.WriteString("    " + errorStyle.Render(m.urlErr) + "\n")
	}
	b.WriteString(label(fieldEnabled, check(m.enabled)+" Show overlay by default") + "\n")
	b.WriteString(label(fieldBackdrop, check(m.backdrop)+" Dim the page behind a floating overlay") + "\n")
	b.WriteString(label(fieldPinnedDefault, check(m.pinnedDefault)+" Pin the overlay by default") + "\n")
	b.WriteString(label(fieldWidth, fmt.Sprintf("Panel width (%g-%g %%)", settings.MinWidth, settings.MaxWidth)) + "\n    " + m.width.View() + "\n")
	if m.widthErr != "" {
		b.WriteString("    " + errorStyle.Render(m.widthErr) + "\n")
	}
	b.WriteString("\n" + label(fieldSave, "[ Save ]") + "  " + label(fieldReset, "[ Reset ]") + "\n\n")

	switch {
	case m.confirmReset:
		b.WriteString(errorStyle.Render("Are you sure you want to reset all settings to defaults? (y/n)") + "\n")
	case m.status != "" && m.statusErr:
		b.WriteString(errorStyle.Render(m.status) + "\n")
	case m.status != "":
		b.WriteString(successStyle.Render(m.status) + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(hintStyle.Render("tab move · space toggle · ctrl+s save · ctrl+r reset · esc quit"))
	return b.String()
}
