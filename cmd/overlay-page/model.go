package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
	"github.com/mattn/go-runewidth"

	"github.com/b/webapp-overlay/pkg/agent"
	"github.com/b/webapp-overlay/pkg/theme"
)

const (
	zonePin     = "overlay-pin"
	zoneClose   = "overlay-close"
	zoneOptions = "overlay-options"

	panelTitle = "Web App Reader"
)

// Message types
type agentReadyMsg struct {
	agent *agent.Agent
}

type redrawMsg struct{}

// pageModel is one terminal "page" hosting the overlay. Each load of the page
// (startup and every reload) gets a fresh agent; input that arrives before
// the agent is ready is queued and replayed.
type pageModel struct {
	tabID       string
	view        *panelView
	current     *atomic.Pointer[agent.Agent]
	newAgent    func(*panelView) *agent.Agent
	detach      func(closed bool)
	zones       *zone.Manager
	initTimeout time.Duration

	width   int
	height  int
	ready   bool
	pending []tea.Msg
}

func newPageModel(tabID string, current *atomic.Pointer[agent.Agent], newAgent func(*panelView) *agent.Agent, detach func(bool)) *pageModel {
	view := newPanelView()
	current.Store(newAgent(view))
	if detach == nil {
		detach = func(bool) {}
	}
	return &pageModel{
		tabID:       tabID,
		view:        view,
		current:     current,
		newAgent:    newAgent,
		detach:      detach,
		zones:       zone.New(),
		initTimeout: 5 * time.Second,
		width:       80,
		height:      24,
	}
}

// Init implements tea.Model
func (m *pageModel) Init() tea.Cmd {
	return tea.Batch(m.initAgent(m.current.Load()), m.waitForRedraw())
}

func (m *pageModel) initAgent(a *agent.Agent) tea.Cmd {
	timeout := m.initTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a.Init(ctx)
		return agentReadyMsg{agent: a}
	}
}

func (m *pageModel) waitForRedraw() tea.Cmd {
	changed := m.view.Changed()
	return func() tea.Msg {
		<-changed
		return redrawMsg{}
	}
}

// Update implements tea.Model
func (m *pageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case agentReadyMsg:
		// A reload may have replaced the agent while it was loading
		if msg.agent != m.current.Load() {
			return m, nil
		}
		m.ready = true
		queued := m.pending
		m.pending = nil
		var cmds []tea.Cmd
		for _, q := range queued {
			_, cmd := m.Update(q)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case redrawMsg:
		return m, m.waitForRedraw()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.BlurMsg:
		// The release of a drag in progress will never reach us
		if m.ready {
			m.current.Load().CancelResize()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a := m.current.Load()
			a.Detach()
			m.detach(true)
			// Queued writes flush off the event loop before the program exits
			return m, func() tea.Msg {
				a.Close()
				return tea.Quit()
			}
		}
		if !m.ready {
			m.pending = append(m.pending, msg)
			return m, nil
		}
		return m.handleKey(msg)

	case tea.MouseMsg:
		if !m.ready {
			m.pending = append(m.pending, msg)
			return m, nil
		}
		return m.handleMouse(msg)
	}
	return m, nil
}

func (m *pageModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := m.current.Load()
	switch msg.String() {
	case "t", " ":
		a.Toggle()
	case "p":
		a.TogglePin()
	case "o":
		a.OpenOptions()
	case "esc":
		if a.State().Resizing {
			a.CancelResize()
		} else {
			a.Hide()
		}
	case "r":
		return m, m.reload()
	}
	return m, nil
}

// reload ends the current page load and starts a new one. The old agent is
// detached at once and closed in the returned command, so the new load reads
// settings only after the old writes have landed.
func (m *pageModel) reload() tea.Cmd {
	old := m.current.Load()
	old.Detach()
	m.view.Reset()
	a := m.newAgent(m.view)
	m.current.Store(a)
	m.ready = false
	m.pending = nil
	load := m.initAgent(a)
	return func() tea.Msg {
		old.Close()
		return load()
	}
}

func (m *pageModel) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	a := m.current.Load()
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return m, nil
		}
		s := m.view.Snapshot()
		switch {
		case !s.Visible:
		case msg.X == m.handleColumn(s):
			a.BeginResize()
		case m.hit(zonePin, msg):
			a.TogglePin()
		case m.hit(zoneClose, msg):
			a.Hide()
		case m.hit(zoneOptions, msg):
			a.OpenOptions()
		}
	case tea.MouseActionMotion:
		a.PointerMove(float64(msg.X), float64(m.width))
	case tea.MouseActionRelease:
		a.EndResize()
	}
	return m, nil
}

func (m *pageModel) hit(id string, msg tea.MouseMsg) bool {
	z := m.zones.Get(id)
	return z != nil && z.InBounds(msg)
}

// panelColumns converts the width percentage to terminal columns.
func panelColumns(total int, percent float64) int {
	cols := int(math.Round(float64(total) * percent / 100))
	return max(3, min(cols, total-1))
}

func (m *pageModel) handleColumn(s panelState) int {
	return m.width - panelColumns(m.width, s.Width)
}

var (
	pageStyle     lipgloss.Style
	backdropStyle lipgloss.Style
	handleStyle   lipgloss.Style
	dragStyle     lipgloss.Style
	titleStyle    lipgloss.Style
	buttonStyle   lipgloss.Style
	closeStyle    lipgloss.Style
	mutedStyle    lipgloss.Style
)

func init() {
	usePalette(theme.New(theme.DefaultAccent, true))
}

// usePalette rebuilds the page styles from p.
func usePalette(p theme.Palette) {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	pageStyle = fg(p.Text)
	backdropStyle = fg(p.Backdrop).Faint(true)
	handleStyle = fg(p.Handle)
	dragStyle = fg(p.Drag).Bold(true)
	titleStyle = fg(p.TitleFg).Background(lipgloss.Color(p.TitleBg)).Bold(true)
	buttonStyle = fg(p.Button)
	closeStyle = fg(p.Close)
	mutedStyle = fg(p.Muted)
}

// View implements tea.Model
func (m *pageModel) View() string {
	if m.width <= 0 || m.height <= 0 {
		return ""
	}
	if !m.ready {
		return mutedStyle.Render(" Loading...")
	}

	s := m.view.Snapshot()
	if !s.Visible {
		return strings.Join(m.pageLines(m.width, false, false), "\n")
	}

	cols := panelColumns(m.width, s.Width)
	page := m.pageLines(m.width-cols, s.Pinned, s.Backdrop)
	panel := m.panelLines(cols, s)

	out := make([]string, m.height)
	for i := range out {
		out[i] = page[i] + panel[i]
	}
	return m.zones.Scan(strings.Join(out, "\n"))
}

// pageLines renders the page body. A pinned panel docks beside the page, so
// the text reflows; a floating panel covers it.
func (m *pageModel) pageLines(cols int, reflow, dim bool) []string {
	text := []string{
		fmt.Sprintf("Page %s", m.tabID),
		"",
		"t toggle overlay   p pin   o options   r reload   q close",
		"Drag the panel edge to resize it.",
	}

	var lines []string
	for _, t := range text {
		if reflow && runewidth.StringWidth(t) > cols {
			lines = append(lines, strings.Split(runewidth.Wrap(t, cols), "\n")...)
			continue
		}
		lines = append(lines, runewidth.Truncate(t, cols, ""))
	}

	style := pageStyle
	if dim {
		style = backdropStyle
	}
	out := make([]string, m.height)
	for i := range out {
		line := ""
		if i < len(lines) {
			line = lines[i]
		}
		out[i] = style.Render(runewidth.FillRight(line, cols))
	}
	return out
}

func (m *pageModel) panelLines(cols int, s panelState) []string {
	inner := cols - 1

	handle := handleStyle.Render("│")
	if s.Resizing {
		handle = dragStyle.Render("┃")
	}

	pin := "◇"
	if s.Pinned {
		pin = "◆"
	}
	controls := m.zones.Mark(zonePin, buttonStyle.Render(pin)) + " " + m.zones.Mark(zoneClose, closeStyle.Render("×"))
	title := runewidth.Truncate(" "+panelTitle, max(0, inner-4), "…")
	header := titleStyle.Render(runewidth.FillRight(title, max(0, inner-4))) + " " + controls

	body := m.panelBody(inner, s)
	footer := mutedStyle.Render(runewidth.FillLeft(fmt.Sprintf("%.1f%% ", s.Width), inner))

	out := make([]string, m.height)
	for i := range out {
		var line string
		switch {
		case i == 0:
			line = header
		case i == m.height-1:
			line = footer
		case i-1 < len(body):
			line = body[i-1]
		default:
			line = strings.Repeat(" ", inner)
		}
		out[i] = handle + line
	}
	return out
}

func (m *pageModel) panelBody(cols int, s panelState) []string {
	fit := func(t string) string {
		return runewidth.FillRight(runewidth.Truncate(t, cols, "…"), cols)
	}
	if s.Content.Placeholder() {
		return []string{
			fit(""),
			fit(" No Web App URL Configured"),
			fit(" Please configure a web app URL in the options."),
			fit(""),
			m.optionsButton(cols),
		}
	}
	lines := []string{fit(""), fit(" " + s.Content.EmbedURL), fit("")}
	// The sandbox the embedded app would run with
	for _, l := range strings.Split(runewidth.Wrap("sandbox: "+strings.Join(s.Content.Sandbox, " "), max(1, cols-1)), "\n") {
		lines = append(lines, mutedStyle.Render(fit(" "+l)))
	}
	return lines
}

func (m *pageModel) optionsButton(cols int) string {
	button := runewidth.Truncate("[ Open Options ]", max(0, cols-1), "")
	pad := strings.Repeat(" ", max(0, cols-1-runewidth.StringWidth(button)))
	return " " + m.zones.Mark(zoneOptions, buttonStyle.Render(button)) + pad
}
