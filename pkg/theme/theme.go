// Package theme derives the overlay's terminal colors from the terminal
// background and a configurable accent.
package theme

import (
	"os"
	"strconv"
	"strings"

	"github.com/muesli/termenv"
)

// Mode selects how the background is determined.
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeDark  Mode = "dark"
	ModeLight Mode = "light"
)

// Palette is the set of colors the page host and options editor draw with.
type Palette struct {
	Background string
	Text       string
	Muted      string
	Backdrop   string
	Handle     string
	Drag       string
	TitleFg    string
	TitleBg    string
	Button     string
	Close      string
	Error      string
	Success    string
	Focus      string
}

const (
	// DefaultAccent colors the title bars when none is configured.
	DefaultAccent = "#2c3e50"
	minContrast   = 4.5
)

// New derives a palette for a dark or light background.
func New(accent string, dark bool) Palette {
	bg := "#1e1e1e"
	base := Palette{
		Text:     "#d0d0d0",
		Muted:    "#8a8a8a",
		Backdrop: "#555555",
		Handle:   "#6c6c6c",
		Drag:     "#3498db",
		Button:   "#27ae60",
		Close:    "#e74c3c",
		Error:    "#e74c3c",
		Success:  "#27ae60",
		Focus:    "#f1c40f",
	}
	if !dark {
		bg = "#fafafa"
		base.Text = "#303030"
		base.Muted = "#6c6c6c"
		base.Backdrop = "#b0b0b0"
		base.Handle = "#9e9e9e"
		base.Focus = "#b7950b"
	}
	base.Background = bg

	// The backdrop is dimmed on purpose; everything else must stay readable
	for _, c := range []*string{&base.Text, &base.Muted, &base.Button, &base.Close, &base.Error, &base.Success, &base.Focus, &base.Drag} {
		*c = EnsureContrast(*c, bg, minContrast)
	}

	base.TitleBg = accent
	if dark == IsLight(accent) {
		// Keep the title bar in the same family as the background
		if dark {
			base.TitleBg = Shade(accent, -0.4)
		} else {
			base.TitleBg = Shade(accent, 0.4)
		}
	}
	base.TitleFg = TextOn(base.TitleBg)
	return base
}

// Detect resolves mode to whether the terminal background is dark.
func Detect(mode Mode) bool {
	switch mode {
	case ModeDark:
		return true
	case ModeLight:
		return false
	}
	if dark, ok := darkFromCOLORFGBG(os.Getenv("COLORFGBG")); ok {
		return dark
	}
	// OSC queries do not pass through tmux
	if os.Getenv("TMUX") == "" {
		return termenv.HasDarkBackground()
	}
	return true
}

// darkFromCOLORFGBG reads "fg;bg" ANSI color indexes: 0-7 are dark
// backgrounds, 8-15 light.
func darkFromCOLORFGBG(v string) (bool, bool) {
	if v == "" {
		return false, false
	}
	parts := strings.Split(v, ";")
	bg, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || len(parts) < 2 {
		return false, false
	}
	return bg < 8 || bg == 16, true
}
