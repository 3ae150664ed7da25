// Package tmux maps the overlay's host concepts onto tmux: a session hosts
// one daemon, and each window is a tab with its own page agent.
package tmux

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ansiEscapeRegex matches ANSI escape sequences
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\].*?(?:\x07|\x1b\\)`)

// stripANSI removes ANSI escape sequences from a string
func stripANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// Window is a tmux window; its ID doubles as the tab id.
type Window struct {
	ID     string
	Index  int
	Name   string
	Active bool
}

const windowFormat = "#{window_id}\x1f#{window_index}\x1f#{window_name}\x1f#{window_active}"

// InSession reports whether the process runs inside a tmux client.
func InSession() bool {
	return os.Getenv("TMUX") != ""
}

// IsWindowID reports whether id looks like a tmux window id (@N).
func IsWindowID(id string) bool {
	if len(id) < 2 || id[0] != '@' {
		return false
	}
	_, err := strconv.Atoi(id[1:])
	return err == nil
}

func displayMessage(format string) (string, error) {
	out, err := exec.Command("tmux", "display-message", "-p", format).Output()
	if err != nil {
		return "", fmt.Errorf("tmux display-message %s failed: %w", format, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// SessionID returns the current session id ($N).
func SessionID() (string, error) {
	return displayMessage("#{session_id}")
}

// SessionOr returns the tmux session id when running inside tmux, otherwise
// fallback.
func SessionOr(fallback string) string {
	if !InSession() {
		return fallback
	}
	if id, err := SessionID(); err == nil && id != "" {
		return id
	}
	return fallback
}

// WindowID returns the current window id (@N).
func WindowID() (string, error) {
	return displayMessage("#{window_id}")
}

// ListWindows returns the windows of the current session
func ListWindows() ([]Window, error) {
	cmd := exec.Command("tmux", "list-windows", "-F", windowFormat)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("tmux list-windows failed: %w", err)
	}
	return parseWindows(string(out)), nil
}

func parseWindows(out string) []Window {
	var windows []Window
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\x1f")
		if len(parts) < 4 {
			continue
		}
		index, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		windows = append(windows, Window{
			ID:     parts[0],
			Index:  index,
			Name:   stripANSI(parts[2]),
			Active: parts[3] == "1",
		})
	}
	return windows
}

// Popup describes a display-popup invocation.
type Popup struct {
	Title  string
	Width  string // e.g. "70%"
	Height string
	Target string // client to show it on; empty for the current one
}

// Args renders the tmux arguments that run command in the popup.
func (p Popup) Args(command []string) []string {
	args := []string{"display-popup", "-E"}
	if p.Target != "" {
		args = append(args, "-c", p.Target)
	}
	if p.Width != "" {
		args = append(args, "-w", p.Width)
	}
	if p.Height != "" {
		args = append(args, "-h", p.Height)
	}
	if p.Title != "" {
		args = append(args, "-T", p.Title)
	}
	return append(append(args, "--"), command...)
}

// DisplayPopup opens command in a popup without waiting for it to close.
func DisplayPopup(p Popup, command []string) error {
	cmd := exec.Command("tmux", p.Args(command)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("tmux display-popup failed: %w", err)
	}
	go cmd.Wait()
	return nil
}
