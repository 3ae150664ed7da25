package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/b/webapp-overlay/pkg/config"
	"github.com/b/webapp-overlay/pkg/tmux"
)

// getOptionsBin returns the path to the overlay-options binary
func getOptionsBin(configured string) string {
	if configured != "" {
		return configured
	}
	exe, err := os.Executable()
	if err != nil {
		return "overlay-options"
	}
	return filepath.Join(filepath.Dir(exe), "overlay-options")
}

var errNoTerminal = errors.New("no terminal for the options editor: run inside tmux or set TERMINAL")

// optionsLauncher opens the options editor: in a tmux popup when the daemon
// runs inside tmux, otherwise in a new $TERMINAL window.
type optionsLauncher struct {
	bin       string
	sessionID string
	popup     tmux.Popup
	terminal  string

	inTmux  func() bool
	showPop func(tmux.Popup, []string) error
	detach  func(bin string, args []string) error
}

func newOptionsLauncher(cfg config.Options, sessionID string) *optionsLauncher {
	return &optionsLauncher{
		bin:       getOptionsBin(cfg.Command),
		sessionID: sessionID,
		popup:     tmux.Popup{Title: " Overlay Options ", Width: cfg.PopupW, Height: cfg.PopupH},
		terminal:  os.Getenv("TERMINAL"),
		inTmux:    tmux.InSession,
		showPop:   tmux.DisplayPopup,
		detach:    startDetached,
	}
}

func (l *optionsLauncher) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := []string{"-session", l.sessionID}
	if l.inTmux() {
		if err := l.showPop(l.popup, append([]string{l.bin}, args...)); err != nil {
			return fmt.Errorf("open options popup: %w", err)
		}
		logEvent("OPTIONS_OPEN popup bin=%s", l.bin)
		return nil
	}
	if l.terminal == "" {
		return errNoTerminal
	}
	if err := l.detach(l.terminal, append([]string{"-e", l.bin}, args...)); err != nil {
		return fmt.Errorf("start options editor: %w", err)
	}
	logEvent("OPTIONS_OPEN terminal=%s bin=%s", l.terminal, l.bin)
	return nil
}

// startDetached runs bin in its own session so it outlives the request.
func startDetached(bin string, args []string) error {
	cmd := exec.Command(bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
