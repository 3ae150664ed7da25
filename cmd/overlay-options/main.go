package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/b/webapp-overlay/pkg/config"
	"github.com/b/webapp-overlay/pkg/store"
	"github.com/b/webapp-overlay/pkg/theme"
)

var (
	configPath = flag.String("config", "", "config file (default: <config dir>/config.yaml)")
	_          = flag.String("session", "", "session ID (accepted for symmetry with the other binaries)")
	debug      = flag.Bool("debug", false, "Enable debug logging to stderr")
)

func main() {
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", path, err)
		os.Exit(1)
	}

	settingsStore, closeStore, err := store.Open(cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening settings store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()
	if *debug {
		settingsStore.SetLogger(log.New(os.Stderr, "[options] ", log.LstdFlags))
	} else {
		settingsStore.SetLogger(log.New(io.Discard, "", 0))
	}

	lipgloss.SetColorProfile(termenv.ColorProfile())
	usePalette(theme.New(cfg.UI.Accent, theme.Detect(theme.Mode(cfg.UI.Theme))))
	model := newFormModel(settingsStore, cfg.Timing.PersistTimeout())
	p := tea.NewProgram(model, tea.WithAltScreen())

	// Pick up writes from pages and the daemon while the editor is open
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.Watch(ctx, store.WatchPaths(settingsStore), store.DefaultDebounce, func() {
		p.Send(storeChangedMsg{})
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: settings will not refresh: %v\n", err)
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
