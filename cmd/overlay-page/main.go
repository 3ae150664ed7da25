package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/b/webapp-overlay/pkg/agent"
	"github.com/b/webapp-overlay/pkg/config"
	"github.com/b/webapp-overlay/pkg/daemon"
	"github.com/b/webapp-overlay/pkg/paths"
	"github.com/b/webapp-overlay/pkg/store"
	"github.com/b/webapp-overlay/pkg/theme"
	"github.com/b/webapp-overlay/pkg/tmux"
)

var (
	sessionID  = flag.String("session", "", "session ID (default: tmux session, else config)")
	tabFlag    = flag.String("tab", "", "tab ID this page is (default: current tmux window)")
	configPath = flag.String("config", "", "config file (default: <config dir>/config.yaml)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

var debugLog *log.Logger

func resolveTabID() string {
	if *tabFlag != "" {
		return *tabFlag
	}
	if id, err := tmux.WindowID(); err == nil && id != "" {
		return id
	}
	return fmt.Sprintf("page-%d", os.Getpid())
}

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
	if *sessionID == "" {
		*sessionID = tmux.SessionOr(cfg.Session)
	}
	tabID := resolveTabID()

	if *debug {
		// Write debug log to file instead of stderr to avoid corrupting the display
		logPath := paths.RuntimePath(*sessionID, "page-"+tabID+".log")
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			debugLog = log.New(os.Stderr, "[page] ", log.LstdFlags|log.Lmicroseconds)
		} else {
			debugLog = log.New(logFile, "[page] ", log.LstdFlags|log.Lmicroseconds)
		}
	} else {
		debugLog = log.New(io.Discard, "", 0)
	}

	settingsStore, closeStore, err := store.Open(cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening settings store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()
	settingsStore.SetLogger(debugLog)

	// The page works without a coordinator; it just cannot be toggled remotely
	var notifier agent.Notifier
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timing.RequestTimeout())
	client, err := daemon.Dial(ctx, *sessionID)
	cancel()
	if err != nil {
		debugLog.Printf("Coordinator unavailable: %v", err)
		client = nil
	} else {
		client.SetLogger(debugLog)
		notifier = client
	}

	newAgent := func(view *panelView) *agent.Agent {
		return agent.New(settingsStore, view, notifier,
			agent.WithFrameInterval(cfg.Timing.FrameInterval()),
			agent.WithPersistTimeout(cfg.Timing.PersistTimeout()),
			agent.WithLogger(debugLog),
		)
	}

	var current atomic.Pointer[agent.Agent]
	detach := func(closed bool) {
		if client == nil {
			return
		}
		if err := client.Unsubscribe(closed); err != nil {
			debugLog.Printf("Unsubscribe failed: %v", err)
		}
	}
	model := newPageModel(tabID, &current, newAgent, detach)

	if client != nil {
		client.OnRequest(func(ctx context.Context, msg daemon.Message) (any, error) {
			return current.Load().HandleRequest(ctx, msg)
		})
		if err := client.Subscribe(tabID); err != nil {
			debugLog.Printf("Subscribe failed: %v", err)
		}
		defer client.Close()
	}

	debugLog.Printf("Starting page %s for session %s", tabID, *sessionID)
	lipgloss.SetColorProfile(termenv.ColorProfile())
	usePalette(theme.New(cfg.UI.Accent, theme.Detect(theme.Mode(cfg.UI.Theme))))

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithReportFocus())

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigCh
		p.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
