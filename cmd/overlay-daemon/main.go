// Command overlay-daemon is the per-session coordinator. It owns the pinned
// mode cache and relays action clicks to page agents over the session socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/b/webapp-overlay/pkg/config"
	"github.com/b/webapp-overlay/pkg/daemon"
	"github.com/b/webapp-overlay/pkg/paths"
	"github.com/b/webapp-overlay/pkg/store"
	"github.com/b/webapp-overlay/pkg/tmux"
)

var errInternal = errors.New("internal error")

func main() {
	sessionID := flag.String("session", "", "session ID (default: tmux session, else config)")
	configPath := flag.String("config", "", "config file (default: <config dir>/config.yaml)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
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

	openLogs(*sessionID, *debugMode)
	defer recoverPanic("main")
	debugLog.Printf("Starting daemon for session %s", *sessionID)

	settingsStore, closeStore, err := store.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open settings store: %v", err)
	}
	defer closeStore()
	if *debugMode {
		settingsStore.SetLogger(debugLog)
	}

	var coordinator *Coordinator
	server := daemon.NewServer(*sessionID, func(ctx context.Context, msg daemon.Message) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				reportPanic("request "+string(msg.Type), r)
				logEvent("PANIC_REQUEST type=%s tab=%s err=%v", msg.Type, msg.TabID, r)
				err = errInternal
			}
		}()
		return coordinator.HandleRequest(ctx, msg)
	})
	if *debugMode {
		server.SetLogger(debugLog)
	}

	coordinator = NewCoordinator(
		settingsStore,
		server,
		newOptionsLauncher(cfg.Options, *sessionID).Open,
		cfg.Timing.RequestTimeout(),
		cfg.Timing.PersistTimeout(),
	)
	server.OnAgentDetached = func(tabID string, closed bool) {
		logEvent("AGENT_DETACH tab=%s closed=%v", tabID, closed)
		if closed {
			coordinator.OnTabRemoved(tabID)
		}
	}

	startup(coordinator, cfg.Timing)

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	socketPath := server.GetSocketPath()
	debugLog.Printf("Listening on %s", socketPath)
	logEvent("DAEMON_START session=%s pid=%d pinned=%v", *sessionID, os.Getpid(), coordinator.PinnedMode())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if tmux.InSession() {
		every(ctx, "window-reaper", reapInterval, func() bool {
			reapClosedWindows(coordinator, tmux.ListWindows)
			return true
		})
	}
	every(ctx, "socket-monitor", socketInterval, func() bool {
		if !socketGone(socketPath) {
			return true
		}
		logEvent("SHUTDOWN_REASON session=%s reason=socket_gone pid=%d", *sessionID, os.Getpid())
		stop()
		return false
	})

	<-ctx.Done()
	debugLog.Printf("Shutting down daemon")
	logEvent("DAEMON_STOP session=%s pid=%d", *sessionID, os.Getpid())
	server.Stop()
	coordinator.Close()
}

// startup loads the pinned mode cache and runs the install or update hook
// when the recorded version differs from this binary's.
func startup(c *Coordinator, timing config.Timing) {
	ctx, cancel := context.WithTimeout(context.Background(), timing.RequestTimeout())
	defer cancel()

	c.Start(ctx)
	reason, err := detectInstallReason(paths.StatePath("installed-version"), version)
	if err != nil {
		debugLog.Printf("Lifecycle check failed: %v", err)
		return
	}
	if reason == "" {
		return
	}
	logEvent("LIFECYCLE reason=%s version=%s", reason, version)
	if err := c.OnInstalled(ctx, reason); err != nil {
		logEvent("LIFECYCLE_FAILED reason=%s err=%v", reason, err)
	}
}
