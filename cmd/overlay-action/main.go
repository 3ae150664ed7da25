package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/b/webapp-overlay/pkg/config"
	"github.com/b/webapp-overlay/pkg/daemon"
	"github.com/b/webapp-overlay/pkg/tmux"
)

const usage = "Usage: overlay-action [-session id] [click|remove|pinned|options] [tab-id]"

// requester is the part of daemon.Client the actions use.
type requester interface {
	Request(ctx context.Context, t daemon.MessageType, tabID string, payload any) (daemon.Message, error)
}

var errUsage = errors.New(usage)

// run performs one host trigger. Tab-scoped actions default to the current
// tmux window.
func run(ctx context.Context, c requester, action, tabID string, currentTab func() (string, error), out io.Writer) error {
	needsTab := action == "click" || action == "remove"
	if needsTab && tabID == "" {
		var err error
		if tabID, err = currentTab(); err != nil || tabID == "" {
			return fmt.Errorf("no tab id given and no current tmux window: %v", err)
		}
	}

	switch action {
	case "click":
		if _, err := c.Request(ctx, daemon.MsgActionClicked, tabID, nil); err != nil {
			return err
		}
	case "remove":
		if _, err := c.Request(ctx, daemon.MsgTabRemoved, tabID, nil); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed tab: %s\n", tabID)
	case "pinned":
		resp, err := c.Request(ctx, daemon.MsgGetPinnedMode, "", nil)
		if err != nil {
			return err
		}
		var p daemon.PinnedPayload
		if err := resp.Decode(&p); err != nil {
			return err
		}
		if p.Pinned {
			fmt.Fprintln(out, "pinned")
		} else {
			fmt.Fprintln(out, "floating")
		}
	case "options":
		if _, err := c.Request(ctx, daemon.MsgOpenOptions, "", nil); err != nil {
			return err
		}
	default:
		return errUsage
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "config file (default: <config dir>/config.yaml)")
	sessionID := flag.String("session", "", "session ID (default: tmux session, else config)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	action := "click"
	if flag.NArg() > 0 {
		action = flag.Arg(0)
	}
	tabID := flag.Arg(1)

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

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timing.RequestTimeout()+time.Second)
	defer cancel()

	client, err := daemon.Dial(ctx, *sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := run(ctx, client, action, tabID, tmux.WindowID, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		client.Close()
		os.Exit(1)
	}
}
