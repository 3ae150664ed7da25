package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/b/webapp-overlay/pkg/daemon"
)

type fakeRequester struct {
	pinned bool
	err    error
	sent   []string
}

func (f *fakeRequester) Request(ctx context.Context, t daemon.MessageType, tabID string, payload any) (daemon.Message, error) {
	f.sent = append(f.sent, string(t)+"@"+tabID)
	if f.err != nil {
		return daemon.Message{}, f.err
	}
	if t == daemon.MsgGetPinnedMode {
		return daemon.NewMessage(daemon.MsgResponse, "", daemon.PinnedPayload{Pinned: f.pinned})
	}
	return daemon.NewMessage(daemon.MsgResponse, "", daemon.AckPayload{Success: true})
}

func currentWindow() (string, error) { return "@7", nil }

func noWindow() (string, error) { return "", errors.New("not in tmux") }

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		tab     string
		current func() (string, error)
		pinned  bool
		want    string
		out     string
		wantErr bool
	}{
		{name: "click current window", action: "click", current: currentWindow, want: "ACTION_CLICKED@@7"},
		{name: "click explicit tab", action: "click", tab: "42", current: noWindow, want: "ACTION_CLICKED@42"},
		{name: "click outside tmux", action: "click", current: noWindow, wantErr: true},
		{name: "remove", action: "remove", tab: "@3", current: noWindow, want: "TAB_REMOVED@@3", out: "Removed tab: @3\n"},
		{name: "pinned", action: "pinned", current: noWindow, pinned: true, want: "GET_PINNED_MODE@", out: "pinned\n"},
		{name: "floating", action: "pinned", current: noWindow, want: "GET_PINNED_MODE@", out: "floating\n"},
		{name: "options", action: "options", current: noWindow, want: "OPEN_OPTIONS@"},
		{name: "unknown", action: "explode", current: noWindow, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRequester{pinned: tt.pinned}
			var out bytes.Buffer
			err := run(context.Background(), f, tt.action, tt.tab, tt.current, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(f.sent) != 1 || f.sent[0] != tt.want {
				t.Errorf("sent = %q, want [%q]", f.sent, tt.want)
			}
			if out.String() != tt.out {
				t.Errorf("output = %q, want %q", out.String(), tt.out)
			}
		})
	}
}

func TestRunSurfacesDaemonErrors(t *testing.T) {
	f := &fakeRequester{err: &daemon.RemoteError{Type: daemon.MsgOpenOptions, Message: "no terminal"}}
	err := run(context.Background(), f, "options", "", noWindow, &bytes.Buffer{})
	var remote *daemon.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("run() = %v, want RemoteError", err)
	}
}
