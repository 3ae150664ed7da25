package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b/webapp-overlay/pkg/daemon"
)

const testToken = "test-token"

type detachLog struct {
	mu   sync.Mutex
	tabs map[string]bool
}

func (d *detachLog) record(tabID string, closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tabs[tabID] = closed
}

func (d *detachLog) get(tabID string) (closed, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	closed, ok = d.tabs[tabID]
	return
}

func startBridge(t *testing.T, handler daemon.RequestHandler) (*Server, *daemon.Server, *detachLog) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ob")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	detached := &detachLog{tabs: map[string]bool{}}
	d := daemon.NewServerAt(filepath.Join(dir, "d.sock"), filepath.Join(dir, "d.pid"), handler)
	d.OnAgentDetached = detached.record
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)

	b := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, SocketPath: d.GetSocketPath(), Token: testToken})
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)
	return b, d, detached
}

func dialPage(t *testing.T, b *Server, tab, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	q := url.Values{}
	q.Set("tab", tab)
	q.Set("token", token)
	u := "ws://" + b.Addr() + "/ws?" + q.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readMessage(t *testing.T, conn *websocket.Conn) daemon.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg daemon.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketRejectsBadRequests(t *testing.T) {
	b, _, _ := startBridge(t, nil)

	_, resp, err := dialPage(t, b, "tab-1", "wrong")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialPage(t, b, "", testToken)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPageRequestReachesDaemonAsItsTab(t *testing.T) {
	var mu sync.Mutex
	var sender string
	b, d, _ := startBridge(t, func(ctx context.Context, msg daemon.Message) (any, error) {
		mu.Lock()
		sender = msg.TabID
		mu.Unlock()
		return daemon.PinnedPayload{Pinned: true}, nil
	})

	conn, _, err := dialPage(t, b, "tab-1", testToken)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.HasAgent("tab-1") }, 2*time.Second, 5*time.Millisecond)

	// A page cannot speak for another tab
	req, err := daemon.NewMessage(daemon.MsgGetPinnedMode, "tab-2", nil)
	require.NoError(t, err)
	req.ID = "req-1"
	require.NoError(t, conn.WriteJSON(req))

	resp := readMessage(t, conn)
	assert.Equal(t, daemon.MsgResponse, resp.Type)
	assert.Equal(t, "req-1", resp.ID)
	var pinned daemon.PinnedPayload
	require.NoError(t, resp.Decode(&pinned))
	assert.True(t, pinned.Pinned)

	mu.Lock()
	assert.Equal(t, "tab-1", sender)
	mu.Unlock()
}

func TestDaemonRequestIsRelayedToPage(t *testing.T) {
	b, d, _ := startBridge(t, nil)
	conn, _, err := dialPage(t, b, "tab-1", testToken)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.HasAgent("tab-1") }, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), "tab-1", daemon.MsgToggleOverlay, nil)
		done <- err
	}()

	req := readMessage(t, conn)
	assert.Equal(t, daemon.MsgToggleOverlay, req.Type)
	require.NotEmpty(t, req.ID)

	payload, _ := json.Marshal(daemon.AckPayload{Success: true})
	require.NoError(t, conn.WriteJSON(daemon.Message{Type: daemon.MsgResponse, ID: req.ID, Payload: payload}))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon request never resolved")
	}
}

func TestCloseReasonMarksTabClosed(t *testing.T) {
	b, d, detached := startBridge(t, nil)

	for _, tc := range []struct {
		tab    string
		reason string
		closed bool
	}{
		{"navigating", "", false},
		{"closing", closeReasonTabClosed, true},
	} {
		conn, _, err := dialPage(t, b, tc.tab, testToken)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return d.HasAgent(tc.tab) }, 2*time.Second, 5*time.Millisecond)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, tc.reason)
		require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

		require.Eventually(t, func() bool {
			_, ok := detached.get(tc.tab)
			return ok
		}, 2*time.Second, 5*time.Millisecond)
		closed, _ := detached.get(tc.tab)
		assert.Equal(t, tc.closed, closed, tc.tab)
	}
	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPageCannotResubscribe(t *testing.T) {
	b, d, _ := startBridge(t, nil)
	conn, _, err := dialPage(t, b, "tab-1", testToken)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.HasAgent("tab-1") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(daemon.Message{Type: daemon.MsgSubscribe, TabID: "tab-9"}))
	require.NoError(t, conn.WriteJSON(daemon.Message{Type: daemon.MsgPing, ID: "p1"}))

	pong := readMessage(t, conn)
	assert.Equal(t, daemon.MsgPong, pong.Type)
	assert.False(t, d.HasAgent("tab-9"))
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(ServerConfig{})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://127.0.0.1:8787", true},
		{"http://localhost:3000", true},
		{"chrome-extension://abcdefghijklmnop", true},
		{"moz-extension://4b1d-uuid", true},
		{"https://evil.example.com", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8787/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := s.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestStartRefusesNonLoopbackHost(t *testing.T) {
	s := NewServer(ServerConfig{Host: "0.0.0.0", Port: 0})
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("Start on 0.0.0.0 should fail")
	}
}
