package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/b/webapp-overlay/pkg/daemon"
)

// closeReasonTabClosed is the close-frame text a page script sends when its
// tab is closing rather than navigating.
const closeReasonTabClosed = "tab closed"

const dialTimeout = 2 * time.Second

type ServerConfig struct {
	Host       string
	Port       int
	SocketPath string
	Token      string
	AuthUser   string
	AuthPass   string
}

// Server relays browser page scripts to the daemon: each websocket becomes
// one subscribed page agent connection.
type Server struct {
	cfg        ServerConfig
	clients    map[*pageConn]struct{}
	clientSeq  uint64
	mu         sync.RWMutex
	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader
	log        *log.Logger
	stopOnce   sync.Once
}

// pageConn is one browser tab's websocket and its daemon connection.
type pageConn struct {
	id     string
	tabID  string
	conn   *websocket.Conn
	daemon *daemon.Client
	mu     sync.Mutex
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:     cfg,
		clients: make(map[*pageConn]struct{}),
		log:     log.New(io.Discard, "", 0),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetLogger routes bridge diagnostics to l.
func (s *Server) SetLogger(l *log.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /connect", loopbackOnly(s.handleConnect))
	mux.HandleFunc("GET /ws", loopbackOnly(s.handleWebSocket))
	return mux
}

func (s *Server) Start() error {
	if !isLoopbackHost(s.cfg.Host) {
		return fmt.Errorf("refusing to listen on non-loopback host %q", s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()
	return nil
}

// Addr is the address the bridge listens on, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.httpServer != nil {
			_ = s.httpServer.Close()
		}
		s.mu.RLock()
		clients := make([]*pageConn, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.RUnlock()
		for _, c := range clients {
			c.daemon.Close()
			_ = c.conn.Close()
		}
	})
}

// ClientCount returns the number of relayed pages.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tabID := r.URL.Query().Get("tab")
	if tabID == "" {
		http.Error(w, "missing tab", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	dc, err := daemon.DialSocket(ctx, s.cfg.SocketPath)
	cancel()
	if err != nil {
		s.log.Printf("daemon unavailable for tab %s: %v", tabID, err)
		http.Error(w, "daemon unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		dc.Close()
		return
	}

	client := &pageConn{
		id:     strconv.FormatUint(atomic.AddUint64(&s.clientSeq, 1), 10),
		tabID:  tabID,
		conn:   conn,
		daemon: dc,
	}
	dc.OnMessage(client.sendMessage)
	if err := dc.Subscribe(tabID); err != nil {
		s.log.Printf("subscribe tab %s: %v", tabID, err)
		dc.Close()
		_ = conn.Close()
		return
	}
	s.addClient(client)
	s.log.Printf("page %s attached as tab %s", client.id, tabID)

	// The daemon going away ends the page session too
	go func() {
		<-dc.Done()
		client.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon stopped"),
			time.Now().Add(time.Second))
		client.mu.Unlock()
		_ = conn.Close()
	}()

	go s.readLoop(client)
}

func (s *Server) readLoop(client *pageConn) {
	closed := false
	defer func() {
		if closed {
			if err := client.daemon.Unsubscribe(true); err != nil {
				s.log.Printf("unsubscribe tab %s: %v", client.tabID, err)
			}
		}
		client.daemon.Close()
		s.removeClient(client)
		_ = client.conn.Close()
		s.log.Printf("page %s detached (tab closed=%v)", client.id, closed)
	}()

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			closed = errors.As(err, &ce) && ce.Text == closeReasonTabClosed
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.handleTextMessage(client, data); err != nil {
			s.log.Printf("ws text message error: %v", err)
		}
	}
}

// handleTextMessage forwards one page frame to the daemon. The bridge owns
// the subscription, so pages cannot re-subscribe as another tab.
func (s *Server) handleTextMessage(client *pageConn, data []byte) error {
	var msg daemon.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	switch msg.Type {
	case "":
		return errors.New("message without type")
	case daemon.MsgSubscribe, daemon.MsgUnsubscribe:
		return nil
	}
	msg.TabID = client.tabID
	return client.daemon.Send(msg)
}

func (c *pageConn) sendMessage(msg daemon.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) addClient(client *pageConn) {
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(client *pageConn) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	// Extension content scripts connect with their extension origin
	switch originURL.Scheme {
	case "chrome-extension", "moz-extension":
		return true
	}
	originHost := originURL.Hostname()
	if originHost == "" {
		return false
	}
	requestHost, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		requestHost = r.Host
	}
	if originHost == requestHost {
		return true
	}
	return isLoopbackHost(originHost)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
