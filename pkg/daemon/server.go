package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// agentConn is a subscribed page agent.
type agentConn struct {
	tabID string
	peer  *peer
}

// Server is the coordinator's socket: it routes requests from page agents and
// host triggers to a handler, and lets the coordinator message agents by tab.
type Server struct {
	socketPath string
	pidPath    string
	listener   net.Listener
	agents     map[string]*agentConn
	agentsMu   sync.RWMutex
	conns      map[*peer]struct{}
	connsMu    sync.Mutex
	done       chan struct{}
	stopOnce   sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	log        *log.Logger

	handler RequestHandler

	// OnAgentDetached is called when a tab's agent unsubscribes or its
	// connection drops. closed is true only when the tab itself went away.
	OnAgentDetached func(tabID string, closed bool)
}

// NewServer creates a server for a session. handler answers every request;
// requests from a subscribed agent carry its tab id in msg.TabID.
func NewServer(sessionID string, handler RequestHandler) *Server {
	return NewServerAt(SocketPath(sessionID), PidPath(sessionID), handler)
}

// NewServerAt is NewServer with explicit paths.
func NewServerAt(socketPath, pidPath string, handler RequestHandler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		pidPath:    pidPath,
		agents:     make(map[string]*agentConn),
		conns:      make(map[*peer]struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		log:        log.New(io.Discard, "", 0),
		handler:    handler,
	}
}

// SetLogger routes server diagnostics to l.
func (s *Server) SetLogger(l *log.Logger) {
	if l != nil {
		s.log = l
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	if err := s.checkAndClaimPid(); err != nil {
		return err
	}

	// Safe now that we own the pidfile
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		os.Remove(s.pidPath)
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// checkAndClaimPid checks for a running daemon and claims the pidfile
func (s *Server) checkAndClaimPid() error {
	if data, err := os.ReadFile(s.pidPath); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid > 0 && pid != os.Getpid() {
			if process, err := os.FindProcess(pid); err == nil {
				// On Unix, FindProcess always succeeds; signal 0 probes liveness
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("daemon already running with pid %d", pid)
				}
			}
		}
		os.Remove(s.pidPath)
	}

	if err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	return nil
}

// Stop shuts down the server and drops every connection
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.connsMu.Lock()
		for p := range s.conns {
			p.close()
		}
		s.connsMu.Unlock()
		s.wg.Wait()
		os.Remove(s.socketPath)
		os.Remove(s.pidPath)
	})
}

// AgentCount returns the number of subscribed page agents
func (s *Server) AgentCount() int {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	return len(s.agents)
}

// HasAgent reports whether tabID currently has a subscribed agent.
func (s *Server) HasAgent(tabID string) bool {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	_, ok := s.agents[tabID]
	return ok
}

// TabIDs returns the tabs with a subscribed agent
func (s *Server) TabIDs() []string {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// GetSocketPath returns the socket path
func (s *Server) GetSocketPath() string {
	return s.socketPath
}

// Request sends a request to the agent of tabID and waits for its response.
// It fails with ErrNoReceiver when no agent is subscribed for the tab.
func (s *Server) Request(ctx context.Context, tabID string, t MessageType, payload any) (Message, error) {
	s.agentsMu.RLock()
	agent, ok := s.agents[tabID]
	s.agentsMu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("tab %s: %w", tabID, ErrNoReceiver)
	}

	msg, err := NewMessage(t, tabID, payload)
	if err != nil {
		return Message{}, err
	}
	return agent.peer.request(ctx, msg)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn processes messages from one connection
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	p := newPeer(conn)
	s.connsMu.Lock()
	s.conns[p] = struct{}{}
	s.connsMu.Unlock()

	var tabID string
	closedTab := false

	queue := startRequestQueue(s.ctx, p, func(ctx context.Context, msg Message) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Printf("PANIC handling %s for tab %s: %v", msg.Type, msg.TabID, r)
				err = fmt.Errorf("internal error")
			}
		}()
		if s.handler == nil {
			return nil, nil
		}
		return s.handler(ctx, msg)
	})

	readMessages(conn, func(msg Message) {
		switch msg.Type {
		case MsgSubscribe:
			if msg.TabID == "" {
				return
			}
			tabID = msg.TabID
			s.agentsMu.Lock()
			if old, ok := s.agents[tabID]; ok && old.peer != p {
				// Page reloaded: the new agent replaces the stale connection
				s.log.Printf("Tab %s re-subscribed, replacing previous agent", tabID)
			}
			s.agents[tabID] = &agentConn{tabID: tabID, peer: p}
			s.agentsMu.Unlock()
			s.log.Printf("Agent subscribed for tab %s", tabID)

		case MsgUnsubscribe:
			var up UnsubscribePayload
			msg.Decode(&up)
			closedTab = up.Closed
			p.close()

		case MsgResponse:
			p.resolve(msg)

		case MsgPing:
			p.send(Message{Type: MsgPong, ID: msg.ID})

		case MsgPong:

		default:
			// The subscription is the sender's identity; explicit tab ids
			// only count on unsubscribed connections (host triggers).
			if tabID != "" {
				msg.TabID = tabID
			}
			queue.push(msg)
		}
	})

	queue.stop()
	p.close()

	s.connsMu.Lock()
	delete(s.conns, p)
	s.connsMu.Unlock()

	if tabID == "" {
		return
	}
	s.agentsMu.Lock()
	current, ok := s.agents[tabID]
	mine := ok && current.peer == p
	if mine {
		delete(s.agents, tabID)
	}
	s.agentsMu.Unlock()

	// A replaced connection going away says nothing about the tab
	if !mine && !closedTab {
		return
	}
	s.log.Printf("Agent for tab %s detached (closed=%v)", tabID, closedTab)
	if s.OnAgentDetached != nil {
		s.OnAgentDetached(tabID, closedTab)
	}
}
