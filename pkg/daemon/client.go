package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/b/webapp-overlay/pkg/perf"
)

const (
	dialAttempts = 10
	dialBackoff  = 100 * time.Millisecond
)

// Client is a connection to the coordinator, used by page agents and by host
// triggers (action clicks, tab removal, the options editor).
type Client struct {
	p   *peer
	log *log.Logger

	mu      sync.Mutex
	tabID   string
	handler RequestHandler
	raw     func(Message)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Dial connects to the daemon of a session, retrying while it starts up.
func Dial(ctx context.Context, sessionID string) (*Client, error) {
	return DialSocket(ctx, SocketPath(sessionID))
}

// DialSocket connects to the daemon socket at path.
func DialSocket(ctx context.Context, path string) (*Client, error) {
	var conn net.Conn
	var err error
	var d net.Dialer
	for i := 0; i < dialAttempts; i++ {
		conn, err = d.DialContext(ctx, "unix", path)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		p:      newPeer(conn),
		log:    log.New(io.Discard, "", 0),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

// SetLogger routes client diagnostics to l.
func (c *Client) SetLogger(l *log.Logger) {
	if l != nil {
		c.log = l
	}
}

// OnRequest installs the handler for requests the daemon sends to this
// client (TOGGLE_OVERLAY for page agents). Requests arriving without a
// handler are acknowledged with success.
func (c *Client) OnRequest(h RequestHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnMessage switches the client to relay mode: every incoming message,
// responses included, goes to fn untouched.
func (c *Client) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.raw = fn
	c.mu.Unlock()
}

// Subscribe registers this connection as the page agent of tabID.
func (c *Client) Subscribe(tabID string) error {
	c.mu.Lock()
	c.tabID = tabID
	c.mu.Unlock()
	return c.p.send(Message{Type: MsgSubscribe, TabID: tabID})
}

// Unsubscribe tells the daemon the page is going away. closed is true when
// the tab itself is closing rather than navigating.
func (c *Client) Unsubscribe(closed bool) error {
	msg, err := NewMessage(MsgUnsubscribe, c.TabID(), UnsubscribePayload{Closed: closed})
	if err != nil {
		return err
	}
	return c.p.send(msg)
}

// TabID returns the subscribed tab, if any.
func (c *Client) TabID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tabID
}

// Request sends a request and waits for its response.
func (c *Client) Request(ctx context.Context, t MessageType, tabID string, payload any) (Message, error) {
	msg, err := NewMessage(t, tabID, payload)
	if err != nil {
		return Message{}, err
	}
	span := perf.Start("request " + string(t))
	resp, err := c.p.request(ctx, msg)
	span.End(err)
	return resp, err
}

// Notify sends a one-way request: it carries no id, so the daemon runs it
// without replying. Failures are logged; the caller's state is never rolled back.
func (c *Client) Notify(t MessageType, payload any) {
	msg, err := NewMessage(t, c.TabID(), payload)
	if err != nil {
		c.log.Printf("notify %s: %v", t, err)
		return
	}
	if err := c.p.send(msg); err != nil {
		c.log.Printf("notify %s: %v", t, err)
	}
}

// Send writes msg as-is. Relays use it to forward frames verbatim.
func (c *Client) Send(msg Message) error {
	return c.p.send(msg)
}

// Ping checks the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.p.request(ctx, Message{Type: MsgPing})
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close drops the connection.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.p.close()
	})
	<-c.done
	return nil
}

func (c *Client) receiveLoop() {
	defer close(c.done)

	queue := startRequestQueue(c.ctx, c.p, func(ctx context.Context, msg Message) (any, error) {
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h == nil {
			return nil, nil
		}
		return h(ctx, msg)
	})

	err := readMessages(c.p.conn, func(msg Message) {
		c.mu.Lock()
		raw := c.raw
		c.mu.Unlock()
		if raw != nil {
			raw(msg)
			return
		}

		switch msg.Type {
		case MsgResponse, MsgPong:
			c.p.resolve(msg)
		case MsgPing:
			c.p.send(Message{Type: MsgPong, ID: msg.ID})
		default:
			if msg.IsRequest() {
				queue.push(msg)
			}
		}
	})
	if err != nil {
		c.log.Printf("daemon connection: %v", err)
	}

	c.cancel()
	c.p.close()
	queue.stop()
}
