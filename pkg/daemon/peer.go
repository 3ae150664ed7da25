package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const writeTimeout = time.Second

// RequestHandler answers a request received over a connection. The returned
// value becomes the response payload; an error becomes {"success":false,"error":...}.
type RequestHandler func(ctx context.Context, msg Message) (any, error)

// peer is one end of a connection: serialized writes plus the table of
// requests waiting for a response.
type peer struct {
	conn net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Message

	closed    chan struct{}
	closeOnce sync.Once
}

func newPeer(conn net.Conn) *peer {
	return &peer{
		conn:    conn,
		pending: make(map[string]chan Message),
		closed:  make(chan struct{}),
	}
}

// send writes one message line.
func (p *peer) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = p.conn.Write(append(data, '\n'))
	return err
}

// request sends msg with a fresh id and waits for the matching response.
func (p *peer) request(ctx context.Context, msg Message) (Message, error) {
	msg.ID = uuid.NewString()
	ch := make(chan Message, 1)

	p.pendingMu.Lock()
	p.pending[msg.ID] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, msg.ID)
		p.pendingMu.Unlock()
	}()

	if err := p.send(msg); err != nil {
		return Message{}, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case resp := <-ch:
		if err := responseError(msg.Type, resp); err != nil {
			return resp, err
		}
		return resp, nil
	case <-p.closed:
		return Message{}, fmt.Errorf("%s: %w", msg.Type, ErrClosed)
	case <-ctx.Done():
		return Message{}, fmt.Errorf("waiting for %s response: %w", msg.Type, ctx.Err())
	}
}

// resolve hands a response to its waiting request. Responses nobody waits for
// (fire-and-forget sends) are dropped.
func (p *peer) resolve(msg Message) bool {
	p.pendingMu.Lock()
	ch, ok := p.pending[msg.ID]
	p.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}

// respond replies to req with the handler outcome.
func (p *peer) respond(req Message, result any, herr error) error {
	if req.ID == "" {
		return nil
	}
	if herr != nil {
		result = AckPayload{Success: false, Error: herr.Error()}
	} else if result == nil {
		result = AckPayload{Success: true}
	}
	resp, err := NewMessage(MsgResponse, req.TabID, result)
	if err != nil {
		return err
	}
	resp.ID = req.ID
	return p.send(resp)
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}

// readMessages decodes lines from conn until it fails or closes.
func readMessages(conn net.Conn, fn func(Message)) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		fn(msg)
	}
	return scanner.Err()
}

// requestQueue runs requests from one connection strictly in arrival order on
// a single goroutine, so the reader stays free to deliver responses.
type requestQueue struct {
	ch   chan Message
	done chan struct{}
}

func startRequestQueue(ctx context.Context, p *peer, handle RequestHandler) *requestQueue {
	q := &requestQueue{
		ch:   make(chan Message, 64),
		done: make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		for msg := range q.ch {
			result, err := handle(ctx, msg)
			p.respond(msg, result, err)
		}
	}()
	return q
}

func (q *requestQueue) push(msg Message) {
	q.ch <- msg
}

func (q *requestQueue) stop() {
	close(q.ch)
	<-q.done
}
