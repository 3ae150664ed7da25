package agent

import (
	"log"
	"sync"

	"github.com/b/webapp-overlay/pkg/daemon"
)

const senderQueue = 64

type outMsg struct {
	t       daemon.MessageType
	payload any
	flushed chan struct{}
}

// sender delivers notifications on its own goroutine in the order they were
// queued, so a slow coordinator socket never stalls the agent. A full queue
// drops the message.
type sender struct {
	n   Notifier
	log *log.Logger

	mu     sync.Mutex
	closed bool
	q      chan outMsg
	done   chan struct{}
}

func newSender(n Notifier, logger *log.Logger) *sender {
	s := &sender{
		n:    n,
		log:  logger,
		q:    make(chan outMsg, senderQueue),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sender) send(t daemon.MessageType, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.q <- outMsg{t: t, payload: payload}:
	default:
		s.log.Printf("notify %s dropped: queue full", t)
	}
}

func (s *sender) run() {
	defer close(s.done)
	for m := range s.q {
		if m.flushed != nil {
			close(m.flushed)
			continue
		}
		s.n.Notify(m.t, m.payload)
	}
}

// flush waits until everything queued so far has been delivered.
func (s *sender) flush() {
	ch := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.q <- outMsg{flushed: ch}
	s.mu.Unlock()
	<-ch
}

// close delivers what is queued and stops the goroutine.
func (s *sender) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.q)
	}
	s.mu.Unlock()
	<-s.done
}
