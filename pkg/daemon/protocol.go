package daemon

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/b/webapp-overlay/pkg/paths"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Transport
	MsgSubscribe   MessageType = "subscribe"   // Agent -> Daemon: this connection is the page agent for tab_id
	MsgUnsubscribe MessageType = "unsubscribe" // Agent -> Daemon: page unloading (payload: UnsubscribePayload)
	MsgResponse    MessageType = "response"    // either way: reply to the request with the same id
	MsgPing        MessageType = "ping"
	MsgPong        MessageType = "pong"

	// Overlay protocol
	MsgToggleOverlay      MessageType = "TOGGLE_OVERLAY"       // Coordinator -> Page Agent
	MsgOpenOptions        MessageType = "OPEN_OPTIONS"         // any -> Coordinator
	MsgUpdatePinnedMode   MessageType = "UPDATE_PINNED_MODE"   // Page Agent -> Coordinator
	MsgGetPinnedMode      MessageType = "GET_PINNED_MODE"      // any -> Coordinator
	MsgUpdateOverlayState MessageType = "UPDATE_OVERLAY_STATE" // Page Agent -> Coordinator

	// Host events
	MsgActionClicked MessageType = "ACTION_CLICKED" // action trigger -> Coordinator (tab_id)
	MsgTabRemoved    MessageType = "TAB_REMOVED"    // host -> Coordinator (tab_id)
)

// Message is the envelope for daemon<->agent communication, one JSON object
// per line. Requests carry an id; the reply is a MsgResponse with that id.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	TabID   string          `json:"tab_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckPayload is the generic reply. Error is set when the handler failed.
type AckPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PinnedPayload carries pinned mode (UPDATE_PINNED_MODE request, GET_PINNED_MODE reply).
type PinnedPayload struct {
	Pinned bool `json:"pinned"`
}

// OverlayStatePayload carries a tab's overlay visibility.
type OverlayStatePayload struct {
	Visible bool `json:"visible"`
}

// UnsubscribePayload distinguishes a closed tab from a navigation/reload.
type UnsubscribePayload struct {
	Closed bool `json:"closed"`
}

var (
	ErrNoReceiver = errors.New("no page agent listening")
	ErrClosed     = errors.New("connection closed")
)

// RemoteError is a failure reported by the other side in a response.
type RemoteError struct {
	Type    MessageType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}

// NewMessage builds a message, encoding payload when non-nil.
func NewMessage(t MessageType, tabID string, payload any) (Message, error) {
	msg := Message{Type: t, TabID: tabID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// IsRequest reports whether m expects a response.
func (m Message) IsRequest() bool {
	switch m.Type {
	case MsgSubscribe, MsgUnsubscribe, MsgResponse, MsgPing, MsgPong:
		return false
	}
	return true
}

// responseError extracts an error reported in a response payload.
func responseError(req MessageType, resp Message) error {
	var ack AckPayload
	if err := json.Unmarshal(resp.Payload, &ack); err != nil {
		return nil
	}
	if ack.Error != "" {
		return &RemoteError{Type: req, Message: ack.Error}
	}
	return nil
}

// SocketPath returns the daemon socket path for a session
func SocketPath(sessionID string) string {
	return paths.RuntimePath(sessionID, "daemon.sock")
}

// PidPath returns the pidfile path for a session
func PidPath(sessionID string) string {
	return paths.RuntimePath(sessionID, "daemon.pid")
}
