package session

import (
	"github.com/go-go-golems/cmr-widget/pkg/protocol"
)

// State is the visible lifecycle state of a session.
type State string

const (
	StateNoSession State = "no_session"
	StateStarting  State = "starting"
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateClosed    State = "closed"
)

func (s State) String() string { return string(s) }

// Identified reports whether a session in this state holds a server chat id.
func (s State) Identified() bool {
	return s == StateQueued || s == StateActive
}

// Message is one entry of the conversation log.
type Message struct {
	Text       string              `json:"text"`
	SenderType protocol.SenderType `json:"sender_type"`
	SenderName string              `json:"sender_name,omitempty"`
}

func messageFromWire(m protocol.Message) Message {
	return Message{Text: m.Text, SenderType: m.SenderType, SenderName: m.SenderName}
}

// Session is the controller's view of the current conversation.
type Session struct {
	ProjectID     string
	SessionID     string
	CustomerName  string
	CustomerEmail string
	AgentName     string
	State         State
	Messages      []Message
}

func (s Session) clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

// Snapshot is a point-in-time copy of the controller state, safe to use from any goroutine.
type Snapshot struct {
	Session
	Connected    bool
	StartEnabled bool
	SendEnabled  bool
	// Confirmed is false while a rejoined session is shown optimistically and the server has
	// not answered with history yet.
	Confirmed bool
}

// Form carries the fields of the start chat form.
type Form struct {
	Name    string
	Email   string
	Message string
}
