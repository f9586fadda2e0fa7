package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrUnknownEvent is returned by Decode for event names outside the contract.
var ErrUnknownEvent = errors.New("unknown event")

// Inbound is the tagged union of everything the session controller reacts to: server events
// plus the transport pseudo events.
type Inbound interface {
	inbound()
	EventName() string
}

type ChatCreated struct {
	ChatID ChatID `json:"chat_id"`
	Status string `json:"status"`
}

// Queued reports whether the server put the chat in the waiting queue.
func (c ChatCreated) Queued() bool { return c.Status == StatusQueued }

type ChatHistory struct {
	History []Message `json:"history"`
}

type ChatError struct {
	Msg string `json:"msg"`
}

type NewMessage struct {
	Message
}

type AgentAssigned struct {
	AgentName string `json:"agent_name"`
}

type ChatClosed struct {
	Msg string `json:"msg,omitempty"`
}

// Connected is raised by the transport once a connection (or reconnection) is established.
type Connected struct {
	ConnID string `json:"conn_id"`
}

// ConnectError is raised by the transport for every failed connection attempt.
type ConnectError struct {
	Err     string `json:"error"`
	Attempt int    `json:"attempt"`
}

// Disconnected is raised by the transport when an established connection drops.
type Disconnected struct {
	Reason string `json:"reason"`
}

func (ChatCreated) inbound()   {}
func (ChatHistory) inbound()   {}
func (ChatError) inbound()     {}
func (NewMessage) inbound()    {}
func (AgentAssigned) inbound() {}
func (ChatClosed) inbound()    {}
func (Connected) inbound()     {}
func (ConnectError) inbound()  {}
func (Disconnected) inbound()  {}

func (ChatCreated) EventName() string   { return EventChatCreated }
func (ChatHistory) EventName() string   { return EventChatHistory }
func (ChatError) EventName() string     { return EventChatError }
func (NewMessage) EventName() string    { return EventNewMessage }
func (AgentAssigned) EventName() string { return EventAgentAssigned }
func (ChatClosed) EventName() string    { return EventChatClosed }
func (Connected) EventName() string     { return EventConnect }
func (ConnectError) EventName() string  { return EventConnectError }
func (Disconnected) EventName() string  { return EventDisconnect }

// Decode turns a named server frame into its typed form. An empty or null payload decodes
// into the zero value, which the backend uses for chat_closed without a message.
func Decode(event string, payload json.RawMessage) (Inbound, error) {
	var (
		v   Inbound
		err error
	)
	switch event {
	case EventChatCreated:
		var c ChatCreated
		err = decodeInto(event, payload, &c)
		v = c
	case EventChatHistory:
		var h ChatHistory
		err = decodeInto(event, payload, &h)
		if h.History == nil {
			h.History = []Message{}
		}
		v = h
	case EventChatError:
		var e ChatError
		err = decodeInto(event, payload, &e)
		v = e
	case EventNewMessage:
		var m NewMessage
		err = decodeInto(event, payload, &m.Message)
		v = m
	case EventAgentAssigned:
		var a AgentAssigned
		err = decodeInto(event, payload, &a)
		v = a
	case EventChatClosed:
		var c ChatClosed
		err = decodeInto(event, payload, &c)
		v = c
	case EventConnect:
		var c Connected
		err = decodeInto(event, payload, &c)
		v = c
	case EventConnectError:
		var c ConnectError
		err = decodeInto(event, payload, &c)
		v = c
	case EventDisconnect:
		var d Disconnected
		err = decodeInto(event, payload, &d)
		v = d
	default:
		return nil, errors.Wrap(ErrUnknownEvent, event)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeInto(event string, payload json.RawMessage, out any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrapf(err, "decode %s payload", event)
	}
	return nil
}
