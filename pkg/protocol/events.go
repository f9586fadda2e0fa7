package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Client to server event names.
const (
	EventCreateChat    = "create_chat"
	EventJoinChat      = "join_chat"
	EventClientMessage = "client_message"
	EventClientEndChat = "client_end_chat"
)

// Server to client event names.
const (
	EventChatCreated   = "chat_created"
	EventChatHistory   = "chat_history"
	EventChatError     = "chat_error"
	EventNewMessage    = "new_message"
	EventAgentAssigned = "agent_assigned"
	EventChatClosed    = "chat_closed"
)

// Transport pseudo events. They never travel on the wire; the transport adapter raises them
// through the same handler registry as server events.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// ServerEvents lists the server events the session controller subscribes to.
var ServerEvents = []string{
	EventChatCreated,
	EventChatHistory,
	EventChatError,
	EventNewMessage,
	EventAgentAssigned,
	EventChatClosed,
}

// ChatID is the server-assigned conversation identifier. The backend issues integer row ids
// while persisted identifiers are strings, so both JSON forms are accepted.
type ChatID string

func (id ChatID) String() string { return string(id) }

func (id ChatID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id *ChatID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "decode chat_id")
		}
		*id = ChatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "decode chat_id")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return errors.Errorf("decode chat_id: %q is not an integer", n.String())
	}
	*id = ChatID(n.String())
	return nil
}

// SenderType tells who authored a chat message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
)

// Message is one entry of a conversation as sent by the server.
type Message struct {
	Text       string     `json:"message"`
	SenderType SenderType `json:"sender_type"`
	SenderName string     `json:"sender_name,omitempty"`
}

// Creation status values reported in chat_created. The backend reports "assigned" for an
// immediate agent assignment; "active" is accepted as a synonym.
const (
	StatusQueued   = "queued"
	StatusActive   = "active"
	StatusAssigned = "assigned"
)
