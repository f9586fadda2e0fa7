package fakeserver

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/go-go-golems/cmr-widget/pkg/protocol"
)

// Chat is the backend's view of one conversation.
type Chat struct {
	ID        int
	ProjectID string
	Customer  string
	Email     string
	Status    string // queued|assigned|closed
	Agent     string
	Messages  []protocol.Message
}

// Backend emulates the support desk: it validates projects, assigns the configured agent
// (or queues the chat), keeps history and closes chats.
type Backend struct {
	server *Server

	mu       sync.Mutex
	projects map[string]bool
	agent    string
	nextID   int
	chats    map[string]*Chat
	// Silent drops create_chat without answering, simulating a stalled backend.
	silent bool
}

// NewBackend installs support desk handlers on s. Only listed projects accept chats.
func NewBackend(s *Server, projects ...string) *Backend {
	b := &Backend{
		server:   s,
		projects: map[string]bool{},
		chats:    map[string]*Chat{},
	}
	for _, p := range projects {
		b.projects[p] = true
	}
	s.Handle(protocol.EventCreateChat, b.handleCreate)
	s.Handle(protocol.EventJoinChat, b.handleJoin)
	s.Handle(protocol.EventClientMessage, b.handleClientMessage)
	s.Handle(protocol.EventClientEndChat, b.handleEnd)
	return b
}

// SetOnlineAgent makes new chats get assigned to agent immediately; empty queues them.
func (b *Backend) SetOnlineAgent(agent string) {
	b.mu.Lock()
	b.agent = agent
	b.mu.Unlock()
}

// SetSilent makes the backend ignore create_chat requests.
func (b *Backend) SetSilent(silent bool) {
	b.mu.Lock()
	b.silent = silent
	b.mu.Unlock()
}

// Chat returns a copy of the chat with id.
func (b *Backend) Chat(id string) (Chat, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[id]
	if !ok {
		return Chat{}, false
	}
	cp := *c
	cp.Messages = append([]protocol.Message(nil), c.Messages...)
	return cp, true
}

func (b *Backend) ChatCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chats)
}

// Claim assigns a queued chat to agent and notifies its room.
func (b *Backend) Claim(id string, agent string) bool {
	b.mu.Lock()
	c, ok := b.chats[id]
	if !ok || c.Status != "queued" {
		b.mu.Unlock()
		return false
	}
	c.Status = "assigned"
	c.Agent = agent
	b.mu.Unlock()
	b.server.Broadcast(id, protocol.EventAgentAssigned, protocol.AgentAssigned{AgentName: agent})
	return true
}

// AgentSay posts an agent message to the chat room.
func (b *Backend) AgentSay(id string, text string) {
	b.mu.Lock()
	c, ok := b.chats[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	msg := protocol.Message{Text: text, SenderType: protocol.SenderAgent, SenderName: c.Agent}
	c.Messages = append(c.Messages, msg)
	b.mu.Unlock()
	b.server.Broadcast(id, protocol.EventNewMessage, msg)
}

// Close ends the chat from the agent side.
func (b *Backend) Close(id string, msg string) {
	b.mu.Lock()
	c, ok := b.chats[id]
	if ok {
		c.Status = "closed"
	}
	b.mu.Unlock()
	if ok {
		b.server.Broadcast(id, protocol.EventChatClosed, protocol.ChatClosed{Msg: msg})
	}
}

func (b *Backend) handleCreate(c *Client, data json.RawMessage) {
	var req protocol.CreateChat
	if err := json.Unmarshal(data, &req); err != nil {
		_ = c.Emit(protocol.EventChatError, protocol.ChatError{Msg: "Invalid request"})
		return
	}
	b.mu.Lock()
	if b.silent {
		b.mu.Unlock()
		return
	}
	if !b.projects[req.ProjectID] {
		b.mu.Unlock()
		_ = c.Emit(protocol.EventChatError, protocol.ChatError{Msg: "Project ID not found."})
		return
	}
	b.nextID++
	id := strconv.Itoa(b.nextID)
	chat := &Chat{
		ID:        b.nextID,
		ProjectID: req.ProjectID,
		Customer:  req.Name,
		Email:     req.Email,
		Status:    "queued",
	}
	if b.agent != "" {
		chat.Status = "assigned"
		chat.Agent = b.agent
	}
	first := protocol.Message{Text: req.Message, SenderType: protocol.SenderCustomer, SenderName: req.Name}
	chat.Messages = append(chat.Messages, first)
	b.chats[id] = chat
	status := chat.Status
	agent := chat.Agent
	b.mu.Unlock()

	c.Join(id)
	_ = c.Emit(protocol.EventChatCreated, map[string]any{"chat_id": chat.ID, "status": status})
	b.server.Broadcast(id, protocol.EventNewMessage, first)
	if agent != "" {
		b.server.Broadcast(id, protocol.EventAgentAssigned, protocol.AgentAssigned{AgentName: agent})
	}
}

func (b *Backend) handleJoin(c *Client, data json.RawMessage) {
	var req protocol.JoinChat
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID.IsZero() {
		return
	}
	id := req.ChatID.String()
	b.mu.Lock()
	chat, ok := b.chats[id]
	var history []protocol.Message
	closed := false
	if ok {
		closed = chat.Status == "closed"
		history = append([]protocol.Message{}, chat.Messages...)
	}
	b.mu.Unlock()

	if closed {
		_ = c.Emit(protocol.EventChatClosed, protocol.ChatClosed{Msg: "This session has expired."})
		return
	}
	c.Join(id)
	if ok {
		_ = c.Emit(protocol.EventChatHistory, protocol.ChatHistory{History: history})
	}
}

func (b *Backend) handleClientMessage(_ *Client, data json.RawMessage) {
	var req protocol.ClientMessage
	if err := json.Unmarshal(data, &req); err != nil || req.Text == "" {
		return
	}
	id := req.ChatID.String()
	msg := protocol.Message{Text: req.Text, SenderType: protocol.SenderCustomer, SenderName: req.SenderName}
	b.mu.Lock()
	if chat, ok := b.chats[id]; ok {
		chat.Messages = append(chat.Messages, msg)
	}
	b.mu.Unlock()
	b.server.Broadcast(id, protocol.EventNewMessage, msg)
}

func (b *Backend) handleEnd(_ *Client, data json.RawMessage) {
	var req protocol.ClientEndChat
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	id := req.ChatID.String()
	b.mu.Lock()
	chat, ok := b.chats[id]
	notify := false
	if ok && chat.Status != "closed" {
		notify = chat.Agent != ""
		chat.Status = "closed"
	}
	b.mu.Unlock()
	if notify {
		b.server.Broadcast(id, protocol.EventChatClosed, protocol.ChatClosed{Msg: "User ended the session."})
	}
}
