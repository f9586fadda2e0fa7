// Package fakeserver is an in-process websocket backend speaking the chat widget protocol.
// It is used by tests and local development; Backend layers the support desk semantics
// (queueing, agent assignment, history replay, closure) on top of the raw Server.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cmr-widget/pkg/transport"
)

// Received is one client event observed by the server.
type Received struct {
	Client *Client
	Event  string
	Data   json.RawMessage
}

type HandlerFunc func(c *Client, data json.RawMessage)

type Server struct {
	codec    transport.Codec
	upgrader websocket.Upgrader
	http     *httptest.Server

	mu       sync.Mutex
	clients  map[*Client]struct{}
	handlers map[string]HandlerFunc
	received []Received
	refuse   bool
	connects int
}

// Client is one connected widget.
type Client struct {
	ID     string
	server *Server
	conn   *websocket.Conn

	mu      sync.Mutex
	writeMu sync.Mutex
	rooms   map[string]struct{}
}

// New starts a server speaking codec. Close it when done.
func New(codec transport.Codec) *Server {
	if codec == nil {
		codec = transport.SocketIOCodec{}
	}
	s := &Server{
		codec:    codec,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  map[*Client]struct{}{},
		handlers: map[string]HandlerFunc{},
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

func (s *Server) Close() {
	s.DropAll()
	s.http.Close()
}

// Origin is the http origin, as a loader URL would carry it.
func (s *Server) Origin() string { return s.http.URL }

// LoaderURL returns a widget loader reference served by this server.
func (s *Server) LoaderURL(projectID string) string {
	return fmt.Sprintf("%s/static/chat-widget.js?project_id=%s", s.http.URL, projectID)
}

// Endpoint is the websocket endpoint for the server's codec.
func (s *Server) Endpoint() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + s.codec.Path()
}

func (s *Server) Handle(event string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[event] = fn
	s.mu.Unlock()
}

// SetRefuse makes new connection attempts fail at the HTTP level.
func (s *Server) SetRefuse(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

// Received returns a copy of every event received so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// ReceivedEvents returns the received events named event, in order.
func (s *Server) ReceivedEvents(event string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []json.RawMessage
	for _, r := range s.received {
		if r.Event == event {
			out = append(out, r.Data)
		}
	}
	return out
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Connects counts accepted connections over the server's lifetime.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// DropAll closes every client connection, simulating network loss.
func (s *Server) DropAll() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// Broadcast sends event to every client that joined room.
func (s *Server) Broadcast(room string, event string, payload any) {
	s.mu.Lock()
	var targets []*Client
	for c := range s.clients {
		if c.InRoom(room) {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		_ = c.Emit(event, payload)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Path != strings.SplitN(s.codec.Path(), "?", 2)[0] {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Client{ID: uuid.NewString(), server: s, conn: conn, rooms: map[string]struct{}{}}
	if err := s.handshake(c); err != nil {
		log.Debug().Err(err).Str("component", "fakeserver").Msg("handshake failed")
		_ = conn.Close()
		return
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.connects++
	s.mu.Unlock()

	go s.readLoop(c)
}

func (s *Server) handshake(c *Client) error {
	if s.codec.Name() != transport.SocketIOCodecName {
		return nil
	}
	open := fmt.Sprintf(`0{"sid":%q,"upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`, c.ID)
	if err := c.write([]byte(open)); err != nil {
		return err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	_ = c.conn.SetReadDeadline(time.Time{})
	if !strings.HasPrefix(string(data), "40") {
		return fmt.Errorf("unexpected namespace connect %q", data)
	}
	return c.write([]byte(fmt.Sprintf(`40{"sid":%q}`, "ns-"+c.ID)))
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		pkt, err := s.codec.Decode(data)
		if err != nil || pkt.Kind != transport.PacketEvent {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, Received{Client: c, Event: pkt.Event, Data: pkt.Data})
		h := s.handlers[pkt.Event]
		s.mu.Unlock()
		if h != nil {
			h(c, pkt.Data)
		}
	}
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Emit sends one event to this client.
func (c *Client) Emit(event string, payload any) error {
	frame, err := c.server.codec.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Join adds the client to room.
func (c *Client) Join(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Disconnect closes the client connection from the server side.
func (c *Client) Disconnect() {
	_ = c.conn.Close()
}
