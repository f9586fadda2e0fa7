package transport

import (
	"encoding/json"
	"time"
)

type PacketKind int

const (
	PacketEvent PacketKind = iota
	PacketPing
	PacketNoop
	PacketClose
)

// Packet is one decoded websocket frame.
type Packet struct {
	Kind  PacketKind
	Event string
	Data  json.RawMessage
}

// MessageConn is the subset of *websocket.Conn the codecs need during the handshake.
type MessageConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
}

// Handshake describes a negotiated connection.
type Handshake struct {
	// SessionID is whatever id the server assigned at the protocol level, if any.
	SessionID string
	// ReadTimeout bounds the silence tolerated between two frames; zero disables it.
	ReadTimeout time.Duration
}

// Codec frames named events on top of websocket text messages.
type Codec interface {
	Name() string
	// Path is the request path (with query) the codec expects on the backend origin.
	Path() string
	Handshake(conn MessageConn, timeout time.Duration) (Handshake, error)
	EncodeEvent(event string, data any) ([]byte, error)
	Decode(frame []byte) (Packet, error)
	// Pong answers a PacketPing; nil means nothing has to be written.
	Pong() []byte
}

// CodecByName returns the codec registered under name ("socketio" or "envelope").
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "", SocketIOCodecName:
		return SocketIOCodec{}, true
	case EnvelopeCodecName:
		return EnvelopeCodec{}, true
	default:
		return nil, false
	}
}
