package transport

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const SocketIOCodecName = "socketio"

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

var ErrHandshakeRejected = errors.New("socketio: namespace connect rejected")

// SocketIOCodec speaks Socket.IO v5 over the Engine.IO v4 websocket transport, on the
// default namespace. Binary packets and acknowledgements are not supported.
type SocketIOCodec struct{}

var _ Codec = SocketIOCodec{}

func (SocketIOCodec) Name() string { return SocketIOCodecName }

func (SocketIOCodec) Path() string { return "/socket.io/?EIO=4&transport=websocket" }

type eioOpenPacket struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"`
	PingTimeout  int64  `json:"pingTimeout"`
}

func (c SocketIOCodec) Handshake(conn MessageConn, timeout time.Duration) (Handshake, error) {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return Handshake{}, errors.Wrap(err, "socketio: read open packet")
	}
	if len(data) == 0 || data[0] != eioOpen {
		return Handshake{}, errors.Errorf("socketio: expected open packet, got %q", truncate(data))
	}
	var open eioOpenPacket
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return Handshake{}, errors.Wrap(err, "socketio: decode open packet")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioConnect}); err != nil {
		return Handshake{}, errors.Wrap(err, "socketio: write namespace connect")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return Handshake{}, errors.Wrap(err, "socketio: read namespace connect")
		}
		if len(data) == 1 && data[0] == eioPing {
			if err := conn.WriteMessage(websocket.TextMessage, c.Pong()); err != nil {
				return Handshake{}, errors.Wrap(err, "socketio: write pong")
			}
			continue
		}
		if len(data) < 2 || data[0] != eioMessage {
			continue
		}
		switch data[1] {
		case sioConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			if len(data) > 2 {
				_ = json.Unmarshal(data[2:], &ack)
			}
			sid := ack.SID
			if sid == "" {
				sid = open.SID
			}
			hs := Handshake{SessionID: sid}
			if open.PingInterval > 0 {
				hs.ReadTimeout = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
			}
			return hs, nil
		case sioConnectError:
			return Handshake{}, errors.Wrap(ErrHandshakeRejected, string(data[2:]))
		}
	}
}

func (SocketIOCodec) EncodeEvent(event string, data any) ([]byte, error) {
	body, err := json.Marshal([]any{event, data})
	if err != nil {
		return nil, errors.Wrapf(err, "socketio: encode %s", event)
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, eioMessage, sioEvent)
	return append(out, body...), nil
}

func (SocketIOCodec) Decode(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, errors.New("socketio: empty frame")
	}
	switch frame[0] {
	case eioPing:
		return Packet{Kind: PacketPing}, nil
	case eioPong, eioNoop, eioOpen:
		return Packet{Kind: PacketNoop}, nil
	case eioClose:
		return Packet{Kind: PacketClose}, nil
	case eioMessage:
	default:
		return Packet{}, errors.Errorf("socketio: unknown engine.io packet %q", truncate(frame))
	}
	if len(frame) < 2 {
		return Packet{Kind: PacketNoop}, nil
	}
	switch frame[1] {
	case sioDisconnect:
		return Packet{Kind: PacketClose}, nil
	case sioEvent:
	default:
		return Packet{Kind: PacketNoop}, nil
	}

	rest := frame[2:]
	// optional namespace "/ns," and ack id digits precede the array
	if len(rest) > 0 && rest[0] == '/' {
		idx := bytes.IndexByte(rest, ',')
		if idx < 0 {
			return Packet{}, errors.New("socketio: unterminated namespace")
		}
		rest = rest[idx+1:]
	}
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(rest, &parts); err != nil {
		return Packet{}, errors.Wrap(err, "socketio: decode event array")
	}
	if len(parts) == 0 {
		return Packet{}, errors.New("socketio: event without name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return Packet{}, errors.Wrap(err, "socketio: decode event name")
	}
	pkt := Packet{Kind: PacketEvent, Event: name}
	if len(parts) > 1 {
		pkt.Data = parts[1]
	}
	return pkt, nil
}

func (SocketIOCodec) Pong() []byte { return []byte{eioPong} }

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
