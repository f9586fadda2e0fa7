package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type scriptedConn struct {
	reads  [][]byte
	writes [][]byte
}

func (s *scriptedConn) ReadMessage() (int, []byte, error) {
	if len(s.reads) == 0 {
		return 0, nil, errors.New("eof")
	}
	next := s.reads[0]
	s.reads = s.reads[1:]
	return websocket.TextMessage, next, nil
}

func (s *scriptedConn) WriteMessage(_ int, data []byte) error {
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *scriptedConn) SetReadDeadline(time.Time) error { return nil }

func TestSocketIOCodec_Handshake(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{
		[]byte(`0{"sid":"eio-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`),
		[]byte(`2`),
		[]byte(`40{"sid":"ns-1"}`),
	}}
	hs, err := SocketIOCodec{}.Handshake(conn, time.Second)
	require.NoError(t, err)
	require.Equal(t, "ns-1", hs.SessionID)
	require.Equal(t, 45*time.Second, hs.ReadTimeout)
	require.Equal(t, [][]byte{[]byte("40"), []byte("3")}, conn.writes)
}

func TestSocketIOCodec_HandshakeRejected(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{
		[]byte(`0{"sid":"eio-1","pingInterval":25000,"pingTimeout":20000}`),
		[]byte(`44{"message":"Not authorized"}`),
	}}
	_, err := SocketIOCodec{}.Handshake(conn, 0)
	require.ErrorIs(t, err, ErrHandshakeRejected)
}

func TestSocketIOCodec_HandshakeNeedsOpenPacket(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{[]byte(`42["x",{}]`)}}
	_, err := SocketIOCodec{}.Handshake(conn, 0)
	require.ErrorContains(t, err, "expected open packet")
}

func TestSocketIOCodec_EncodeDecodeEvent(t *testing.T) {
	c := SocketIOCodec{}
	frame, err := c.EncodeEvent("create_chat", map[string]string{"project_id": "p1"})
	require.NoError(t, err)
	require.Equal(t, `42["create_chat",{"project_id":"p1"}]`, string(frame))

	pkt, err := c.Decode([]byte(`42["chat_created",{"chat_id":5,"status":"queued"}]`))
	require.NoError(t, err)
	require.Equal(t, PacketEvent, pkt.Kind)
	require.Equal(t, "chat_created", pkt.Event)
	require.JSONEq(t, `{"chat_id":5,"status":"queued"}`, string(pkt.Data))
}

func TestSocketIOCodec_DecodeNamespaceAndAckID(t *testing.T) {
	pkt, err := SocketIOCodec{}.Decode([]byte(`42/support,17["new_message",{"message":"hi"}]`))
	require.NoError(t, err)
	require.Equal(t, "new_message", pkt.Event)

	pkt, err = SocketIOCodec{}.Decode([]byte(`42["chat_closed"]`))
	require.NoError(t, err)
	require.Equal(t, "chat_closed", pkt.Event)
	require.Nil(t, pkt.Data)
}

func TestSocketIOCodec_ControlPackets(t *testing.T) {
	c := SocketIOCodec{}
	for frame, kind := range map[string]PacketKind{
		"2":  PacketPing,
		"3":  PacketNoop,
		"6":  PacketNoop,
		"1":  PacketClose,
		"41": PacketClose,
		"40": PacketNoop,
	} {
		pkt, err := c.Decode([]byte(frame))
		require.NoError(t, err, frame)
		require.Equal(t, kind, pkt.Kind, frame)
	}
	require.Equal(t, []byte("3"), c.Pong())

	_, err := c.Decode([]byte("9"))
	require.Error(t, err)
	_, err = c.Decode([]byte(`42[]`))
	require.Error(t, err)
}

func TestEnvelopeCodec_RoundTrip(t *testing.T) {
	c := EnvelopeCodec{}
	frame, err := c.EncodeEvent("join_chat", map[string]string{"chat_id": "s1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"join_chat","data":{"chat_id":"s1"}}`, string(frame))

	pkt, err := c.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, "join_chat", pkt.Event)
	require.JSONEq(t, `{"chat_id":"s1"}`, string(pkt.Data))

	_, err = c.Decode([]byte(`{"data":{}}`))
	require.Error(t, err)
	require.Nil(t, c.Pong())
}

func TestCodecByName(t *testing.T) {
	c, ok := CodecByName("")
	require.True(t, ok)
	require.Equal(t, SocketIOCodecName, c.Name())
	c, ok = CodecByName("envelope")
	require.True(t, ok)
	require.Equal(t, "/ws", c.Path())
	_, ok = CodecByName("grpc")
	require.False(t, ok)
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	require.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 1, nil))
	require.Equal(t, 200*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
	require.Equal(t, 400*time.Millisecond, NextBackoffDelay(cfg, 3, nil))
	require.Equal(t, time.Second, NextBackoffDelay(cfg, 10, nil))

	cfg.Jitter = true
	require.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
}
