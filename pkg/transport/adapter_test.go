package transport_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/cmr-widget/pkg/fakeserver"
	"github.com/go-go-golems/cmr-widget/pkg/protocol"
	"github.com/go-go-golems/cmr-widget/pkg/transport"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	data   []json.RawMessage
}

func (r *recorder) handler(name string) transport.Handler {
	return func(payload json.RawMessage) {
		r.mu.Lock()
		r.events = append(r.events, name)
		r.data = append(r.data, payload)
		r.mu.Unlock()
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == name {
			n++
		}
	}
	return n
}

func fastBackoff() transport.Option {
	return transport.WithBackoff(transport.BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2})
}

func newAdapter(t *testing.T, srv *fakeserver.Server, codec transport.Codec, opts ...transport.Option) *transport.Adapter {
	t.Helper()
	opts = append([]transport.Option{transport.WithCodec(codec), fastBackoff()}, opts...)
	a, err := transport.New(srv.Endpoint(), opts...)
	require.NoError(t, err)
	t.Cleanup(a.Disconnect)
	return a
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := transport.New("  ")
	require.ErrorIs(t, err, transport.ErrEndpointRequired)
}

func TestAdapter_EmitWithoutConnectionIsDropped(t *testing.T) {
	a, err := transport.New("ws://127.0.0.1:1/ws")
	require.NoError(t, err)
	require.False(t, a.Connected())
	require.ErrorIs(t, a.Emit(protocol.EventJoinChat, protocol.JoinChat{ChatID: "1"}), transport.ErrNotConnected)
}

func TestAdapter_ConnectEmitAndReceiveInOrder(t *testing.T) {
	for _, codec := range []transport.Codec{transport.SocketIOCodec{}, transport.EnvelopeCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := fakeserver.New(codec)
			defer srv.Close()
			srv.Handle("ping_me", func(c *fakeserver.Client, _ json.RawMessage) {
				for _, text := range []string{"M1", "M2", "M3"} {
					_ = c.Emit(protocol.EventNewMessage, protocol.Message{Text: text, SenderType: protocol.SenderAgent})
				}
			})

			a := newAdapter(t, srv, codec)
			rec := &recorder{}
			second := &recorder{}
			a.On(protocol.EventConnect, rec.handler(protocol.EventConnect))
			a.On(protocol.EventNewMessage, rec.handler(protocol.EventNewMessage))
			a.On(protocol.EventNewMessage, second.handler(protocol.EventNewMessage))

			ctx := context.Background()
			a.Connect(ctx)
			a.Connect(ctx)
			require.Eventually(t, a.Connected, 2*time.Second, 5*time.Millisecond)
			require.NoError(t, a.Emit("ping_me", map[string]string{}))

			require.Eventually(t, func() bool { return rec.count(protocol.EventNewMessage) == 3 }, 2*time.Second, 5*time.Millisecond)
			require.Equal(t, 1, rec.count(protocol.EventConnect))
			require.Equal(t, 1, srv.Connects())

			rec.mu.Lock()
			var texts []string
			for i, e := range rec.events {
				if e != protocol.EventNewMessage {
					continue
				}
				var m protocol.Message
				require.NoError(t, json.Unmarshal(rec.data[i], &m))
				texts = append(texts, m.Text)
			}
			rec.mu.Unlock()
			require.Equal(t, []string{"M1", "M2", "M3"}, texts)
			require.Eventually(t, func() bool { return second.count(protocol.EventNewMessage) == 3 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestAdapter_ReconnectsAfterNetworkLoss(t *testing.T) {
	srv := fakeserver.New(transport.SocketIOCodec{})
	defer srv.Close()

	a := newAdapter(t, srv, transport.SocketIOCodec{})
	rec := &recorder{}
	a.On(protocol.EventConnect, rec.handler(protocol.EventConnect))
	a.On(protocol.EventDisconnect, rec.handler(protocol.EventDisconnect))
	a.Connect(context.Background())
	require.Eventually(t, func() bool { return rec.count(protocol.EventConnect) == 1 }, 2*time.Second, 5*time.Millisecond)

	srv.DropAll()

	require.Eventually(t, func() bool { return rec.count(protocol.EventConnect) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{protocol.EventConnect, protocol.EventDisconnect, protocol.EventConnect}, rec.snapshot())
	require.True(t, a.Connected())
}

func TestAdapter_ConnectErrorAndGiveUp(t *testing.T) {
	srv := fakeserver.New(transport.EnvelopeCodec{})
	defer srv.Close()
	srv.SetRefuse(true)

	a := newAdapter(t, srv, transport.EnvelopeCodec{}, transport.WithMaxAttempts(2))
	rec := &recorder{}
	a.On(protocol.EventConnectError, rec.handler(protocol.EventConnectError))
	a.Connect(context.Background())

	require.Eventually(t, func() bool { return rec.count(protocol.EventConnectError) == 2 }, 2*time.Second, 5*time.Millisecond)
	ev, err := protocol.Decode(protocol.EventConnectError, rec.data[1])
	require.NoError(t, err)
	require.Equal(t, 2, ev.(protocol.ConnectError).Attempt)
	require.NotEmpty(t, ev.(protocol.ConnectError).Err)

	// after giving up, Connect starts a fresh cycle
	srv.SetRefuse(false)
	require.Eventually(t, func() bool {
		a.Connect(context.Background())
		return a.Connected()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAdapter_DisconnectStopsReconnecting(t *testing.T) {
	srv := fakeserver.New(transport.EnvelopeCodec{})
	defer srv.Close()

	a := newAdapter(t, srv, transport.EnvelopeCodec{})
	rec := &recorder{}
	a.On(protocol.EventDisconnect, rec.handler(protocol.EventDisconnect))
	a.Connect(context.Background())
	require.Eventually(t, a.Connected, 2*time.Second, 5*time.Millisecond)

	a.Disconnect()
	require.False(t, a.Connected())
	require.Equal(t, 1, rec.count(protocol.EventDisconnect))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, srv.Connects())
}
