package session_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/cmr-widget/pkg/fakeserver"
	"github.com/go-go-golems/cmr-widget/pkg/loader"
	"github.com/go-go-golems/cmr-widget/pkg/persistence/sessionstore"
	"github.com/go-go-golems/cmr-widget/pkg/session"
	"github.com/go-go-golems/cmr-widget/pkg/transport"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

type widget struct {
	c      *session.Controller
	cancel context.CancelFunc
	done   chan error
	tr     *transport.Adapter
}

// openWidget builds the controller the way an embedding page would: from the loader URL.
func openWidget(t *testing.T, srv *fakeserver.Server, codec transport.Codec, store sessionstore.Store, opts ...session.Option) *widget {
	t.Helper()
	ref, err := loader.Parse(srv.LoaderURL("7"))
	require.NoError(t, err)
	endpoint, err := ref.Endpoint(codec.Path())
	require.NoError(t, err)
	tr, err := transport.New(endpoint, transport.WithCodec(codec),
		transport.WithBackoff(transport.BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}))
	require.NoError(t, err)

	opts = append([]session.Option{session.WithStore(store)}, opts...)
	c, err := session.New(ref.ProjectID, tr, opts...)
	require.NoError(t, err)
	require.Equal(t, "7", c.ProjectID())
	require.Equal(t, endpoint, tr.Endpoint())

	ctx, cancel := context.WithCancel(context.Background())
	w := &widget{c: c, cancel: cancel, done: make(chan error, 1), tr: tr}
	go func() { w.done <- c.Run(ctx) }()
	t.Cleanup(w.close)
	return w
}

func (w *widget) close() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.tr.Disconnect()
	w.cancel = nil
}

func (w *widget) waitState(t *testing.T, want session.State) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	require.Eventually(t, func() bool {
		s, err := w.c.Snapshot(context.Background())
		if err != nil {
			return false
		}
		snap = s
		return s.State == want
	}, waitFor, tick)
	return snap
}

func (w *widget) waitMessages(t *testing.T, n int) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	require.Eventually(t, func() bool {
		s, err := w.c.Snapshot(context.Background())
		if err != nil {
			return false
		}
		snap = s
		return len(s.Messages) == n
	}, waitFor, tick)
	return snap
}

func TestIntegration_FullConversationAcrossReload(t *testing.T) {
	for _, codec := range []transport.Codec{transport.SocketIOCodec{}, transport.EnvelopeCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := fakeserver.New(codec)
			defer srv.Close()
			backend := fakeserver.NewBackend(srv, "7")

			dsn, err := sessionstore.SQLiteDSNForFile(filepath.Join(t.TempDir(), "widget.db"))
			require.NoError(t, err)
			store, err := sessionstore.NewSQLiteStore(dsn)
			require.NoError(t, err)
			defer func() { _ = store.Close() }()

			ctx := context.Background()
			w := openWidget(t, srv, codec, store)
			require.NoError(t, w.c.Start(ctx, session.Form{Name: "Ann", Message: "my order is late"}))
			snap := w.waitState(t, session.StateQueued)
			chatID := snap.SessionID
			require.NotEmpty(t, chatID)

			w.waitMessages(t, 1)
			require.True(t, backend.Claim(chatID, "Bob"))
			snap = w.waitState(t, session.StateActive)
			require.Equal(t, "Bob", snap.AgentName)

			backend.AgentSay(chatID, "looking into it")
			require.NoError(t, w.c.Send(ctx, "thanks"))
			snap = w.waitMessages(t, 3)
			require.Equal(t, "looking into it", snap.Messages[1].Text)
			require.Equal(t, "thanks", snap.Messages[2].Text)

			// reload: a new controller over the same store rejoins and replays history
			w.close()
			w2 := openWidget(t, srv, codec, store)
			snap = w2.waitMessages(t, 3)
			require.Equal(t, session.StateActive, snap.State)
			require.Equal(t, chatID, snap.SessionID)
			require.Equal(t, "Ann", snap.CustomerName)
			require.Equal(t, 1, backend.ChatCount())

			backend.Close(chatID, "Resolved.")
			snap = w2.waitState(t, session.StateClosed)
			require.Empty(t, snap.SessionID)
			id, err := sessionstore.LoadIdentity(ctx, store, "7")
			require.NoError(t, err)
			require.Empty(t, id.SessionID)

			require.NoError(t, w2.c.Reset(ctx))
			w2.waitState(t, session.StateNoSession)
		})
	}
}

func TestIntegration_ResetEndsChatOnServer(t *testing.T) {
	srv := fakeserver.New(transport.SocketIOCodec{})
	defer srv.Close()
	backend := fakeserver.NewBackend(srv, "7")
	backend.SetOnlineAgent("Bob")

	ctx := context.Background()
	w := openWidget(t, srv, transport.SocketIOCodec{}, sessionstore.NewMemoryStore())
	require.NoError(t, w.c.Start(ctx, session.Form{Name: "Ann", Message: "hi"}))
	chatID := w.waitState(t, session.StateActive).SessionID

	require.NoError(t, w.c.Reset(ctx))
	require.Eventually(t, func() bool {
		chat, ok := backend.Chat(chatID)
		return ok && chat.Status == "closed"
	}, waitFor, tick)

	// the closure broadcast for the ended chat leaves the fresh state alone
	time.Sleep(50 * time.Millisecond)
	snap := w.waitState(t, session.StateNoSession)
	require.True(t, snap.StartEnabled)
}

func TestIntegration_UnknownProjectRaisesProtocolAlert(t *testing.T) {
	srv := fakeserver.New(transport.EnvelopeCodec{})
	defer srv.Close()
	fakeserver.NewBackend(srv, "other")

	alerts := make(chan session.AlertRaised, 4)
	sink := session.SinkFunc(func(s session.Signal) {
		if a, ok := s.(session.AlertRaised); ok {
			alerts <- a
		}
	})
	w := openWidget(t, srv, transport.EnvelopeCodec{}, sessionstore.NewMemoryStore(), session.WithSink(sink))
	require.NoError(t, w.c.Start(context.Background(), session.Form{Name: "Ann", Message: "hi"}))

	select {
	case a := <-alerts:
		require.Equal(t, session.AlertProtocol, a.Kind)
		require.Equal(t, "Error: Project ID not found.", a.Text)
	case <-time.After(waitFor):
		t.Fatal("no alert")
	}
	w.waitState(t, session.StateNoSession)
}

func TestIntegration_SilentBackendTimesOut(t *testing.T) {
	srv := fakeserver.New(transport.EnvelopeCodec{})
	defer srv.Close()
	backend := fakeserver.NewBackend(srv, "7")
	backend.SetSilent(true)

	w := openWidget(t, srv, transport.EnvelopeCodec{}, sessionstore.NewMemoryStore(),
		session.WithCreateTimeout(100*time.Millisecond))
	require.NoError(t, w.c.Start(context.Background(), session.Form{Name: "Ann", Message: "hi"}))
	snap := w.waitState(t, session.StateNoSession)
	require.True(t, snap.StartEnabled)
	require.Equal(t, 0, backend.ChatCount())
}
