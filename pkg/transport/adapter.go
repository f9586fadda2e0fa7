package transport

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cmr-widget/pkg/protocol"
)

var (
	ErrEndpointRequired = errors.New("transport: endpoint required")
	ErrNotConnected     = errors.New("transport: not connected")
)

// Handler receives the raw payload of one named event. Handlers run on the adapter's single
// dispatch goroutine, in receipt order.
type Handler func(payload json.RawMessage)

type Option func(*Adapter)

func WithCodec(c Codec) Option {
	return func(a *Adapter) {
		if c != nil {
			a.codec = c
		}
	}
}

func WithBackoff(cfg BackoffConfig) Option {
	return func(a *Adapter) { a.backoff = cfg }
}

// WithMaxAttempts caps consecutive failed dials before the adapter gives up; zero retries forever.
func WithMaxAttempts(n int) Option {
	return func(a *Adapter) { a.maxAttempts = n }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.handshakeTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.writeTimeout = d }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(a *Adapter) {
		if d != nil {
			a.dialer = d
		}
	}
}

func WithHeader(h http.Header) Option {
	return func(a *Adapter) { a.header = h.Clone() }
}

// Adapter maintains a single connection to one backend endpoint.
type Adapter struct {
	endpoint         string
	codec            Codec
	dialer           *websocket.Dialer
	header           http.Header
	backoff          BackoffConfig
	maxAttempts      int
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	logger           zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	run      *runState
	conn     *websocket.Conn
	connID   string

	writeMu sync.Mutex
}

type runState struct {
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan inboundFrame
	done   chan struct{}
	rng    *rand.Rand
}

type inboundFrame struct {
	event string
	data  json.RawMessage
}

func New(endpoint string, opts ...Option) (*Adapter, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	a := &Adapter{
		endpoint:         endpoint,
		codec:            SocketIOCodec{},
		dialer:           websocket.DefaultDialer,
		backoff:          DefaultBackoffConfig(),
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     5 * time.Second,
		handlers:         map[string][]Handler{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.With().
		Str("component", "transport").
		Str("endpoint", endpoint).
		Str("codec", a.codec.Name()).
		Logger()
	return a, nil
}

func (a *Adapter) Endpoint() string { return a.endpoint }

// On registers h for every future event named event. Several handlers per name may coexist
// and run in registration order.
func (a *Adapter) On(event string, h Handler) {
	if a == nil || h == nil {
		return
	}
	a.mu.Lock()
	a.handlers[event] = append(a.handlers[event], h)
	a.mu.Unlock()
}

// Connected reports whether a connection is currently established.
func (a *Adapter) Connected() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Connect starts the connection supervisor. It is a no-op while connected or while a
// connection attempt (or retry cycle) is already in progress. Failures never surface as
// return values; they arrive as connect_error events.
func (a *Adapter) Connect(ctx context.Context) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &runState{
		ctx:    runCtx,
		cancel: cancel,
		inbox:  make(chan inboundFrame, 256),
		done:   make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	a.run = run
	go a.dispatch(run)
	go a.supervise(run)
}

// Disconnect closes the connection and stops reconnecting. It waits until every queued
// event, including the final disconnect, has been dispatched, so it must not be called from
// a Handler.
func (a *Adapter) Disconnect() {
	if a == nil {
		return
	}
	a.mu.Lock()
	run := a.run
	conn := a.conn
	a.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-run.done
}

// Emit sends a named event. Without a connection the event is dropped and ErrNotConnected
// returned; callers that treat emission as fire-and-forget may ignore the error.
func (a *Adapter) Emit(event string, payload any) error {
	if a == nil {
		return ErrNotConnected
	}
	a.mu.Lock()
	conn := a.conn
	connID := a.connID
	a.mu.Unlock()
	if conn == nil {
		a.logger.Debug().Str("event", event).Msg("emit dropped, not connected")
		return ErrNotConnected
	}
	frame, err := a.codec.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	if err := a.write(conn, frame); err != nil {
		a.logger.Warn().Err(err).Str("conn_id", connID).Str("event", event).Msg("emit failed")
		return errors.Wrapf(err, "emit %s", event)
	}
	a.logger.Debug().Str("conn_id", connID).Str("event", event).Msg("emitted")
	return nil
}

func (a *Adapter) write(conn *websocket.Conn, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (a *Adapter) dispatch(run *runState) {
	defer close(run.done)
	for f := range run.inbox {
		a.mu.Lock()
		hs := append([]Handler(nil), a.handlers[f.event]...)
		a.mu.Unlock()
		if len(hs) == 0 {
			a.logger.Debug().Str("event", f.event).Msg("no handler for event")
			continue
		}
		for _, h := range hs {
			h(f.data)
		}
	}
}

func (a *Adapter) push(run *runState, event string, payload any) {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			a.logger.Error().Err(err).Str("event", event).Msg("failed to encode pseudo event")
			return
		}
		data = b
	}
	run.inbox <- inboundFrame{event: event, data: data}
}

func (a *Adapter) supervise(run *runState) {
	defer func() {
		a.mu.Lock()
		if a.run == run {
			a.run = nil
		}
		a.mu.Unlock()
		close(run.inbox)
	}()

	attempt := 0
	for run.ctx.Err() == nil {
		attempt++
		conn, hs, err := a.dial(run.ctx)
		if err != nil {
			if run.ctx.Err() != nil {
				return
			}
			a.logger.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
			a.push(run, protocol.EventConnectError, protocol.ConnectError{Err: err.Error(), Attempt: attempt})
			if a.maxAttempts > 0 && attempt >= a.maxAttempts {
				a.logger.Error().Int("attempts", attempt).Msg("giving up on connection")
				return
			}
			if err := sleepContext(run.ctx, NextBackoffDelay(a.backoff, attempt, run.rng)); err != nil {
				return
			}
			continue
		}
		attempt = 0

		connID := uuid.NewString()
		connLog := a.logger.With().Str("conn_id", connID).Str("sid", hs.SessionID).Logger()
		a.mu.Lock()
		a.conn = conn
		a.connID = connID
		a.mu.Unlock()
		connLog.Info().Msg("connected")
		a.push(run, protocol.EventConnect, protocol.Connected{ConnID: connID})

		reason := a.readLoop(run, conn, hs, connLog)

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
			a.connID = ""
		}
		a.mu.Unlock()
		_ = conn.Close()
		connLog.Info().Str("reason", reason).Msg("disconnected")
		a.push(run, protocol.EventDisconnect, protocol.Disconnected{Reason: reason})

		if err := sleepContext(run.ctx, NextBackoffDelay(a.backoff, 1, run.rng)); err != nil {
			return
		}
	}
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, Handshake, error) {
	conn, resp, err := a.dialer.DialContext(ctx, a.endpoint, a.header)
	if err != nil {
		if resp != nil {
			return nil, Handshake{}, errors.Wrapf(err, "dial %s (status %d)", a.endpoint, resp.StatusCode)
		}
		return nil, Handshake{}, errors.Wrapf(err, "dial %s", a.endpoint)
	}
	hs, err := a.codec.Handshake(conn, a.handshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, Handshake{}, err
	}
	return conn, hs, nil
}

func (a *Adapter) readLoop(run *runState, conn *websocket.Conn, hs Handshake, connLog zerolog.Logger) string {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-run.ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		if hs.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(hs.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if run.ctx.Err() != nil {
				return "client disconnect"
			}
			connLog.Debug().Err(err).Msg("read loop end")
			return "transport error: " + err.Error()
		}
		pkt, err := a.codec.Decode(data)
		if err != nil {
			connLog.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		switch pkt.Kind {
		case PacketPing:
			if pong := a.codec.Pong(); pong != nil {
				if err := a.write(conn, pong); err != nil {
					connLog.Debug().Err(err).Msg("pong failed")
				}
			}
		case PacketClose:
			return "server disconnect"
		case PacketEvent:
			a.push(run, pkt.Event, pkt.Data)
		case PacketNoop:
		}
	}
}
