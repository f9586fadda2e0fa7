package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cmr-widget/pkg/persistence/sessionstore"
	"github.com/go-go-golems/cmr-widget/pkg/protocol"
	"github.com/go-go-golems/cmr-widget/pkg/transport"
)

var (
	ErrProjectIDRequired = errors.New("session: project id required")
	ErrTransportRequired = errors.New("session: transport required")
	ErrNameRequired      = errors.New("session: name is required")
	ErrMessageRequired   = errors.New("session: message is required")
	ErrSessionOpen       = errors.New("session: a session is already open")
	ErrNoSession         = errors.New("session: no open session")
	ErrAlreadyRunning    = errors.New("session: controller already running")
	ErrStopped           = errors.New("session: controller stopped")
)

// DefaultCreateTimeout bounds how long Starting waits for chat_created or chat_error.
const DefaultCreateTimeout = 15 * time.Second

const (
	noticeQueuedText   = "Searching for an agent... You are in the queue."
	noticeAssignedText = "An agent has joined the chat."
	noticeEndedText    = "Chat ended."
	alertTimeoutText   = "Connection Timeout: Please check if the server is running and try again."
)

// Transport is the connection the controller drives. *transport.Adapter satisfies it.
type Transport interface {
	Connect(ctx context.Context)
	Connected() bool
	Emit(event string, payload any) error
	On(event string, h transport.Handler)
}

var _ Transport = &transport.Adapter{}

type Option func(*Controller)

// WithStore sets where the chat id and customer name are persisted. Defaults to an
// in-memory store.
func WithStore(s sessionstore.Store) Option {
	return func(c *Controller) {
		if s != nil {
			c.store = s
		}
	}
}

func WithSink(s Sink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sink = s
		}
	}
}

func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithCreateTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.createTimeout = d
		}
	}
}

type createAttempt struct {
	n       uint64
	form    Form
	emitted bool
	timer   Timer
}

// Controller runs the session state machine for one project.
type Controller struct {
	projectID     string
	tr            Transport
	store         sessionstore.Store
	sink          Sink
	clock         Clock
	createTimeout time.Duration
	logger        zerolog.Logger

	inputs  chan func()
	done    chan struct{}
	running atomic.Bool

	// Everything below is owned by the Run goroutine.
	ctx       context.Context
	sess      Session
	connected bool
	// confirmed turns false when a persisted session is shown before the server replied.
	confirmed bool
	// resumeID is a persisted chat id waiting for the first connection.
	resumeID string
	attempts uint64
	pending  *createAttempt
	// inflight lists the creation attempts emitted on the current connection, oldest first.
	// Each chat_created or chat_error answers the head.
	inflight     []uint64
	lastTimedOut uint64
	// expectClosed counts chat_closed events owed for orphaned chats this client ended.
	expectClosed int
	controls     *ControlsChanged
}

func New(projectID string, tr Transport, opts ...Option) (*Controller, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}
	if tr == nil {
		return nil, ErrTransportRequired
	}
	c := &Controller{
		projectID:     projectID,
		tr:            tr,
		store:         sessionstore.NewMemoryStore(),
		sink:          nopSink{},
		clock:         SystemClock,
		createTimeout: DefaultCreateTimeout,
		inputs:        make(chan func(), 64),
		done:          make(chan struct{}),
		ctx:           context.Background(),
		confirmed:     true,
		sess:          Session{ProjectID: projectID, State: StateNoSession},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.With().Str("component", "session").Str("project_id", projectID).Logger()
	c.subscribe()
	return c, nil
}

func (c *Controller) ProjectID() string { return c.projectID }

func (c *Controller) subscribe() {
	events := append([]string{
		protocol.EventConnect,
		protocol.EventConnectError,
		protocol.EventDisconnect,
	}, protocol.ServerEvents...)
	for _, name := range events {
		name := name
		c.tr.On(name, func(payload json.RawMessage) {
			c.post(func() { c.handleEvent(name, payload) })
		})
	}
}

// post enqueues fn for the loop. It blocks while the queue is full and gives up once Run
// has returned.
func (c *Controller) post(fn func()) {
	select {
	case c.inputs <- fn:
	case <-c.done:
	}
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.inputs <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}

// Run loads persisted identity, connects the transport and processes inputs until ctx is
// cancelled. It may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	c.ctx = ctx

	c.load()
	c.tr.Connect(ctx)

	for {
		select {
		case <-ctx.Done():
			c.stopTimer()
			c.logger.Debug().Msg("session loop stopped")
			return nil
		case fn := <-c.inputs:
			fn()
		}
	}
}

// Start validates the form and begins a new chat. Validation errors are returned before any
// network activity. When a persisted session exists, Start rejoins it instead.
func (c *Controller) Start(ctx context.Context, form Form) error {
	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.TrimSpace(form.Email)
	if form.Name == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(form.Message) == "" {
		return ErrMessageRequired
	}
	return c.call(ctx, func() error { return c.start(form) })
}

// Send emits a customer message for the open session. The message appears in the log when
// the server broadcasts it back.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrMessageRequired
	}
	return c.call(ctx, func() error { return c.send(text) })
}

// Reset ends the current session: the server is told best-effort, persisted identity is
// purged and the controller returns to NoSession.
func (c *Controller) Reset(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.reset()
		return nil
	})
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() error {
		snap = c.snapshot()
		return nil
	})
	return snap, err
}

func (c *Controller) snapshot() Snapshot {
	ctl := c.currentControls()
	return Snapshot{
		Session:      c.sess.clone(),
		Connected:    c.connected,
		StartEnabled: ctl.StartEnabled,
		SendEnabled:  ctl.SendEnabled,
		Confirmed:    c.confirmed,
	}
}

func (c *Controller) load() {
	id, err := sessionstore.LoadIdentity(c.ctx, c.store, c.projectID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load persisted session")
	}
	c.sess.CustomerName = id.Name
	c.resumeID = id.SessionID
	if c.resumeID != "" {
		c.logger.Info().Str("session_id", c.resumeID).Msg("persisted session found, rejoining on connect")
	}
	c.publishControls()
}

func (c *Controller) start(form Form) error {
	if c.sess.State != StateNoSession {
		return errors.Wrapf(ErrSessionOpen, "state %s", c.sess.State)
	}
	if c.resumeID != "" {
		c.logger.Info().Str("session_id", c.resumeID).Msg("persisted session exists, rejoining instead of creating")
		c.tr.Connect(c.ctx)
		return nil
	}

	c.attempts++
	a := &createAttempt{n: c.attempts, form: form}
	c.pending = a
	c.lastTimedOut = 0
	c.sess.CustomerName = form.Name
	c.sess.CustomerEmail = form.Email
	c.persist(sessionstore.NameKey(c.projectID), form.Name)
	c.setState(StateStarting)

	n := a.n
	a.timer = c.clock.AfterFunc(c.createTimeout, func() {
		c.post(func() { c.onCreateTimeout(n) })
	})

	if c.connected {
		c.emitCreate(a)
	}
	if !a.emitted {
		c.logger.Info().Uint64("attempt", n).Msg("not connected, creation request held until connect")
		c.tr.Connect(c.ctx)
	}
	return nil
}

func (c *Controller) emitCreate(a *createAttempt) {
	err := c.tr.Emit(protocol.EventCreateChat, protocol.CreateChat{
		ProjectID: c.projectID,
		Name:      a.form.Name,
		Email:     a.form.Email,
		Message:   a.form.Message,
	})
	if err != nil {
		c.logger.Warn().Err(err).Uint64("attempt", a.n).Msg("creation request not sent, waiting for connection")
		return
	}
	a.emitted = true
	c.inflight = append(c.inflight, a.n)
	c.logger.Debug().Uint64("attempt", a.n).Msg("creation request sent")
}

func (c *Controller) onCreateTimeout(n uint64) {
	a := c.pending
	if a == nil || a.n != n {
		return
	}
	c.pending = nil
	c.lastTimedOut = n
	c.logger.Warn().Uint64("attempt", n).Dur("timeout", c.createTimeout).Msg("chat creation timed out")
	c.setState(StateNoSession)
	c.sink.Publish(AlertRaised{Kind: AlertTimeout, Text: alertTimeoutText})
}

func (c *Controller) send(text string) error {
	if !c.sess.State.Identified() || c.sess.SessionID == "" {
		return errors.Wrapf(ErrNoSession, "state %s", c.sess.State)
	}
	err := c.tr.Emit(protocol.EventClientMessage, protocol.ClientMessage{
		ChatID:     protocol.ChatID(c.sess.SessionID),
		Text:       text,
		SenderName: c.sess.CustomerName,
	})
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

func (c *Controller) reset() {
	id := c.sess.SessionID
	if id == "" {
		id = c.resumeID
	}
	if id != "" {
		c.endRemote(id)
	}
	c.stopTimer()
	c.pending = nil
	c.lastTimedOut = 0
	c.resumeID = ""
	c.confirmed = true
	c.purge()

	hadMessages := len(c.sess.Messages) > 0
	c.sess.SessionID = ""
	c.sess.AgentName = ""
	c.sess.CustomerName = ""
	c.sess.CustomerEmail = ""
	c.sess.Messages = nil
	c.logger.Info().Str("session_id", id).Msg("session reset")
	c.setState(StateNoSession)
	if hadMessages {
		c.sink.Publish(HistoryReplaced{Messages: []Message{}})
	}
}

// endRemote tells the server the customer ended chat id. Delivery is best-effort.
func (c *Controller) endRemote(id string) bool {
	if err := c.tr.Emit(protocol.EventClientEndChat, protocol.ClientEndChat{ChatID: protocol.ChatID(id)}); err != nil {
		c.logger.Warn().Err(err).Str("session_id", id).Msg("could not notify server of chat end")
		return false
	}
	return true
}

func (c *Controller) handleEvent(name string, payload json.RawMessage) {
	ev, err := protocol.Decode(name, payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", name).Msg("dropping malformed event")
		if name == protocol.EventChatCreated || name == protocol.EventChatError {
			c.onMalformedAnswer(name)
		}
		return
	}
	switch ev := ev.(type) {
	case protocol.Connected:
		c.onConnect(ev)
	case protocol.ConnectError:
		c.logger.Warn().Str("error", ev.Err).Int("attempt", ev.Attempt).Msg("connection error")
		c.sink.Publish(ConnectionChanged{Connected: false, Reason: ev.Err})
	case protocol.Disconnected:
		c.onDisconnect(ev)
	case protocol.ChatCreated:
		c.onChatCreated(ev)
	case protocol.ChatError:
		c.onChatError(ev)
	case protocol.ChatHistory:
		c.onChatHistory(ev)
	case protocol.NewMessage:
		c.onNewMessage(ev)
	case protocol.AgentAssigned:
		c.onAgentAssigned(ev)
	case protocol.ChatClosed:
		c.onChatClosed(ev)
	default:
		c.logger.Debug().Str("event", name).Msg("unhandled event")
	}
}

func (c *Controller) onConnect(ev protocol.Connected) {
	c.connected = true
	c.logger.Info().Str("conn_id", ev.ConnID).Msg("connected")
	c.sink.Publish(ConnectionChanged{Connected: true})

	switch {
	case c.resumeID != "" && c.sess.State == StateNoSession:
		// Optimistic rejoin: the conversation is shown before the server answers and only
		// reverts on chat_error.
		c.sess.SessionID = c.resumeID
		c.resumeID = ""
		c.confirmed = false
		c.emitJoin()
		c.setState(StateActive)
	case c.sess.State.Identified():
		c.emitJoin()
	}

	if c.pending != nil && !c.pending.emitted {
		c.emitCreate(c.pending)
	}
}

func (c *Controller) emitJoin() {
	id := c.sess.SessionID
	if err := c.tr.Emit(protocol.EventJoinChat, protocol.JoinChat{ChatID: protocol.ChatID(id)}); err != nil {
		c.logger.Warn().Err(err).Str("session_id", id).Msg("rejoin request not sent")
		return
	}
	c.logger.Debug().Str("session_id", id).Msg("rejoin requested")
}

func (c *Controller) onDisconnect(ev protocol.Disconnected) {
	c.connected = false
	if len(c.inflight) > 0 {
		c.logger.Debug().Int("count", len(c.inflight)).Msg("discarding in-flight creation requests")
	}
	c.inflight = nil
	c.expectClosed = 0
	c.logger.Info().Str("reason", ev.Reason).Msg("disconnected")
	c.sink.Publish(ConnectionChanged{Connected: false, Reason: ev.Reason})
}

func (c *Controller) popInflight() (uint64, bool) {
	if len(c.inflight) == 0 {
		return 0, false
	}
	n := c.inflight[0]
	c.inflight = c.inflight[1:]
	return n, true
}

func (c *Controller) onChatCreated(ev protocol.ChatCreated) {
	n, ok := c.popInflight()
	if !ok {
		c.logger.Warn().Str("session_id", ev.ChatID.String()).Msg("unsolicited chat_created ignored")
		return
	}
	id := strings.TrimSpace(ev.ChatID.String())
	isPending := c.pending != nil && c.pending.n == n

	if id == "" {
		c.logger.Warn().Uint64("attempt", n).Msg("chat_created without chat id")
		if isPending {
			c.failPending(n, "Error: server returned no chat id")
		}
		return
	}

	switch {
	case isPending:
		c.stopTimer()
		c.pending = nil
		c.adopt(id, ev)
	case n == c.lastTimedOut && c.pending == nil && c.resumeID == "" && c.sess.State == StateNoSession:
		c.logger.Info().Uint64("attempt", n).Str("session_id", id).Msg("late chat_created adopted after timeout")
		c.lastTimedOut = 0
		c.adopt(id, ev)
	default:
		c.logger.Warn().Uint64("attempt", n).Str("session_id", id).Msg("stale chat_created, ending orphaned chat")
		if c.endRemote(id) && !ev.Queued() {
			c.expectClosed++
		}
	}
}

func (c *Controller) adopt(id string, ev protocol.ChatCreated) {
	c.sess.SessionID = id
	c.sess.AgentName = ""
	c.sess.Messages = nil
	c.confirmed = true
	c.persist(sessionstore.SessionKey(c.projectID), id)
	if ev.Queued() {
		c.setState(StateQueued)
		c.sink.Publish(SystemNotice{Kind: NoticeQueued, Text: noticeQueuedText})
		return
	}
	c.setState(StateActive)
	c.sink.Publish(SystemNotice{Kind: NoticeAgentJoined, Text: noticeAssignedText})
}

func (c *Controller) failPending(n uint64, text string) {
	c.stopTimer()
	c.pending = nil
	c.logger.Warn().Uint64("attempt", n).Str("msg", text).Msg("chat creation failed")
	c.setState(StateNoSession)
	c.sink.Publish(AlertRaised{Kind: AlertProtocol, Text: text})
}

// onMalformedAnswer consumes the creation request a malformed chat_created or chat_error
// answered, so later answers still line up with their requests.
func (c *Controller) onMalformedAnswer(name string) {
	n, ok := c.popInflight()
	if !ok {
		return
	}
	if c.pending != nil && c.pending.n == n {
		c.failPending(n, "Error: malformed "+name+" from server")
		return
	}
	c.logger.Debug().Uint64("attempt", n).Str("event", name).Msg("malformed answer to a stale request dropped")
}

func (c *Controller) onChatError(ev protocol.ChatError) {
	text := "Error: " + ev.Msg
	if n, ok := c.popInflight(); ok {
		if c.pending != nil && c.pending.n == n {
			c.failPending(n, text)
			return
		}
		c.logger.Warn().Uint64("attempt", n).Str("msg", ev.Msg).Msg("stale chat_error dropped")
		return
	}
	if c.sess.State == StateActive && !c.confirmed {
		c.logger.Warn().Str("session_id", c.sess.SessionID).Str("msg", ev.Msg).Msg("rejoin rejected")
		c.sess.SessionID = ""
		c.sess.AgentName = ""
		c.sess.Messages = nil
		c.confirmed = true
		c.setState(StateNoSession)
		c.sink.Publish(AlertRaised{Kind: AlertProtocol, Text: text})
		return
	}
	c.logger.Warn().Str("msg", ev.Msg).Str("state", c.sess.State.String()).Msg("chat_error")
	c.sink.Publish(AlertRaised{Kind: AlertProtocol, Text: text})
}

func (c *Controller) onChatHistory(ev protocol.ChatHistory) {
	if !c.sess.State.Identified() {
		c.logger.Debug().Str("state", c.sess.State.String()).Msg("chat_history ignored without session")
		return
	}
	msgs := make([]Message, 0, len(ev.History))
	for _, m := range ev.History {
		msgs = append(msgs, messageFromWire(m))
	}
	c.sess.Messages = msgs
	c.confirmed = true
	c.sink.Publish(HistoryReplaced{Messages: append([]Message(nil), msgs...)})
}

func (c *Controller) onNewMessage(ev protocol.NewMessage) {
	if !c.sess.State.Identified() {
		c.logger.Debug().Str("state", c.sess.State.String()).Msg("new_message ignored without session")
		return
	}
	m := messageFromWire(ev.Message)
	c.sess.Messages = append(c.sess.Messages, m)
	c.sink.Publish(MessageAppended{Message: m})
}

func (c *Controller) onAgentAssigned(ev protocol.AgentAssigned) {
	if !c.sess.State.Identified() {
		c.logger.Debug().Str("state", c.sess.State.String()).Msg("agent_assigned ignored without session")
		return
	}
	c.sess.AgentName = ev.AgentName
	if c.sess.State == StateQueued {
		c.setState(StateActive)
	}
	text := noticeAssignedText
	if name := strings.TrimSpace(ev.AgentName); name != "" {
		text = fmt.Sprintf("%s has joined the chat.", name)
	}
	c.sink.Publish(SystemNotice{Kind: NoticeAgentJoined, Text: text})
}

func (c *Controller) onChatClosed(ev protocol.ChatClosed) {
	if c.expectClosed > 0 {
		c.expectClosed--
		c.logger.Debug().Msg("closure of an orphaned chat ignored")
		return
	}
	switch c.sess.State {
	case StateQueued, StateActive:
		c.logger.Info().Str("session_id", c.sess.SessionID).Str("msg", ev.Msg).Msg("chat closed by server")
		c.purge()
		c.sess.SessionID = ""
		c.resumeID = ""
		c.confirmed = true
		c.setState(StateClosed)
		c.sink.Publish(SystemNotice{Kind: NoticeChatEnded, Text: strings.TrimSpace(noticeEndedText + " " + ev.Msg)})
		c.sink.Publish(RestartOffered{})
	case StateNoSession:
		// Only the chat id goes; a name typed for a new chat stays.
		c.forgetSessionID()
		c.resumeID = ""
	default:
		c.logger.Debug().Str("state", c.sess.State.String()).Msg("chat_closed ignored")
	}
}

func (c *Controller) setState(to State) {
	from := c.sess.State
	c.sess.State = to
	if from != to {
		c.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
		c.sink.Publish(StateChanged{From: from, To: to, SessionID: c.sess.SessionID})
	}
	c.publishControls()
}

func (c *Controller) currentControls() ControlsChanged {
	return ControlsChanged{
		StartEnabled: c.sess.State == StateNoSession,
		SendEnabled:  c.sess.State.Identified(),
	}
}

func (c *Controller) publishControls() {
	ctl := c.currentControls()
	if c.controls != nil && *c.controls == ctl {
		return
	}
	c.controls = &ctl
	c.sink.Publish(ctl)
}

func (c *Controller) stopTimer() {
	if c.pending != nil && c.pending.timer != nil {
		c.pending.timer.Stop()
	}
}

func (c *Controller) persist(key, value string) {
	if err := c.store.Set(c.ctx, key, value); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to persist session state")
	}
}

func (c *Controller) purge() {
	if err := sessionstore.PurgeIdentity(c.ctx, c.store, c.projectID); err != nil {
		c.logger.Error().Err(err).Msg("failed to purge persisted session")
	}
}

func (c *Controller) forgetSessionID() {
	if err := c.store.Delete(c.ctx, sessionstore.SessionKey(c.projectID)); err != nil {
		c.logger.Error().Err(err).Msg("failed to forget persisted chat id")
	}
}
