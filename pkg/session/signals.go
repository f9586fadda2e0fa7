package session

// Signal is a lifecycle notification for the presentation layer.
type Signal interface {
	SignalType() string
}

// Sink receives signals on the controller goroutine. Implementations must not block.
type Sink interface {
	Publish(Signal)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Signal)

func (f SinkFunc) Publish(s Signal) { f(s) }

type nopSink struct{}

func (nopSink) Publish(Signal) {}

type NoticeKind string

const (
	NoticeQueued      NoticeKind = "queued"
	NoticeAgentJoined NoticeKind = "agent_joined"
	NoticeChatEnded   NoticeKind = "chat_ended"
)

type AlertKind string

const (
	AlertTimeout  AlertKind = "timeout"
	AlertProtocol AlertKind = "protocol"
)

type StateChanged struct {
	From      State  `json:"from"`
	To        State  `json:"to"`
	SessionID string `json:"session_id,omitempty"`
}

type ControlsChanged struct {
	StartEnabled bool `json:"start_enabled"`
	SendEnabled  bool `json:"send_enabled"`
}

// HistoryReplaced carries the complete new message log.
type HistoryReplaced struct {
	Messages []Message `json:"messages"`
}

type MessageAppended struct {
	Message Message `json:"message"`
}

// SystemNotice is an informational line that is not part of the message log.
type SystemNotice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// AlertRaised asks the presentation layer for a blocking notification.
type AlertRaised struct {
	Kind AlertKind `json:"kind"`
	Text string    `json:"text"`
}

type RestartOffered struct{}

type ConnectionChanged struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

func (StateChanged) SignalType() string      { return "state_changed" }
func (ControlsChanged) SignalType() string   { return "controls_changed" }
func (HistoryReplaced) SignalType() string   { return "history_replaced" }
func (MessageAppended) SignalType() string   { return "message_appended" }
func (SystemNotice) SignalType() string      { return "system_notice" }
func (AlertRaised) SignalType() string       { return "alert_raised" }
func (RestartOffered) SignalType() string    { return "restart_offered" }
func (ConnectionChanged) SignalType() string { return "connection_changed" }
