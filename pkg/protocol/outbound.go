package protocol

// Outbound is a client to server payload that knows its event name.
type Outbound interface {
	EventName() string
}

type CreateChat struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Message   string `json:"message"`
}

func (CreateChat) EventName() string { return EventCreateChat }

type JoinChat struct {
	ChatID ChatID `json:"chat_id"`
}

func (JoinChat) EventName() string { return EventJoinChat }

type ClientMessage struct {
	ChatID     ChatID `json:"chat_id"`
	Text       string `json:"message"`
	SenderName string `json:"sender_name"`
}

func (ClientMessage) EventName() string { return EventClientMessage }

type ClientEndChat struct {
	ChatID ChatID `json:"chat_id"`
}

func (ClientEndChat) EventName() string { return EventClientEndChat }

var (
	_ Outbound = CreateChat{}
	_ Outbound = JoinChat{}
	_ Outbound = ClientMessage{}
	_ Outbound = ClientEndChat{}
)
