package protocol

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecode_ChatCreatedAcceptsNumericChatID(t *testing.T) {
	ev, err := Decode(EventChatCreated, json.RawMessage(`{"chat_id": 42, "status": "assigned"}`))
	require.NoError(t, err)
	created, ok := ev.(ChatCreated)
	require.True(t, ok)
	require.Equal(t, ChatID("42"), created.ChatID)
	require.False(t, created.Queued())
}

func TestDecode_ChatCreatedAcceptsStringChatID(t *testing.T) {
	ev, err := Decode(EventChatCreated, json.RawMessage(`{"chat_id":"s1","status":"queued"}`))
	require.NoError(t, err)
	created := ev.(ChatCreated)
	require.Equal(t, ChatID("s1"), created.ChatID)
	require.True(t, created.Queued())
}

func TestDecode_ChatIDRejectsFractions(t *testing.T) {
	_, err := Decode(EventChatCreated, json.RawMessage(`{"chat_id": 1.5}`))
	require.Error(t, err)
}

func TestDecode_HistoryPreservesOrder(t *testing.T) {
	raw := `{"history":[
		{"message":"hi","sender_type":"customer","sender_name":"A"},
		{"message":"hello","sender_type":"agent","sender_name":"Bob"},
		{"message":"thanks","sender_type":"customer"}
	]}`
	ev, err := Decode(EventChatHistory, json.RawMessage(raw))
	require.NoError(t, err)
	h := ev.(ChatHistory)
	require.Len(t, h.History, 3)
	require.Equal(t, "hi", h.History[0].Text)
	require.Equal(t, SenderAgent, h.History[1].SenderType)
	require.Equal(t, "thanks", h.History[2].Text)
}

func TestDecode_EmptyPayloads(t *testing.T) {
	ev, err := Decode(EventChatClosed, nil)
	require.NoError(t, err)
	require.Equal(t, ChatClosed{}, ev)

	ev, err = Decode(EventChatHistory, json.RawMessage(`null`))
	require.NoError(t, err)
	require.NotNil(t, ev.(ChatHistory).History)
	require.Empty(t, ev.(ChatHistory).History)
}

func TestDecode_NewMessageAndErrors(t *testing.T) {
	ev, err := Decode(EventNewMessage, json.RawMessage(`{"message":"yo","sender_type":"agent","sender_name":"Bob"}`))
	require.NoError(t, err)
	require.Equal(t, NewMessage{Message: Message{Text: "yo", SenderType: SenderAgent, SenderName: "Bob"}}, ev)

	ev, err = Decode(EventChatError, json.RawMessage(`{"msg":"Project ID not found."}`))
	require.NoError(t, err)
	require.Equal(t, "Project ID not found.", ev.(ChatError).Msg)

	_, err = Decode(EventNewMessage, json.RawMessage(`[1,2]`))
	require.Error(t, err)
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode("dashboard_update", json.RawMessage(`{}`))
	require.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestOutbound_WireKeys(t *testing.T) {
	b, err := json.Marshal(CreateChat{ProjectID: "p1", Name: "A", Message: "hi"})
	require.NoError(t, err)
	require.JSONEq(t, `{"project_id":"p1","name":"A","email":"","message":"hi"}`, string(b))

	b, err = json.Marshal(ClientMessage{ChatID: "s1", Text: "yo", SenderName: "A"})
	require.NoError(t, err)
	require.JSONEq(t, `{"chat_id":"s1","message":"yo","sender_name":"A"}`, string(b))

	require.Equal(t, EventClientEndChat, ClientEndChat{}.EventName())
}
