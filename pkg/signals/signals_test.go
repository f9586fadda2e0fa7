package signals

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/cmr-widget/pkg/session"
)

func TestChannelSink_DropsWhenFullAndIgnoresAfterClose(t *testing.T) {
	s := NewChannelSink(1)
	s.Publish(session.RestartOffered{})
	s.Publish(session.ConnectionChanged{Connected: true})
	require.Len(t, s.C(), 1)
	require.Equal(t, session.RestartOffered{}, <-s.C())

	s.Close()
	s.Close()
	s.Publish(session.RestartOffered{})
	_, ok := <-s.C()
	require.False(t, ok)
}

func TestFanout(t *testing.T) {
	a := NewChannelSink(4)
	var got []string
	f := Fanout{a, nil, session.SinkFunc(func(s session.Signal) { got = append(got, s.SignalType()) })}
	f.Publish(session.StateChanged{From: session.StateNoSession, To: session.StateStarting})
	require.Equal(t, []string{"state_changed"}, got)
	require.Len(t, a.C(), 1)
}

type received struct {
	env         Envelope
	err         error
	signalType  string
	projectMeta string
}

func TestWatermillSink_PublishesEnvelopesInOrder(t *testing.T) {
	pubsub := NewGoChannel()
	defer func() { _ = pubsub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, DefaultTopic)
	require.NoError(t, err)

	got := make(chan received, 16)
	go func() {
		for m := range msgs {
			env, err := DecodeMessage(m)
			got <- received{env: env, err: err, signalType: m.Metadata.Get("signal_type"), projectMeta: m.Metadata.Get("project_id")}
			m.Ack()
		}
	}()

	sink, err := NewWatermillSink(pubsub, "", "7")
	require.NoError(t, err)
	sink.Publish(session.StateChanged{From: session.StateStarting, To: session.StateQueued, SessionID: "42"})
	sink.Publish(session.MessageAppended{Message: session.Message{Text: "hi", SenderType: "agent"}})
	sink.Publish(session.SystemNotice{Kind: session.NoticeAgentJoined, Text: "Bob has joined the chat."})
	sink.Publish(session.StateChanged{From: session.StateQueued, To: session.StateActive, SessionID: "42"})

	var envs []Envelope
	for len(envs) < 4 {
		select {
		case r := <-got:
			require.NoError(t, r.err)
			require.Equal(t, r.env.Type, r.signalType)
			require.Equal(t, "7", r.projectMeta)
			envs = append(envs, r.env)
		case <-ctx.Done():
			t.Fatal("timed out waiting for signals")
		}
	}

	types := make([]string, 0, len(envs))
	for _, e := range envs {
		types = append(types, e.Type)
	}
	require.Equal(t, []string{"state_changed", "message_appended", "system_notice", "state_changed"}, types)

	var sc session.StateChanged
	require.NoError(t, json.Unmarshal(envs[0].Data, &sc))
	require.Equal(t, session.StateQueued, sc.To)
	require.Equal(t, "42", sc.SessionID)
	require.JSONEq(t, `{"message":{"text":"hi","sender_type":"agent"}}`, string(envs[1].Data))
}

func TestNewWatermillSink_RequiresPublisher(t *testing.T) {
	_, err := NewWatermillSink(nil, "", "7")
	require.Error(t, err)
}

func TestNewMirror_Disabled(t *testing.T) {
	sink, pub, err := NewMirror(Settings{}, "7")
	require.NoError(t, err)
	require.Nil(t, sink)
	require.Nil(t, pub)

	_, _, err = NewMirror(Settings{Enabled: true}, "7")
	require.Error(t, err)
}

func TestNewRedisSubscriber_ClosesClientOnError(t *testing.T) {
	var client redis.UniversalClient
	orig := newStreamSubscriber
	newStreamSubscriber = func(cfg rstream.SubscriberConfig, _ watermill.LoggerAdapter) (*rstream.Subscriber, error) {
		client = cfg.Client
		return nil, errors.New("bad config")
	}
	defer func() { newStreamSubscriber = orig }()

	_, err := NewRedisSubscriber("127.0.0.1:6379", "g", "c")
	require.ErrorContains(t, err, "redis signal subscriber")
	require.NotNil(t, client)
	require.ErrorIs(t, client.Ping(context.Background()).Err(), redis.ErrClosed)
}

func TestEnsureGroupAtTail_WrapsConnectionErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := EnsureGroupAtTail(ctx, "127.0.0.1:1", DefaultTopic, "watchers")
	require.ErrorContains(t, err, "create consumer group watchers on "+DefaultTopic)
}
