package signals

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cmr-widget/pkg/session"
)

// DefaultTopic is the topic lifecycle signals are published on.
const DefaultTopic = "cmr.widget.signals"

// Envelope is the JSON body of a published signal.
type Envelope struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	Data      json.RawMessage `json:"data"`
}

// WatermillSink publishes every signal as a watermill message. Publish failures are logged
// and never reach the session.
type WatermillSink struct {
	pub       message.Publisher
	topic     string
	projectID string
	logger    zerolog.Logger
}

var _ session.Sink = &WatermillSink{}

func NewWatermillSink(pub message.Publisher, topic string, projectID string) (*WatermillSink, error) {
	if pub == nil {
		return nil, errors.New("watermill sink: nil publisher")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillSink{
		pub:       pub,
		topic:     topic,
		projectID: projectID,
		logger:    log.With().Str("component", "signals").Str("topic", topic).Logger(),
	}, nil
}

func (s *WatermillSink) Publish(sig session.Signal) {
	msg, err := EncodeMessage(s.projectID, sig)
	if err != nil {
		s.logger.Error().Err(err).Str("signal", sig.SignalType()).Msg("failed to encode signal")
		return
	}
	if err := s.pub.Publish(s.topic, msg); err != nil {
		s.logger.Warn().Err(err).Str("signal", sig.SignalType()).Msg("failed to publish signal")
	}
}

// EncodeMessage wraps sig in an Envelope message with a fresh uuid.
func EncodeMessage(projectID string, sig session.Signal) (*message.Message, error) {
	data, err := json.Marshal(sig)
	if err != nil {
		return nil, errors.Wrap(err, "marshal signal")
	}
	body, err := json.Marshal(Envelope{Type: sig.SignalType(), ProjectID: projectID, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}
	msg := message.NewMessage(uuid.NewString(), body)
	msg.Metadata.Set("signal_type", sig.SignalType())
	msg.Metadata.Set("project_id", projectID)
	return msg, nil
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(msg *message.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode signal envelope")
	}
	return env, nil
}
