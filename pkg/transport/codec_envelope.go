package transport

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const EnvelopeCodecName = "envelope"

// EnvelopeCodec frames every event as {"event": name, "data": payload}. It has no
// handshake; keepalive relies on websocket control frames.
type EnvelopeCodec struct{}

var _ Codec = EnvelopeCodec{}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (EnvelopeCodec) Name() string { return EnvelopeCodecName }

func (EnvelopeCodec) Path() string { return "/ws" }

func (EnvelopeCodec) Handshake(MessageConn, time.Duration) (Handshake, error) {
	return Handshake{}, nil
}

func (EnvelopeCodec) EncodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "envelope: encode %s", event)
	}
	return json.Marshal(envelope{Event: event, Data: raw})
}

func (EnvelopeCodec) Decode(frame []byte) (Packet, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Packet{}, errors.Wrap(err, "envelope: decode frame")
	}
	if env.Event == "" {
		return Packet{}, errors.New("envelope: missing event name")
	}
	return Packet{Kind: PacketEvent, Event: env.Event, Data: env.Data}, nil
}

func (EnvelopeCodec) Pong() []byte { return nil }
