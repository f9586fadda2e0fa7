package signals

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cmr-widget/pkg/logging"
)

// Settings selects where mirrored signals go.
type Settings struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Topic   string `yaml:"topic" toml:"topic"`
}

// NewGoChannel returns an in-process pubsub, useful for local observers and tests. Publish
// waits for subscribers to ack each message, so observers see signals in publish order and
// must keep acking.
func NewGoChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, logging.NewWatermill(log.Logger))
}

// NewRedisPublisher publishes to Redis Streams at addr.
func NewRedisPublisher(addr string) (message.Publisher, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis signal publisher: empty addr")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logging.NewWatermill(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis signal publisher")
	}
	return pub, nil
}

var newStreamSubscriber = rstream.NewSubscriber

// NewRedisSubscriber reads mirrored signals from Redis Streams as consumer within group.
func NewRedisSubscriber(addr, group, consumer string) (message.Subscriber, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis signal subscriber: empty addr")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	sub, err := newStreamSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logging.NewWatermill(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis signal subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail makes sure group exists on the signal stream. A new group starts at the
// newest entry, so watchers only see signals published after they attach.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	switch {
	case err == nil:
		log.Debug().Str("component", "signals").Str("stream", stream).Str("group", group).Msg("signal consumer group created")
		return nil
	case strings.HasPrefix(err.Error(), "BUSYGROUP"):
		return nil
	default:
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
}

// NewMirror builds the watermill sink described by s, or nil when mirroring is disabled.
// The returned publisher must be closed by the caller.
func NewMirror(s Settings, projectID string) (*WatermillSink, message.Publisher, error) {
	if !s.Enabled {
		return nil, nil, nil
	}
	pub, err := NewRedisPublisher(s.Addr)
	if err != nil {
		return nil, nil, err
	}
	sink, err := NewWatermillSink(pub, s.Topic, projectID)
	if err != nil {
		_ = pub.Close()
		return nil, nil, err
	}
	return sink, pub, nil
}
