// Package signals delivers session lifecycle signals to presentation layers and external
// observers.
package signals

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cmr-widget/pkg/session"
)

// ChannelSink buffers signals for a consumer goroutine. When the buffer is full the signal
// is dropped with a warning rather than stalling the session loop.
type ChannelSink struct {
	ch     chan session.Signal
	mu     sync.Mutex
	closed bool
}

var _ session.Sink = &ChannelSink{}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan session.Signal, buffer)}
}

func (s *ChannelSink) C() <-chan session.Signal { return s.ch }

func (s *ChannelSink) Publish(sig session.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- sig:
	default:
		log.Warn().Str("component", "signals").Str("signal", sig.SignalType()).Msg("signal channel full, dropping")
	}
}

// Close closes the channel; later publishes are ignored.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Fanout forwards each signal to every sink in order.
type Fanout []session.Sink

func (f Fanout) Publish(sig session.Signal) {
	for _, s := range f {
		if s != nil {
			s.Publish(sig)
		}
	}
}
