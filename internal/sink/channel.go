package sink

import (
	"sync"

	"telemetryd/internal/event"
	"telemetryd/internal/metrics"
)

// DefaultChannelBuffer is used when NewChannel gets a non-positive size.
const DefaultChannelBuffer = 256

// Channel hands events to an in-process consumer. Emit never blocks: when
// the buffer is full the event is dropped and ErrSinkFull returned.
//
// Channel is for programs that embed the samplers; the daemon has no
// in-process consumer, so it is not one of the configurable outputs.
type Channel struct {
	name    string
	metrics *metrics.TelemetryMetrics

	mu     sync.RWMutex
	ch     chan event.Event
	closed bool
}

// NewChannel creates a channel sink with the given buffer size. name labels
// drop counts in m, which may be nil.
func NewChannel(name string, buffer int, m *metrics.TelemetryMetrics) *Channel {
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	return &Channel{name: name, metrics: m, ch: make(chan event.Event, buffer)}
}

// C returns the receive side. It is closed by Close.
func (c *Channel) C() <-chan event.Event {
	return c.ch
}

// Emit enqueues e without waiting.
func (c *Channel) Emit(e event.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return event.ErrSinkClosed
	}
	select {
	case c.ch <- e:
		return nil
	default:
		c.metrics.SinkDropped(c.name)
		return event.ErrSinkFull
	}
}

// Close stops accepting events and closes the channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
