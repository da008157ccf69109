// Package bus carries chat events from channels to the relay and replies back.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

// ErrClosed is returned by Publish once Close has been called.
var ErrClosed = errors.New("bus closed")

// InMemoryBus queues inbound events on a buffered channel and routes
// outbound messages to one handler per channel name.
type InMemoryBus struct {
	inbound chan domain.ChatEvent
	done    chan struct{}

	// sendMu is held for reading by every in-progress send on inbound, so
	// Close can take it for writing before closing the channel.
	sendMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once

	handlersMu sync.RWMutex
	handlers   map[string]func(domain.OutboundMessage)

	logger *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.ChatEvent, bufferSize),
		done:     make(chan struct{}),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish queues ev, waiting as long as it takes for the relay to make room.
func (b *InMemoryBus) Publish(ctx context.Context, ev domain.ChatEvent) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	select {
	case b.inbound <- ev:
		return nil
	default:
	}

	b.logger.Warn("inbound queue full, waiting for a free worker",
		"event_id", ev.ID,
		"channel", ev.Channel,
		"queued", len(b.inbound),
	)
	select {
	case b.inbound <- ev:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.ChatEvent {
	return b.inbound
}

// SendOutbound delivers msg to the handler registered for msg.Channel.
// A panicking handler is logged and does not take the caller down.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.handlersMu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.handlersMu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("outbound handler panicked", "channel", msg.Channel, "panic", r)
		}
	}()
	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[channelName] = handler
}

// Close wakes blocked publishers and closes the inbound channel. Events
// already queued stay readable from Subscribe.
func (b *InMemoryBus) Close() {
	b.closeOnce.Do(func() { close(b.done) })

	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
