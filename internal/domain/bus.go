package domain

import "context"

// MessageBus routes messages between channels and the relay.
type MessageBus interface {
	// Publish blocks until ev is queued. It fails only when the bus is
	// closed or ctx is done; events are never dropped.
	Publish(ctx context.Context, ev ChatEvent) error
	Subscribe() <-chan ChatEvent
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
