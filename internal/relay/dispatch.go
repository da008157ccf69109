package relay

import (
	"strings"

	"relaybot/internal/domain"
	"relaybot/internal/format"
	"relaybot/internal/metrics"
)

const parseModeMarkdownV2 = "MarkdownV2"

// Render escapes every chunk and joins them with no separator.
func Render(chunks []string) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(format.EscapeMarkdownV2(c))
	}
	return sb.String()
}

// Dispatcher hands rendered replies to the originating channel via the bus.
type Dispatcher struct {
	bus domain.MessageBus
}

func NewDispatcher(bus domain.MessageBus) *Dispatcher {
	return &Dispatcher{bus: bus}
}

// Dispatch renders chunks and sends one message to ev's chat.
// It returns false when the rendered reply is empty and nothing was sent.
func (d *Dispatcher) Dispatch(ev domain.ChatEvent, chunks []string) bool {
	reply := Render(chunks)
	if reply == "" {
		metrics.RepliesSkipped.Inc()
		return false
	}
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel:        ev.Channel,
		ChatID:         ev.ChatID,
		Content:        reply,
		ParseMode:      parseModeMarkdownV2,
		DisablePreview: true,
		Typing:         true,
	})
	metrics.RepliesSent.Inc()
	return true
}
