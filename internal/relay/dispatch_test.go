package relay

import (
	"context"
	"sync"
	"testing"

	"relaybot/internal/domain"
)

// recordingBus captures outbound messages and ignores inbound traffic.
type recordingBus struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func (b *recordingBus) Publish(context.Context, domain.ChatEvent) error { return nil }
func (b *recordingBus) Subscribe() <-chan domain.ChatEvent { return nil }
func (b *recordingBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (b *recordingBus) Close() {}
func (b *recordingBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
}

func (b *recordingBus) messages() []domain.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OutboundMessage(nil), b.sent...)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"none", nil, ""},
		{"single", []string{"Hi there!"}, `Hi there\!`},
		{"joined without separator", []string{"Hi there", "!"}, `Hi there\!`},
		{"escape per chunk", []string{"a.", "(b)"}, `a\.\(b\)`},
		{"literal newline", []string{`line1\nline2`}, "line1\nline2"},
		{"backslash kept", []string{`C:\dir`}, `C:\dir`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.chunks); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.chunks, got, tt.want)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	bus := &recordingBus{}
	d := NewDispatcher(bus)
	ev := domain.ChatEvent{Channel: "telegram", ChatID: "555"}

	if !d.Dispatch(ev, []string{"ok."}) {
		t.Fatal("expected a message to be sent")
	}
	msgs := bus.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	want := domain.OutboundMessage{
		Channel:        "telegram",
		ChatID:         "555",
		Content:        `ok\.`,
		ParseMode:      "MarkdownV2",
		DisablePreview: true,
		Typing:         true,
	}
	if msgs[0] != want {
		t.Errorf("message = %+v, want %+v", msgs[0], want)
	}
}

func TestDispatch_EmptyReply(t *testing.T) {
	bus := &recordingBus{}
	if NewDispatcher(bus).Dispatch(domain.ChatEvent{Channel: "telegram"}, nil) {
		t.Error("empty reply reported as sent")
	}
	if len(bus.messages()) != 0 {
		t.Error("no message should be sent for an empty reply")
	}
}
