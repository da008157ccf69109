package domain

import "time"

// ChatEvent is one inbound user message as delivered by a channel.
type ChatEvent struct {
	ID        string // correlation id assigned on receipt
	Channel   string
	UserID    string
	ChatID    string
	MessageID string
	Content   Content
	Timestamp time.Time

	// Done, when set, is called once the relay has finished with the event,
	// whether or not a reply was sent.
	Done func()
}

// Content is the payload of a ChatEvent. It is either TextContent or PhotoContent.
type Content interface {
	Kind() ContentKind
}

type ContentKind string

const (
	KindText  ContentKind = "text"
	KindPhoto ContentKind = "photo"
)

type TextContent struct {
	Text string
}

func (TextContent) Kind() ContentKind { return KindText }

// PhotoContent references the largest size of an uploaded photo.
type PhotoContent struct {
	Caption string
	FileID  string
}

func (PhotoContent) Kind() ContentKind { return KindPhoto }

type OutboundMessage struct {
	Channel        string
	ChatID         string
	Content        string
	ParseMode      string // "" | "MarkdownV2"
	DisablePreview bool
	Typing         bool // show a typing indicator before delivering Content
}
