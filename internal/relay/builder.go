package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relaybot/internal/domain"
)

// DefaultImageQuery is sent when a photo arrives without a caption.
const DefaultImageQuery = "What insights can you provide about this image?"

var errNoFileResolver = errors.New("photo received but no file resolver is configured")

// Plan is what the relay will ask of the backend for one event.
type Plan struct {
	Delete  bool
	UserID  string
	Request domain.OutboundRequest
}

// Builder turns chat events into backend plans.
type Builder struct {
	files domain.FileResolver
}

// NewBuilder returns a Builder. files may be nil for channels that never carry photos.
func NewBuilder(files domain.FileResolver) *Builder {
	return &Builder{files: files}
}

// IsDeleteCommand reports whether text asks to reset the conversation.
func IsDeleteCommand(text string) bool {
	switch strings.TrimSpace(text) {
	case "/delete", "/clear":
		return true
	}
	return false
}

// Build derives the plan for ev. Photo file ids are resolved to download URLs.
func (b *Builder) Build(ctx context.Context, ev domain.ChatEvent) (Plan, error) {
	plan := Plan{
		UserID:  ev.UserID,
		Request: domain.OutboundRequest{MessageID: ev.MessageID},
	}

	switch c := ev.Content.(type) {
	case domain.TextContent:
		if IsDeleteCommand(c.Text) {
			plan.Delete = true
			return plan, nil
		}
		plan.Request.Query = c.Text

	case domain.PhotoContent:
		if b.files == nil {
			return Plan{}, errNoFileResolver
		}
		url, err := b.files.FileURL(ctx, c.FileID)
		if err != nil {
			return Plan{}, fmt.Errorf("resolve photo %s: %w", c.FileID, err)
		}
		plan.Request.Query = c.Caption
		if plan.Request.Query == "" {
			plan.Request.Query = DefaultImageQuery
		}
		plan.Request.Image = true
		plan.Request.ImageURL = url

	default:
		return Plan{}, fmt.Errorf("unsupported content %T", ev.Content)
	}
	return plan, nil
}
