// Package format renders backend text for Telegram's MarkdownV2 parse mode.
package format

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// EscapeMarkdownV2 turns literal "\n" sequences into newlines and then
// backslash-escapes every MarkdownV2 reserved character in a single pass.
// Backslashes themselves are left alone.
func EscapeMarkdownV2(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, `\n`, "\n")
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, text)
}

// reserved lists the characters EscapeMarkdownV2 prefixes with a backslash.
const reserved = "*_[]()~`>#+-=|{}.!"

// UnescapeMarkdownV2 drops the backslash in front of reserved characters.
// Used by plain-text channels that print replies built for Telegram.
func UnescapeMarkdownV2(text string) string {
	if !strings.Contains(text, `\`) {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '\\' && i+1 < len(text) && strings.IndexByte(reserved, text[i+1]) >= 0 {
			continue
		}
		sb.WriteByte(text[i])
	}
	return sb.String()
}
