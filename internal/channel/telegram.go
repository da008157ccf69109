package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	telegramChannelName = "telegram"
	defaultPollTimeout  = 30
)

var errTelegramNotConnected = errors.New("telegram bot is not connected")

var (
	_ domain.Channel      = (*Telegram)(nil)
	_ domain.FileResolver = (*Telegram)(nil)
)

// Telegram implements domain.Channel and domain.FileResolver for a Telegram bot.
type Telegram struct {
	token       string
	allowFrom   []int64 // empty = allow all
	pollTimeout int
	apiEndpoint string
	httpClient  *http.Client

	mu     sync.RWMutex
	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	AllowFrom   []string // user ids as strings
	PollTimeout int      // long polling timeout in seconds (default 30)
	APIEndpoint string   // optional Bot API endpoint format, e.g. "http://host/bot%s/%s"
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		} else {
			cfg.Logger.Warn("ignoring non-numeric telegram allow list entry", "entry", s)
		}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Telegram{
		token:       cfg.Token,
		allowFrom:   allowed,
		pollTimeout: cfg.PollTimeout,
		apiEndpoint: cfg.APIEndpoint,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return telegramChannelName }

// Connect authenticates the token with getMe. Start calls it when needed.
func (t *Telegram) Connect() (*tgbotapi.User, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.apiEndpoint, t.httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
	return &bot.Self, nil
}

func (t *Telegram) client() (*tgbotapi.BotAPI, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bot == nil {
		return nil, errTelegramNotConnected
	}
	return t.bot, nil
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := t.client()
	if err != nil {
		if _, err := t.Connect(); err != nil {
			return err
		}
		bot, _ = t.client()
	}
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(telegramChannelName, func(msg domain.OutboundMessage) {
		if err := t.deliver(msg); err != nil {
			metrics.SendFailures.Inc()
			t.logger.Error("telegram send failed", "chat_id", msg.ChatID, "err", err)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error { return nil }

// Send delivers plain text to chatID.
func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	return t.deliver(domain.OutboundMessage{ChatID: chatID, Content: content})
}

// FileURL resolves a Telegram file id to its download URL.
func (t *Telegram) FileURL(ctx context.Context, fileID string) (string, error) {
	bot, err := t.client()
	if err != nil {
		return "", err
	}
	file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("telegram getFile: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("telegram getFile: no file path for %s", fileID)
	}
	return file.Link(t.token), nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		if err := t.deliver(domain.OutboundMessage{
			ChatID:  strconv.FormatInt(msg.Chat.ID, 10),
			Content: "Unauthorized. Your user ID is not in the allow list.",
		}); err != nil {
			t.logger.Error("telegram send failed", "chat_id", msg.Chat.ID, "err", err)
		}
		return
	}

	ev, ok := eventFromMessage(msg)
	if !ok {
		t.logger.Debug("ignoring unsupported telegram message", "chat_id", msg.Chat.ID, "message_id", msg.MessageID)
		return
	}

	t.logger.Info("telegram message received",
		"event_id", ev.ID,
		"user_id", ev.UserID,
		"chat_id", ev.ChatID,
		"kind", ev.Content.Kind(),
	)
	if err := t.bus.Publish(ctx, ev); err != nil {
		t.logger.Warn("telegram message not queued", "event_id", ev.ID, "err", err)
	}
}

// eventFromMessage converts text and photo messages. Everything else is ignored.
func eventFromMessage(msg *tgbotapi.Message) (domain.ChatEvent, bool) {
	var content domain.Content
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		content = domain.PhotoContent{Caption: msg.Caption, FileID: largest.FileID}
	case msg.Text != "":
		content = domain.TextContent{Text: msg.Text}
	default:
		return domain.ChatEvent{}, false
	}

	return domain.ChatEvent{
		ID:        uuid.NewString(),
		Channel:   telegramChannelName,
		UserID:    strconv.FormatInt(msg.From.ID, 10),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}, true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// deliver sends an optional typing action followed by one message.
// The reply is sent as is: no splitting and no plain-text retry.
func (t *Telegram) deliver(out domain.OutboundMessage) error {
	bot, err := t.client()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(out.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", out.ChatID, err)
	}

	if out.Typing {
		if _, err := bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			t.logger.Warn("telegram typing action failed", "chat_id", chatID, "err", err)
		}
	}

	msg := tgbotapi.NewMessage(chatID, out.Content)
	msg.ParseMode = out.ParseMode
	msg.DisableWebPagePreview = out.DisablePreview
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
