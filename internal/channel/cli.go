package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/format"
)

const (
	cliChannelName = "cli"
	cliChatID      = "direct"
)

var _ domain.Channel = (*CLI)(nil)

// CLI implements domain.Channel for interactive terminal chat against the backend.
type CLI struct {
	userID string
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	seq    int

	outMu sync.Mutex
	out   io.Writer

	// thinkMu guards the spinner state and is taken before outMu.
	thinkMu   sync.Mutex
	pending   int
	thinking  bool
	thinkStop chan struct{}
}

type CLIConfig struct {
	UserID string // backend conversation id (default "cli")
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.UserID == "" {
		cfg.UserID = "cli"
	}
	return &CLI{
		userID: cfg.UserID,
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return cliChannelName }

// Start runs the REPL and blocks until EOF, /quit or ctx is cancelled.
// Replies are printed without MarkdownV2 escapes.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(cliChannelName, func(msg domain.OutboundMessage) {
		c.printf("\r\033[Kbot> %s\n", format.UnescapeMarkdownV2(msg.Content))
	})

	c.printf("relaybot chat as %q. /delete or /clear resets the conversation, /quit exits.\n", c.userID)
	c.printf("you> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.printf("you> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.seq++
		c.beginTurn()
		err := c.bus.Publish(ctx, domain.ChatEvent{
			ID:        uuid.NewString(),
			Channel:   cliChannelName,
			UserID:    c.userID,
			ChatID:    cliChatID,
			MessageID: strconv.Itoa(c.seq),
			Content:   domain.TextContent{Text: line},
			Timestamp: time.Now(),
			Done:      c.endTurn,
		})
		if err != nil {
			c.endTurn()
			c.logger.Warn("cli message not queued", "err", err)
			return nil
		}
	}
}

func (c *CLI) printf(layout string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, layout, args...)
}

// beginTurn marks one more message as waiting on the relay and starts the
// spinner if it is not already running.
func (c *CLI) beginTurn() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	c.pending++
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go c.spin(c.thinkStop)
}

// endTurn runs when the relay is done with a message, reply or not. The
// spinner stops and the prompt comes back once nothing is pending.
func (c *CLI) endTurn() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.pending > 0 {
		c.pending--
	}
	if c.pending > 0 || !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	c.printf("\r\033[Kyou> ")
}

func (c *CLI) spin(stop <-chan struct{}) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.thinkMu.Lock()
		select {
		case <-stop:
			c.thinkMu.Unlock()
			return
		default:
		}
		c.printf("\r%s waiting for backend...", frames[i%len(frames)])
		c.thinkMu.Unlock()
	}
}

// Stop is a no-op; the channel exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.out, format.UnescapeMarkdownV2(content))
	return err
}
