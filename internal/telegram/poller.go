package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const pollTimeout = 30 * time.Second

// Handler receives routed inbound traffic. One method call per update;
// each runs in its own goroutine.
type Handler interface {
	HandleMessage(ctx context.Context, userID, chatID int64, text string)
	HandleStart(ctx context.Context, userID, chatID int64)
	HandleReset(ctx context.Context, userID, chatID int64)
	HandleHistory(ctx context.Context, userID, chatID int64)
	HandleQuota(ctx context.Context, userID, chatID int64)
	HandleHelp(ctx context.Context, chatID int64)
}

// Poller drives the getUpdates long-poll loop and dispatches each update
// to the handler.
type Poller struct {
	client  *Client
	handler Handler
	logger  *slog.Logger

	offset int64
}

func NewPoller(client *Client, handler Handler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, handler: handler, logger: logger}
}

// Run polls until the context is cancelled. In-flight handlers are waited
// for on shutdown. Poll failures are logged and retried with a short
// backoff; they never terminate the loop.
func (p *Poller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		updates, err := p.client.GetUpdates(ctx, p.offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("poll failed", "error", err)
			select {
			case <-time.After(3 * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, update := range updates {
			if update.UpdateID >= p.offset {
				p.offset = update.UpdateID + 1
			}
			msg := update.Message
			if msg == nil || msg.From == nil || msg.Text == "" {
				continue
			}
			wg.Add(1)
			go func(msg *IncomingMessage) {
				defer wg.Done()
				p.dispatch(ctx, msg)
			}(msg)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, msg *IncomingMessage) {
	userID, chatID := msg.From.ID, msg.Chat.ID

	cmd, ok := parseCommand(msg.Text)
	if !ok {
		p.handler.HandleMessage(ctx, userID, chatID, msg.Text)
		return
	}
	switch cmd {
	case "start":
		p.handler.HandleStart(ctx, userID, chatID)
	case "clear":
		p.handler.HandleReset(ctx, userID, chatID)
	case "history":
		p.handler.HandleHistory(ctx, userID, chatID)
	case "tokens":
		p.handler.HandleQuota(ctx, userID, chatID)
	case "help":
		p.handler.HandleHelp(ctx, chatID)
	default:
		p.handler.HandleHelp(ctx, chatID)
	}
}

// parseCommand extracts a leading slash command, tolerating the
// @botname suffix Telegram appends in group chats.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd, _, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	if cmd == "" {
		return "", false
	}
	return strings.ToLower(cmd), true
}
