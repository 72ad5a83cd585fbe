package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/szaher/chatgate/internal/llm"
)

const welcomeText = "🤖 *Chat Gateway Bot*\n\n" +
	"Your conversation is stored durably between messages.\n" +
	"Send /clear to start a fresh conversation.\n" +
	"Send /history to review recent turns.\n" +
	"Send /tokens to check today's token usage."

// HandleStart resets the conversation and greets the user. The system
// turn is seeded on the next regular message.
func (o *Orchestrator) HandleStart(ctx context.Context, userID, chatID int64) {
	if err := o.store.ClearConversation(ctx, userID); err != nil {
		o.logger.Error("start: clear conversation", "user_id", userID, "error", err)
		o.send(ctx, chatID, "⚠️ *Something went wrong*. Please try again later.")
		return
	}
	o.send(ctx, chatID, welcomeText)
}

func (o *Orchestrator) HandleReset(ctx context.Context, userID, chatID int64) {
	if err := o.store.ClearConversation(ctx, userID); err != nil {
		o.logger.Error("reset: clear conversation", "user_id", userID, "error", err)
		o.send(ctx, chatID, "⚠️ *Something went wrong*. Please try again later.")
		return
	}
	o.send(ctx, chatID, "🔄 *Conversation has been reset*")
}

// HandleHistory shows the tail of the stored conversation, excerpted so
// the reply stays well under the outbound cap.
func (o *Orchestrator) HandleHistory(ctx context.Context, userID, chatID int64) {
	turns, err := o.store.RecentTurns(ctx, userID, 20)
	if err != nil {
		o.logger.Error("history: recent turns", "user_id", userID, "error", err)
		o.send(ctx, chatID, "⚠️ *Something went wrong*. Please try again later.")
		return
	}

	shown := make([]string, 0, 5)
	for _, turn := range turns {
		if turn.Role == llm.RoleSystem {
			continue
		}
		label := "AI"
		if turn.Role == llm.RoleUser {
			label = "You"
		}
		shown = append(shown, fmt.Sprintf("*%s:* %s", label, excerpt(escapeMarkup(turn.Content), 200)))
	}
	if len(shown) == 0 {
		o.send(ctx, chatID, "📜 *Conversation history is empty*")
		return
	}
	if len(shown) > 5 {
		shown = shown[len(shown)-5:]
	}
	o.send(ctx, chatID, "📜 *Recent conversation:*\n\n"+strings.Join(shown, "\n\n"))
}

func (o *Orchestrator) HandleQuota(ctx context.Context, userID, chatID int64) {
	used, err := o.completer.Usage(ctx, userID)
	if err != nil {
		o.logger.Error("quota: usage lookup", "user_id", userID, "error", err)
		o.send(ctx, chatID, "⚠️ *Something went wrong*. Please try again later.")
		return
	}
	limit := o.completer.DailyLimit()

	var pct float64
	if limit > 0 {
		pct = float64(used) / float64(limit) * 100
	}
	o.send(ctx, chatID, fmt.Sprintf(
		"🧮 *Daily token usage:*\n\n"+
			"• Tokens used today: %d\n"+
			"• Daily limit: %d\n"+
			"• Used: %.1f%%\n\n"+
			"Counters reset at midnight UTC.",
		used, limit, pct))
}

func (o *Orchestrator) HandleHelp(ctx context.Context, chatID int64) {
	o.send(ctx, chatID, welcomeText)
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
