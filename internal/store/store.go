// Package store defines durable persistence for conversation turns and the
// per-user daily token ledger.
package store

import (
	"context"
	"time"

	"github.com/szaher/chatgate/internal/llm"
)

// Turn is a single persisted conversation message.
type Turn struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Tokens    int       `json:"tokens"`
}

// Message converts the turn to the wire message shape.
func (t Turn) Message() llm.Message {
	return llm.Message{Role: t.Role, Content: t.Content}
}

// DayKey formats a timestamp as the UTC calendar day used by the ledger.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Store persists conversation turns and daily token totals. The ledger is
// authoritative for quota enforcement; caches may mirror it but never
// replace it.
type Store interface {
	// AppendTurn inserts a turn and increments today's ledger entry for the
	// user by tokens, creating the entry if absent. Both writes are applied
	// as one unit.
	AppendTurn(ctx context.Context, userID int64, role llm.Role, content string, tokens int) error

	// RecentTurns returns at most limit most recent turns for the user,
	// ordered oldest first.
	RecentTurns(ctx context.Context, userID int64, limit int) ([]Turn, error)

	// ClearConversation deletes all turns for the user. The ledger is left
	// untouched; token history survives conversation resets.
	ClearConversation(ctx context.Context, userID int64) error

	// TodayUsage returns the user's ledger total for the current UTC day,
	// 0 if no entry exists.
	TodayUsage(ctx context.Context, userID int64) (int, error)

	// Close releases the underlying resources.
	Close()
}
