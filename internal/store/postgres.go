package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/szaher/chatgate/internal/llm"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	tokens     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS token_usage (
	user_id     BIGINT NOT NULL,
	date        DATE NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, date)
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id);
CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations (created_at);
`

// Postgres implements Store backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres connects to the database and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Postgres{pool: pool, now: time.Now}, nil
}

// AppendTurn inserts the turn and updates the ledger in a single transaction,
// so a crash cannot leave a persisted turn unaccounted for.
func (p *Postgres) AppendTurn(ctx context.Context, userID int64, role llm.Role, content string, tokens int) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (user_id, role, content, tokens) VALUES ($1, $2, $3, $4)`,
		userID, string(role), content, tokens,
	); err != nil {
		return fmt.Errorf("store: insert turn: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO token_usage (user_id, date, tokens_used) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, date) DO UPDATE SET tokens_used = token_usage.tokens_used + EXCLUDED.tokens_used`,
		userID, DayKey(p.now()), tokens,
	); err != nil {
		return fmt.Errorf("store: update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// RecentTurns returns the limit most recent turns, oldest first.
func (p *Postgres) RecentTurns(ctx context.Context, userID int64, limit int) ([]Turn, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, role, content, created_at, tokens
		 FROM conversations WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&t.ID, &t.UserID, &role, &t.Content, &t.CreatedAt, &t.Tokens); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		t.Role = llm.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate turns: %w", err)
	}

	// Query returns newest first; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ClearConversation deletes all turns for the user.
func (p *Postgres) ClearConversation(ctx context.Context, userID int64) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM conversations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("store: clear conversation: %w", err)
	}
	return nil
}

// TodayUsage returns the current UTC day's ledger total.
func (p *Postgres) TodayUsage(ctx context.Context, userID int64) (int, error) {
	var used int
	err := p.pool.QueryRow(ctx,
		`SELECT tokens_used FROM token_usage WHERE user_id = $1 AND date = $2`,
		userID, DayKey(p.now()),
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: query ledger: %w", err)
	}
	return used, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
