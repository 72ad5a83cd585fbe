package store

import (
	"context"
	"sync"
	"time"

	"github.com/szaher/chatgate/internal/llm"
)

// Memory is an in-memory Store for tests and local development. It mirrors
// the Postgres implementation's semantics, including the turn/ledger
// atomicity and ledger survival across ClearConversation.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	turns  map[int64][]Turn
	ledger map[int64]map[string]int // userID → day → tokens
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		turns:  make(map[int64][]Turn),
		ledger: make(map[int64]map[string]int),
		now:    time.Now,
	}
}

// SetClock overrides the store's notion of now. Test helper.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AppendTurn inserts a turn and bumps today's ledger entry.
func (m *Memory) AppendTurn(_ context.Context, userID int64, role llm.Role, content string, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.turns[userID] = append(m.turns[userID], Turn{
		ID:        m.nextID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: m.now(),
		Tokens:    tokens,
	})

	days, ok := m.ledger[userID]
	if !ok {
		days = make(map[string]int)
		m.ledger[userID] = days
	}
	days[DayKey(m.now())] += tokens
	return nil
}

// RecentTurns returns at most limit most recent turns, oldest first.
func (m *Memory) RecentTurns(_ context.Context, userID int64, limit int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.turns[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	result := make([]Turn, len(all))
	copy(result, all)
	return result, nil
}

// ClearConversation removes all turns; the ledger is preserved.
func (m *Memory) ClearConversation(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, userID)
	return nil
}

// TodayUsage returns the current UTC day's ledger total.
func (m *Memory) TodayUsage(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger[userID][DayKey(m.now())], nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() {}
