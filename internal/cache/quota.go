package cache

import (
	"fmt"
	"sync"
	"time"
)

// QuotaMirror is a short-lived mirror of per-user daily token totals, keyed
// by (user, day). Entries expire a fixed interval after insertion regardless
// of access. It is a write-through hint only; the durable ledger stays
// authoritative on every enforcement decision.
type QuotaMirror struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]quotaEntry
	now     func() time.Time
}

type quotaEntry struct {
	tokens     int
	insertedAt time.Time
}

// NewQuotaMirror creates a mirror whose entries expire ttl after insertion.
func NewQuotaMirror(ttl time.Duration) *QuotaMirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &QuotaMirror{
		ttl:     ttl,
		entries: make(map[string]quotaEntry),
		now:     time.Now,
	}
}

// SetClock overrides the mirror's notion of now. Test helper.
func (q *QuotaMirror) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func quotaKey(userID int64, day string) string {
	return fmt.Sprintf("%d\x00%s", userID, day)
}

// Get returns the last-known token total for (userID, day), expiring the
// entry lazily if its TTL has elapsed.
func (q *QuotaMirror) Get(userID int64, day string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := quotaKey(userID, day)
	entry, ok := q.entries[key]
	if !ok {
		return 0, false
	}
	if q.now().Sub(entry.insertedAt) >= q.ttl {
		delete(q.entries, key)
		return 0, false
	}
	return entry.tokens, true
}

// Set records the token total for (userID, day). The TTL restarts from this
// insertion.
func (q *QuotaMirror) Set(userID int64, day string, tokens int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[quotaKey(userID, day)] = quotaEntry{tokens: tokens, insertedAt: q.now()}
}

// Sweep drops all expired entries. Call periodically.
func (q *QuotaMirror) Sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for key, entry := range q.entries {
		if now.Sub(entry.insertedAt) >= q.ttl {
			delete(q.entries, key)
		}
	}
}
