package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/szaher/chatgate/internal/llm"
)

func payload(text string) *llm.ChatResponse {
	return &llm.ChatResponse{Content: text}
}

func TestResponseCacheGetPut(t *testing.T) {
	c := NewResponseCache(10)

	if _, ok := c.Get(1, "hello"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Put(1, "hello", payload("hi"))

	got, ok := c.Get(1, "hello")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.Content != "hi" {
		t.Errorf("Content = %q, want 'hi'", got.Content)
	}
}

func TestResponseCacheKeyIncludesUser(t *testing.T) {
	c := NewResponseCache(10)
	c.Put(1, "hello", payload("for user 1"))

	if _, ok := c.Get(2, "hello"); ok {
		t.Error("expected miss for a different user with the same prompt")
	}
}

func TestResponseCacheEvictsLRU(t *testing.T) {
	c := NewResponseCache(3)

	c.Put(1, "a", payload("a"))
	c.Put(1, "b", payload("b"))
	c.Put(1, "c", payload("c"))

	// Touch "a" so "b" becomes least recently used.
	c.Get(1, "a")

	c.Put(1, "d", payload("d"))

	if _, ok := c.Get(1, "b"); ok {
		t.Error("expected LRU entry 'b' to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(1, key); !ok {
			t.Errorf("expected %q to survive eviction", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestResponseCachePutExistingUpdates(t *testing.T) {
	c := NewResponseCache(2)

	c.Put(1, "a", payload("old"))
	c.Put(1, "a", payload("new"))

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 after re-Put of same key", c.Len())
	}
	got, _ := c.Get(1, "a")
	if got.Content != "new" {
		t.Errorf("Content = %q, want 'new'", got.Content)
	}
}

func TestResponseCacheCapacityBound(t *testing.T) {
	c := NewResponseCache(100)
	for i := 0; i < 250; i++ {
		c.Put(1, fmt.Sprintf("prompt-%d", i), payload("x"))
	}
	if c.Len() != 100 {
		t.Errorf("Len = %d, want capacity bound 100", c.Len())
	}
}

func TestQuotaMirrorSetGet(t *testing.T) {
	q := NewQuotaMirror(24 * time.Hour)

	if _, ok := q.Get(1, "2025-03-01"); ok {
		t.Error("expected miss on empty mirror")
	}

	q.Set(1, "2025-03-01", 1234)

	got, ok := q.Get(1, "2025-03-01")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got != 1234 {
		t.Errorf("tokens = %d, want 1234", got)
	}
}

func TestQuotaMirrorExpiresAfterTTL(t *testing.T) {
	q := NewQuotaMirror(24 * time.Hour)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })
	q.Set(1, "2025-03-01", 500)

	// Just under the TTL the entry is still visible.
	now = now.Add(24*time.Hour - time.Minute)
	if _, ok := q.Get(1, "2025-03-01"); !ok {
		t.Error("expected hit just under the TTL")
	}

	// At the TTL the entry expires regardless of the access above.
	now = now.Add(2 * time.Minute)
	if _, ok := q.Get(1, "2025-03-01"); ok {
		t.Error("expected expiry 24h after insertion")
	}
}

func TestQuotaMirrorSweep(t *testing.T) {
	q := NewQuotaMirror(time.Hour)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })

	q.Set(1, "2025-03-01", 100)
	now = now.Add(30 * time.Minute)
	q.Set(2, "2025-03-01", 200)

	now = now.Add(45 * time.Minute) // user 1 expired, user 2 not
	q.Sweep()

	if _, ok := q.Get(1, "2025-03-01"); ok {
		t.Error("expected user 1's entry to be swept")
	}
	if _, ok := q.Get(2, "2025-03-01"); !ok {
		t.Error("expected user 2's entry to survive the sweep")
	}
}
