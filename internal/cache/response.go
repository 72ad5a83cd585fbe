// Package cache provides the in-process caches shared by in-flight requests:
// an LRU of full completion payloads and a short-lived mirror of daily token
// totals. Both are safe for concurrent use.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/szaher/chatgate/internal/llm"
)

// ResponseCache maps (user, prompt) to a previously returned completion
// payload, with least-recently-used eviction at a fixed capacity. A hit
// short-circuits the remote call entirely; the original call already paid
// and recorded the token cost.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type responseEntry struct {
	key     string
	payload *llm.ChatResponse
}

// NewResponseCache creates a cache holding at most capacity entries.
func NewResponseCache(capacity int) *ResponseCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ResponseCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func responseKey(userID int64, prompt string) string {
	return fmt.Sprintf("%d\x00%s", userID, prompt)
}

// Get returns the cached payload for (userID, prompt) and marks it most
// recently used.
func (c *ResponseCache) Get(userID int64, prompt string) (*llm.ChatResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[responseKey(userID, prompt)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*responseEntry).payload, true
}

// Put stores the payload under (userID, prompt), evicting the least recently
// used entry when at capacity.
func (c *ResponseCache) Put(userID int64, prompt string, payload *llm.ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := responseKey(userID, prompt)
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*responseEntry).payload = payload
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*responseEntry).key)
		}
	}

	c.entries[key] = c.order.PushFront(&responseEntry{key: key, payload: payload})
}

// Len returns the current number of cached entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
