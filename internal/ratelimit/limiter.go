// Package ratelimit implements per-user sliding-window request admission.
package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds sliding-window settings.
type Config struct {
	// Capacity is the number of requests admitted per window.
	Capacity int
	// Window is the trailing interval the capacity applies to.
	Window time.Duration
}

// DefaultConfig returns the default admission settings: 5 requests per
// trailing 60 seconds.
func DefaultConfig() Config {
	return Config{Capacity: 5, Window: 60 * time.Second}
}

// ConfigFromEnv reads limiter config from the CHATGATE_RATE_LIMIT env var.
// Format: "capacity:windowSeconds" (e.g., "5:60").
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	val := os.Getenv("CHATGATE_RATE_LIMIT")
	if val == "" {
		return cfg
	}

	parts := strings.SplitN(val, ":", 2)
	if cap, err := strconv.Atoi(parts[0]); err == nil && cap > 0 {
		cfg.Capacity = cap
	}
	if len(parts) > 1 {
		if secs, err := strconv.Atoi(parts[1]); err == nil && secs > 0 {
			cfg.Window = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

// Limiter admits or rejects requests per user based on a sliding window of
// recent request timestamps. State is in-memory only; a restart clears all
// windows, which is acceptable because the limiter only throttles bursts.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	windows map[int64][]time.Time
}

// New creates a limiter with the given configuration.
func New(config Config) *Limiter {
	if config.Capacity <= 0 {
		config.Capacity = 5
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	return &Limiter{
		config:  config,
		windows: make(map[int64][]time.Time),
	}
}

// Admit prunes timestamps older than now minus the window and, if fewer than
// Capacity remain, records now and admits the request. Rejected requests are
// not recorded. The check-and-record is atomic under the limiter's mutex.
func (l *Limiter) Admit(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.config.Window)
	window := l.windows[userID]

	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.config.Capacity {
		l.windows[userID] = kept
		return false
	}

	l.windows[userID] = append(kept, now)
	return true
}

// Sweep removes users whose entire window has expired. Call periodically to
// bound memory growth.
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.config.Window)
	for userID, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, userID)
		}
	}
}
