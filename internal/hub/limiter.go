package hub

import (
	"sync"
	"time"
)

// submitLimit caps frame submissions per channel side per window.
// Drain polls are not limited; only POSTed frames count.
const (
	submitLimit  = 100
	submitWindow = time.Minute
)

// RateLimiter tracks per-sender submission rates with a fixed window
// per sender key (channel plus side).
type RateLimiter struct {
	mu      sync.Mutex
	senders map[string]*senderWindow
}

type senderWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{senders: make(map[string]*senderWindow)}
}

// Allow reports whether the sender may submit another frame now and
// counts it if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.senders[key]
	if !exists {
		rl.senders[key] = &senderWindow{count: 1, windowStart: now}
		return true
	}
	if now.Sub(w.windowStart) >= submitWindow {
		w.count = 1
		w.windowStart = now
		return true
	}
	if w.count >= submitLimit {
		return false
	}
	w.count++
	return true
}

// Cleanup drops senders idle for several windows so disposed channels
// do not accumulate state. Called periodically by the hub janitor.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, w := range rl.senders {
		if now.Sub(w.windowStart) > 5*submitWindow {
			delete(rl.senders, key)
		}
	}
}
