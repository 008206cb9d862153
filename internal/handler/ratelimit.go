package handler

import (
	"strings"
	"sync"
	"time"
)

// Fixed window counters, per process. Enough for a single instance.

type bucket struct {
	window time.Time
	count  int
}

type rateLimiter struct {
	mu    sync.Mutex
	limit int
	per   time.Duration
	data  map[string]bucket
	// swept is the window of the last eviction pass.
	swept time.Time
}

func newRateLimiter(limit int, per time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, per: per, data: make(map[string]bucket)}
}

// allow reports whether key is still within its limit at now.
// A limiter with a non-positive limit allows everything.
func (rl *rateLimiter) allow(key string, now time.Time) bool {
	if rl.limit <= 0 || key == "" {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	win := now.Truncate(rl.per)
	b, ok := rl.data[key]
	if !ok || b.window.Before(win) {
		rl.data[key] = bucket{window: win, count: 1}
		if win.After(rl.swept) {
			rl.evict(win)
			rl.swept = win
		}
		return true
	}
	if b.count >= rl.limit {
		return false
	}
	b.count++
	rl.data[key] = b
	return true
}

// evict drops buckets from past windows. Runs at most once per window.
// Caller holds mu.
func (rl *rateLimiter) evict(current time.Time) {
	for k, b := range rl.data {
		if b.window.Before(current) {
			delete(rl.data, k)
		}
	}
}

func keyEmail(email string) string {
	e := strings.TrimSpace(strings.ToLower(email))
	if e == "" {
		return ""
	}
	return "email:" + e
}

func keyIP(ip string) string {
	if ip == "" {
		return ""
	}
	return "ip:" + ip
}
