package handlers

import (
	"strings"
	"sync"
	"time"
)

// attemptLimiter throttles repeated attempts per key, such as registration code guesses per user.
type attemptLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// windowLimiter admits up to limit attempts per key in a fixed window.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu     sync.Mutex
	counts map[string]attemptWindow
}

type attemptWindow struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) attemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		counts: make(map[string]attemptWindow),
	}
}

// Allow counts an attempt. When the key is over its limit it reports false and the time left until
// the window resets.
func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.counts[key]
	if !ok || !now.Before(current.reset) {
		l.pruneLocked(now)
		l.counts[key] = attemptWindow{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.counts[key] = current
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.counts {
		if !now.Before(entry.reset) {
			delete(l.counts, key)
		}
	}
}
