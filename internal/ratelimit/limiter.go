// Package ratelimit provides in-process rate limiting using a fixed-window
// counter. The session core uses it to cap outbound call frames: the relay
// timer sets the cadence, and the limiter guarantees the cap holds even if
// overlapping transitions ever raced a second timer into existence.
package ratelimit

import (
	"sync"
	"time"
)

// Rule defines a rate limiting policy: the maximum number of actions allowed
// in the window, and the window duration.
type Rule struct {
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleFrames caps outbound call frames at 2 per second, just above the
// relay loop's ~1.5 fps cadence.
var RuleFrames = Rule{Limit: 2, Window: 1 * time.Second}

// Limiter performs rate limiting checks against a local counter. It is
// goroutine-safe.
type Limiter struct {
	rule Rule

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewLimiter creates a Limiter enforcing the given rule.
func NewLimiter(rule Rule) *Limiter {
	return &Limiter{rule: rule}
}

// Allow checks whether one more action fits in the current window. It
// increments the counter; the first action of a window defines the window
// boundary.
func (l *Limiter) Allow() bool {
	return l.allowAt(time.Now())
}

// allowAt is the clock-injected implementation backing Allow.
func (l *Limiter) allowAt(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.windowStart) >= l.rule.Window {
		l.windowStart = now
		l.count = 0
	}

	l.count++
	return l.count <= l.rule.Limit
}

// Remaining returns the number of actions left in the current window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.windowStart) >= l.rule.Window {
		return l.rule.Limit
	}
	remaining := l.rule.Limit - l.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
