// Package ratelimit implements per-identity sliding window admission control
// for the message pipeline.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter keeps, per identity, the timestamps of the accepted events within
// the current window. A single lock covers all identities; contention is low
// because the expensive work (AI provider calls) happens outside of it.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	history map[string][]time.Time

	now func() time.Time // overridable in tests
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// IsAllowed reports whether the identity may send another event. On rejection
// the returned detail tells the user how many seconds remain until the oldest
// retained event leaves the window.
func (l *Limiter) IsAllowed(identity string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	kept := l.history[identity][:0]
	for _, ts := range l.history[identity] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	l.history[identity] = kept

	if len(kept) >= l.limit {
		remaining := l.window - now.Sub(kept[0])
		return false, fmt.Sprintf("Rate limit exceeded. Please wait %d seconds.", int(remaining.Seconds()))
	}

	l.history[identity] = append(kept, now)
	return true, "OK"
}

// Reset clears the history of an identity, it is used as an administrative
// override and is not part of the message pipeline.
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, identity)
}

// Prune drops all identities whose complete history has left the window.
// Meant to be run periodically so that one-time senders do not accumulate.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	windowStart := l.now().Add(-l.window)
	for identity, timestamps := range l.history {
		stale := true
		for _, ts := range timestamps {
			if ts.After(windowStart) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.history, identity)
		}
	}
}
