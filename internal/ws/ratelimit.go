package ws

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// joinLimiter throttles join attempts per remote address with a
// sliding window, so a reconnect storm from one host cannot churn
// rooms for everyone else.
type joinLimiter struct {
	clock    clockwork.Clock
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func newJoinLimiter(clock clockwork.Clock, limit int, interval time.Duration) *joinLimiter {
	return &joinLimiter{
		clock:    clock,
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *joinLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}
