package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/VoiceMesh/internal/core"
)

// RateLimiter throttles chatty connections: at most limit events per
// interval, with bursts up to limit.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[core.SessionID]*rate.Limiter
	every    rate.Limit
	burst    int
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &RateLimiter{
		limiters: make(map[core.SessionID]*rate.Limiter),
		every:    rate.Every(interval / time.Duration(limit)),
		burst:    limit,
	}
}

// Allow reports whether sid may send now. A nil limiter allows everything.
func (rl *RateLimiter) Allow(sid core.SessionID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	l, ok := rl.limiters[sid]
	if !ok {
		l = rate.NewLimiter(rl.every, rl.burst)
		rl.limiters[sid] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func (rl *RateLimiter) Forget(sid core.SessionID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.limiters, sid)
	rl.mu.Unlock()
}
