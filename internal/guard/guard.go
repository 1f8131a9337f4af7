// Package guard holds the in-process admission checks: per-key rate limits
// and short-lived reentrancy flags.
package guard

import (
	"sync"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
)

// GuardConfig holds rate limits.
type GuardConfig struct {
	RateLimitPerMinute int
}

// Guard coordinates rate limits and reentrancy flags.
type Guard struct {
	Config GuardConfig
	Clock  clock.Clock

	mu         sync.Mutex
	rateCounts map[string]*rateBucket
	inFlight   map[string]bool
}

type rateBucket struct {
	count       int
	windowStart int64
}

// NewGuard creates a Guard with the given config.
func NewGuard(clk clock.Clock, cfg GuardConfig) *Guard {
	return &Guard{
		Config:     cfg,
		Clock:      clk,
		rateCounts: make(map[string]*rateBucket),
		inFlight:   make(map[string]bool),
	}
}

// CheckRateLimit enforces a per-key fixed window rate limit.
// The window is 60 seconds. If the count exceeds the configured limit,
// ErrRateLimitExceeded is returned. A non-positive limit disables the check.
func (g *Guard) CheckRateLimit(key string) error {
	if g.Config.RateLimitPerMinute <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.Clock.Now().Unix()
	bucket, ok := g.rateCounts[key]
	if !ok {
		g.rateCounts[key] = &rateBucket{count: 1, windowStart: now}
		return nil
	}

	if now-bucket.windowStart > 60 {
		bucket.count = 1
		bucket.windowStart = now
		return nil
	}

	if bucket.count >= g.Config.RateLimitPerMinute {
		return domain.ErrRateLimitExceeded
	}

	bucket.count++
	return nil
}

// TryAcquire raises the reentrancy flag for key. It returns false, and a
// no-op release, if the flag is already raised by another caller.
func (g *Guard) TryAcquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[key] {
		return func() {}, false
	}
	g.inFlight[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, true
}
