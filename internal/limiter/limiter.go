package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Verdict is the outcome of Allow.
type Verdict int

const (
	Allowed Verdict = iota
	Limited         // over the token bucket this time
	Banned          // too many violations, rejected until the ban expires
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Limited:
		return "rate"
	default:
		return "banned"
	}
}

// client tracks rate limiting state for one key
type client struct {
	bucket      *rate.Limiter
	violations  int
	bannedUntil time.Time
	lastSeen    time.Time
}

// RateLimiter keeps one token bucket per client key and bans keys that keep
// hitting the limit.
type RateLimiter struct {
	limit        rate.Limit
	burst        int
	banThreshold int
	banDuration  time.Duration
	clock        clock.Clock

	mu      sync.Mutex
	clients map[string]*client
}

// NewRateLimiter builds a limiter from the API rate limit settings.
func NewRateLimiter(cfg config.RateLimitConfig, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:        rate.Limit(cfg.RequestsPerSecond),
		burst:        burst,
		banThreshold: cfg.BanThreshold,
		banDuration:  cfg.BanDuration,
		clock:        clk,
		clients:      make(map[string]*client),
	}
}

// Allow decides whether key may make one more request now.
func (rl *RateLimiter) Allow(key string) Verdict {
	if key == "" {
		return Allowed
	}
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now

	if now.Before(c.bannedUntil) {
		return Banned
	}
	if !c.bannedUntil.IsZero() {
		c.bannedUntil = time.Time{}
		c.violations = 0
	}

	if c.bucket.AllowN(now, 1) {
		return Allowed
	}

	c.violations++
	if rl.banThreshold > 0 && c.violations >= rl.banThreshold {
		c.bannedUntil = now.Add(rl.banDuration)
		logger.Warn("Rate limit exceeded, client banned",
			zap.String("key", key),
			zap.Int("violations", c.violations),
			zap.Duration("ban_duration", rl.banDuration))
		return Banned
	}
	logger.Debug("Rate limit exceeded",
		zap.String("key", key),
		zap.Int("violations", c.violations))
	return Limited
}

// Reset forgets everything about key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup removes keys idle for longer than idle that are not banned.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > idle && !now.Before(c.bannedUntil) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := rl.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Cleanup(idle); n > 0 {
				logger.Debug("Rate limiter cleanup", zap.Int("removed", n))
			}
		}
	}
}
