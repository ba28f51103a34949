package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig limits manual triggers to a handful per minute.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 6,
		BurstSize:         2,
		CleanupInterval:   5 * time.Minute,
	}
}

type clientBucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-client token bucket. Idle clients are dropped lazily
// on the next call after CleanupInterval.
type RateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientBucket
	config      RateLimiterConfig
	rate        float64 // tokens per second
	maxTokens   float64
	lastCleanup time.Time
	now         func() time.Time
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		clients:     make(map[string]*clientBucket),
		config:      config,
		rate:        float64(config.RequestsPerMinute) / 60.0,
		maxTokens:   float64(config.BurstSize),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether a request from clientID may proceed and consumes a
// token if so.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if rl.config.CleanupInterval > 0 && now.Sub(rl.lastCleanup) > rl.config.CleanupInterval {
		cutoff := now.Add(-rl.config.CleanupInterval)
		for key, b := range rl.clients {
			if b.lastRefill.Before(cutoff) {
				delete(rl.clients, key)
			}
		}
		rl.lastCleanup = now
	}

	b, ok := rl.clients[clientID]
	if !ok {
		b = &clientBucket{tokens: rl.maxTokens, lastRefill: now}
		rl.clients[clientID] = b
	}

	b.tokens += now.Sub(b.lastRefill).Seconds() * rl.rate
	if b.tokens > rl.maxTokens {
		b.tokens = rl.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
