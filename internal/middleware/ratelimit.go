package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterCacheSize = 10000
	// a caller's bucket is forgotten after this long without requests
	limiterIdleTTL = 10 * time.Minute
)

// RateLimiter throttles requests per caller. Authenticated callers are keyed
// by identity, anonymous ones by client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter allows rps requests per second with the given burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
	}
}

// Allow reports whether key may proceed now
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// re-adding restarts the expiry clock
	l.limiters.Add(key, limiter)
	l.mu.Unlock()

	return limiter.Allow()
}

// Middleware rejects callers over their budget with 429
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetIdentity(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !l.Allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
