package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a client may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter implements a simple in-memory token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       map[string]int
	lastRefill   map[string]time.Time
	maxTokens    int
	refillRate   int           // tokens per refill
	refillPeriod time.Duration // how often to refill
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter
// maxTokens: maximum tokens per client
// refillRate: how many tokens to add per refill period
// refillPeriod: how often to refill tokens
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       make(map[string]int),
		lastRefill:   make(map[string]time.Time),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow takes a token for key
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	// Initialize if first time
	if _, exists := rl.tokens[key]; !exists {
		rl.tokens[key] = rl.maxTokens
		rl.lastRefill[key] = now
	}

	// Refill tokens
	elapsed := now.Sub(rl.lastRefill[key])
	refills := int(elapsed / rl.refillPeriod)
	if refills > 0 {
		rl.tokens[key] += refills * rl.refillRate
		if rl.tokens[key] > rl.maxTokens {
			rl.tokens[key] = rl.maxTokens
		}
		rl.lastRefill[key] = rl.lastRefill[key].Add(time.Duration(refills) * rl.refillPeriod)
	}

	d := Decision{Limit: rl.maxTokens}
	if rl.tokens[key] > 0 {
		rl.tokens[key]--
		d.Allowed = true
	} else {
		d.RetryAfter = rl.refillPeriod - now.Sub(rl.lastRefill[key])
	}
	d.Remaining = rl.tokens[key]
	return d, nil
}

// WindowCounter is a shared counter store, implemented by database.Redis
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisLimiter is a fixed-window limiter shared by every server instance
type RedisLimiter struct {
	store  WindowCounter
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per window per key
func NewRedisLimiter(store WindowCounter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{store: store, limit: limit, window: window, prefix: "ratelimit:cards:"}
}

// Allow counts one request for key
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, ttl, err := rl.store.IncrWindow(ctx, rl.prefix+key, rl.window)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Limit: rl.limit, Remaining: rl.limit - int(count)}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.Allowed = int(count) <= rl.limit
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// RateLimitMiddleware limits requests per client IP. Limiter errors let the request through.
func RateLimitMiddleware(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		d, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.String("client_ip", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryMs := int(d.RetryAfter.Milliseconds())
			c.Header("Retry-After", strconv.Itoa(int(d.RetryAfter.Round(time.Second).Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": APIError{
					Code:       ErrCodeRateLimited,
					Message:    "Too many requests, please try again later",
					RetryAfter: retryMs,
				},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
