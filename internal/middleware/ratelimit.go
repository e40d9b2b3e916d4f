package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwarden/internal/ratelimit"
)

// RateLimiter bounds how often a client may call an endpoint, using the same
// window counter the detector applies to accounts.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string]*ratelimit.Window
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithNow(limit, window, time.Now)
}

func NewRateLimiterWithNow(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*ratelimit.Window),
		limit:    limit,
		window:   window,
		now:      now,
	}
}

// Allow reports whether key may proceed and, if not, how long until it may.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)
	w, ok := rl.requests[key]
	if !ok {
		w = &ratelimit.Window{}
		rl.requests[key] = w
	}
	return w.Reserve(now, rl.limit, rl.window)
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	if len(rl.requests) < 1024 {
		return
	}
	for key, w := range rl.requests {
		if !now.Before(w.StartAt.Add(rl.window)) {
			delete(rl.requests, key)
		}
	}
}

func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retry := rl.Allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
