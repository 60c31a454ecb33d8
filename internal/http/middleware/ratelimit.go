// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the edge limiter: a process-local token bucket per
// caller that protects every route from request floods. It is separate from
// the chat post limiter, which enforces the per-nickname posting window and
// cooldown inside the service layer.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc selects the identity used to key a bucket.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the authenticated nickname stored under "userID" and
// falls back to the client IP. Keys are prefixed so the namespaces never
// collide.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if s := CurrentUser(c); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// EdgeLimiter is a per-key token bucket limiter. Idle buckets are evicted
// opportunistically. Safe for concurrent use.
type EdgeLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    KeyFunc
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// NewEdgeLimiter builds a limiter refilling rps tokens per second with the
// given burst. A burst <= 0 becomes 1; a nil keyFn keys by user or IP.
func NewEdgeLimiter(rps float64, burst int, keyFn KeyFunc) *EdgeLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &EdgeLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		ttl:      10 * time.Minute,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// limiterFor returns the bucket for key. GC runs before the lookup so a stale
// entry is evicted even when it is the one requested.
func (l *EdgeLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lookups++
	if l.lookups >= 5000 {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.lookups = 0
	}

	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Len reports the number of live buckets.
func (l *EdgeLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// IsRateBypass reports whether the request was marked as an idempotent replay
// and should not consume a token.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. A rejected request gets 429 with a Retry-After
// header (whole seconds, at least 1) derived from the bucket's next token.
func (l *EdgeLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := l.now()
		lim := l.limiterFor(l.keyFn(c), now)
		res := lim.ReserveN(now, 1)
		if res.OK() {
			delay := res.DelayFrom(now)
			if delay == 0 {
				c.Next()
				return
			}
			// Give the token back; the caller is told to retry instead.
			res.CancelAt(now)
			retryAfter(c, delay)
			return
		}
		retryAfter(c, time.Second)
	}
}

func retryAfter(c *gin.Context, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	rid, _ := c.Get(requestIDKey)
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": asString(rid),
		"code":       "rate_limited",
		"message":    "rate limit exceeded",
	})
}
