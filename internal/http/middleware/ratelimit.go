package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// HeaderUserID lets clients that already know the chat user identify
// themselves before the body is parsed. Ingest endpoints still take the
// user id from the payload.
const HeaderUserID = "X-User-ID"

const (
	visitorTTL    = 10 * time.Minute
	sweepInterval = 5000
)

type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by X-User-ID when present and by client IP
// otherwise. Keys are prefixed so the two namespaces never collide.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v := strings.TrimSpace(c.GetHeader(HeaderUserID)); v != "" {
			return "user:" + v
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per key. Idle buckets are
// evicted opportunistically during lookups.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	skip  map[string]struct{}

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

// NewRateLimiter builds a limiter with rps tokens per second and the given
// burst (coerced to at least 1). Requests whose path is listed in skip are
// never limited.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, skip ...string) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		skip:     make(map[string]struct{}, len(skip)),
		visitors: make(map[string]*visitor),
		ttl:      visitorTTL,
	}
	for _, p := range skip {
		rl.skip[p] = struct{}{}
	}
	return rl
}

// getVisitor returns the limiter for key, creating it if absent. Eviction
// runs before the lookup so a stale bucket is replaced, not refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepInterval {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler rejects requests over the limit with 429, Retry-After: 1 and the
// standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := rl.skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		if rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
