// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the in-process token-bucket limiter. Buckets are kept
// per identity and idle ones are swept every few thousand lookups. Requests
// can cost more than one token: a chat turn bills the AI provider and a key
// check calls it too, so those routes drain a bucket faster than a session
// read. RedisRateLimiter applies the same costs across replicas.
//
// Replays flagged by IdempotencyValidator are never limited.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limiter is implemented by both the in-process and the Redis-backed limiter.
type Limiter interface {
	Handler() gin.HandlerFunc
}

// keyFunc selects the bucket identity for a request, such as "user:<id>".
type keyFunc func(*gin.Context) string

// costFunc returns how many tokens a request consumes.
type costFunc func(*gin.Context) int

// KeyByUserOrIP keys buckets by the identity set by Auth and falls back to
// the client IP. Keys are prefixed so user and IP namespaces cannot collide.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// CostByRoute charges the cost of the longest matching path prefix and one
// token for everything else. Costs below 1 are treated as 1.
func CostByRoute(costs map[string]int) costFunc {
	return func(c *gin.Context) int {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		best, cost := -1, 1
		for prefix, n := range costs {
			if strings.HasPrefix(path, prefix) && len(prefix) > best {
				best, cost = len(prefix), n
			}
		}
		if cost < 1 {
			cost = 1
		}
		return cost
	}
}

// LimiterOption customises a limiter.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	cost costFunc
}

// WithCost sets the per-request token cost. The default is one token.
func WithCost(fn costFunc) LimiterOption {
	return func(o *limiterOptions) {
		if fn != nil {
			o.cost = fn
		}
	}
}

func buildLimiterOptions(opts []LimiterOption) limiterOptions {
	o := limiterOptions{cost: func(*gin.Context) int { return 1 }}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// clampCost keeps a cost within what a full bucket can pay.
func clampCost(n, burst int) int {
	if n < 1 {
		return 1
	}
	if n > burst {
		return burst
	}
	return n
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter local to this process.
// It is safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	cost  costFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	cleanupN uint64
	now      func() time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to
// burst. burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, opts ...LimiterOption) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	o := buildLimiterOptions(opts)
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		cost:     o.cost,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Idle
// buckets are swept first so a stale bucket is never refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// take consumes n tokens for key, or reports how long until they are
// available. Nothing is consumed on denial.
func (rl *RateLimiter) take(key string, n int) (bool, time.Duration) {
	now := rl.now()
	res := rl.getVisitor(key).ReserveN(now, clampCost(n, rl.burst))
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// IsRateBypass reports whether IdempotencyValidator marked this request as
// a replay of a completed one.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Denied requests get
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <seconds>
//	{"request_id": "<uuid>", "code": "too_many_requests", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		ok, retry := rl.take(rl.keyFn(c), rl.cost(c))
		if !ok {
			abortRateLimited(c, retry)
			return
		}
		c.Next()
	}
}

// abortRateLimited writes the 429 envelope shared by all limiters.
// retryAfter is rounded up to whole seconds, minimum one.
func abortRateLimited(c *gin.Context, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "too_many_requests",
		"message":    "rate limit exceeded",
	})
}
