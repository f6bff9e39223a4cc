// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the operator API rate limiter: one token bucket
// (golang.org/x/time/rate) per identity, where the identity is the device
// serial a request addresses or else the client IP. Idle buckets are swept
// on a timer driven by incoming traffic, so memory stays bounded without a
// background goroutine.
//
// The limiter is process-local and is never mounted on /iclock: terminals
// poll on a fixed cadence and a 429 would only make them retry sooner.
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

const (
	// bucketIdleTTL is how long an untouched bucket survives a sweep.
	bucketIdleTTL = 10 * time.Minute
	// maxRetryAfter caps the advertised wait when the refill rate is tiny.
	maxRetryAfter = time.Hour
)

// keyFunc selects the identity used to key a rate-limit bucket, e.g.
// "sn:<serial>" or "ip:<addr>".
type keyFunc func(*gin.Context) string

// KeyBySerialOrIP returns a keyFunc that prefers the device serial (the
// ":sn" route parameter or the SN query parameter) and falls back to the
// client IP. Serial and IP keys live in separate namespaces ("sn:DEV1" vs
// "ip:203.0.113.7").
func KeyBySerialOrIP() keyFunc {
	return func(c *gin.Context) string {
		if sn := serialFromCtx(c); sn != "" {
			return "sn:" + sn
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst (values <= 0 become 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		keyFn:     keyFn,
		ttl:       bucketIdleTTL,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// limiterFor returns the bucket for key, creating it on first use. Once per
// ttl it first drops buckets idle for at least ttl.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Len reports the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as
// a replay, which is served without spending a token.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Rejections get 429, the error envelope with
// code "rate_limited" and a Retry-After in whole seconds derived from the
// bucket's refill time.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		lim := rl.limiterFor(key)
		now := rl.now()
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		kind, _, _ := strings.Cut(key, ":")
		rateLimited.WithLabelValues(kind).Inc()

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(lim, now)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfterSeconds peeks at when the next token lands without consuming it.
func retryAfterSeconds(lim *rate.Limiter, now time.Time) int {
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return int(maxRetryAfter / time.Second)
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay > maxRetryAfter {
		delay = maxRetryAfter
	}
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
