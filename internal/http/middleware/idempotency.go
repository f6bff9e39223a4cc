// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// IdempotencyValidator guards operator writes carrying an Idempotency-Key.
// Keys are scoped to the device serial the request addresses: the same key
// sent for two devices names two different operations. The middleware only
// validates and flags; the enqueue handler serves the stored command.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's key for a write.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen = 200
)

// defaultIdemPattern accepts token characters plus the separators UUIDs and
// ULIDs use.
var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions tunes key validation. Zero values take defaults: 200
// bytes and defaultIdemPattern. Expiry belongs to the lookup.
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a live record exists for the device
// serial and key at now. Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, sn, key string, now time.Time) (exists bool, err error)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the key was already used for this device.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyValidator checks the Idempotency-Key of unsafe requests.
//
//   - No header, or a GET/HEAD/OPTIONS request: passes through untouched.
//   - Malformed key: 400 with code "bad_idempotency_key".
//   - Valid key: stored for GetIdempotencyKey; when lookup finds a live
//     record for the request's serial, the request is flagged as a replay
//     and exempted from rate limiting.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		sn := serialFromCtx(c)
		if lookup == nil || sn == "" {
			c.Next()
			return
		}
		if seen, err := lookup(c.Request.Context(), sn, key, time.Now().UTC()); err == nil && seen {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

// serialFromCtx returns the device serial a request addresses: the ":sn"
// route parameter, else the SN query parameter terminals send.
func serialFromCtx(c *gin.Context) string {
	if sn := c.Param("sn"); sn != "" {
		return sn
	}
	if c.Request == nil {
		return ""
	}
	return c.Query("SN")
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
