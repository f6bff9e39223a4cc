// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger is the access log. Terminals send their comm password in
// the query string and operator tools may send API keys in headers, so every
// logged value goes through a redactor first. Bodies are never logged.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger. All names match
// case-insensitively.
//
//   - MaskHeaders: extra headers replaced with "[REDACTED]", on top of
//     Authorization, Cookie and Set-Cookie.
//   - MaskQueryKeys: query parameters whose value is always masked.
//   - KeepQueryKeys: query parameters logged verbatim, such as a serial that
//     would otherwise read as a phone number.
type RedactOptions struct {
	MaskHeaders   []string
	MaskQueryKeys []string
	KeepQueryKeys []string
}

var (
	// UUIDs go first so the phone pattern cannot eat their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

type redactor struct {
	headers   map[string]struct{}
	maskQuery map[string]struct{}
	keepQuery map[string]struct{}
}

func lowerSet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}

func newRedactor(opts RedactOptions) *redactor {
	return &redactor{
		headers:   lowerSet(append([]string{"Authorization", "Cookie", "Set-Cookie"}, opts.MaskHeaders...)...),
		maskQuery: lowerSet(opts.MaskQueryKeys...),
		keepQuery: lowerSet(opts.KeepQueryKeys...),
	}
}

// value scrubs identifiers that look like PII.
func (r *redactor) value(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// query scrubs a raw query string pair by pair, keeping its order.
func (r *redactor) query(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	for i, p := range pairs {
		k, v, found := strings.Cut(p, "=")
		lk := strings.ToLower(k)
		switch _, mask := r.maskQuery[lk]; {
		case mask && found:
			pairs[i] = k + "=[REDACTED]"
		case r.keep(lk):
		case found:
			pairs[i] = k + "=" + r.value(v)
		default:
			pairs[i] = r.value(p)
		}
	}
	return truncate(strings.Join(pairs, "&"), maxQueryLogLength)
}

func (r *redactor) keep(lowerKey string) bool {
	_, ok := r.keepQuery[lowerKey]
	return ok
}

func (r *redactor) header(name string, values []string) string {
	if _, ok := r.headers[strings.ToLower(name)]; ok {
		return "[REDACTED]"
	}
	return r.value(strings.Join(values, ", "))
}

// RedactingLogger logs one line per request and attaches a request-scoped
// logger (request_id, sn, method, path) for LoggerFrom.
//
// Level: error for 5xx, warn for 4xx, info otherwise. Successful terminal
// polls are logged at debug; every terminal polls every few seconds and
// those lines would drown everything else.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := newRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		scoped := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("sn", serialFromCtx(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &scoped)

		headers := zerolog.Dict()
		for k, vv := range c.Request.Header {
			headers.Str(k, red.header(k, vv))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		case isTerminalPoll(c.Request.URL.Path):
			ev = log.Debug()
		default:
			ev = log.Info()
		}
		ev.Str("request_id", reqID).
			Str("sn", serialFromCtx(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", red.query(c.Request.URL.RawQuery)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", headers).
			Msg("http_request")
	}
}

func isTerminalPoll(p string) bool {
	return p == TerminalPathPrefix+"/getrequest" || p == TerminalPathPrefix+"/poll"
}
