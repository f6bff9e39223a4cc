// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds request correlation and panic recovery:
//
//   - RequestID tags every request with X-Request-ID.
//   - Recovery turns an operator API panic into the JSON 500 envelope.
//   - TerminalRecovery turns a terminal endpoint panic into 200 "OK"; a
//     terminal that sees an error status backs off and resends the batch.
//   - LoggerFrom returns the request-scoped logger set by RedactingLogger.
//
// Order: RequestID, RedactingLogger, then either recovery, so a recovered
// panic is logged with its correlation fields.
package middleware

import (
	"net/http"
	"runtime/debug"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxRequestIDLength bounds a client-supplied correlation id.
	maxRequestIDLength = 128
	// maxQueryLogLength caps the logged query string, in bytes.
	maxQueryLogLength = 2048
)

// RequestID reuses a well-formed incoming X-Request-ID or generates a UUID,
// then echoes it on the response and stores it in the context. Ids that are
// too long or carry control characters are replaced so they cannot forge
// log lines.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	s, _ := v.(string)
	return s
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Recovery answers a panic with the JSON 500 envelope, or just the status
// when the handler already started writing.
func Recovery() gin.HandlerFunc {
	return recoverWith("panic recovered", func(c *gin.Context, rid string) {
		if c.Writer.Written() {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"request_id": rid,
			"code":       "internal_error",
			"message":    "internal server error",
		})
	})
}

// TerminalRecovery answers a panic on a terminal endpoint with 200 "OK".
func TerminalRecovery() gin.HandlerFunc {
	return recoverWith("panic recovered on terminal endpoint", func(c *gin.Context, _ string) {
		if !c.Writer.Written() {
			c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte("OK"))
		}
		c.Abort()
	})
}

// recoverWith logs a recovered panic with its stack through the
// request-scoped logger, restores X-Request-ID and hands off to answer.
func recoverWith(msg string, answer func(c *gin.Context, rid string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			lg := LoggerFrom(c)
			lg.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Str("sn", serialFromCtx(c)).
				Msg(msg)
			if !c.Writer.Written() && rid != "" {
				c.Header(requestIDHeader, rid)
			}
			answer(c, rid)
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// RedactingLogger is not installed. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// truncate cuts s to max bytes plus an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
