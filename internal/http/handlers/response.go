// Package handlers implements the terminal (/iclock) endpoints and the
// operator API.
//
// Operator responses are plain JSON bodies on success and an ErrorResponse
// envelope on failure:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "device not found"
//	}
//
// Terminal responses are text/plain and never use the envelope.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-adms-server/internal/http/middleware"
)

// ErrorResponse is the error envelope of the operator API.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code.
	Code string `json:"code" example:"not_found"`
	// Human-readable message.
	Message string `json:"message" example:"device not found"`
}

// fail aborts with the envelope. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for callers outside the package, such as router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr answers a service error. Known sentinels keep their status and
// text; anything else is logged in full and answered with a bare 500 so
// storage details never reach the client.
func failErr(c *gin.Context, err error, fallbackCode string) {
	status, code, msg := classify(err, fallbackCode)
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).Str("path", c.FullPath()).Msg("service error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
