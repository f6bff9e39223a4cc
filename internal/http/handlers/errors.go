package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/go-adms-server/internal/services"
)

// Error codes carried in ErrorResponse.Code. Clients branch on these, so
// they never change once published.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeInternal         = "internal_error"

	ErrCodeEnqueueFailed     = "enqueue_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeCancelFailed      = "cancel_failed"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeRecomputeFailed   = "recompute_failed"
)

// serviceErrors maps service sentinels to their HTTP shape. The sentinel
// text is client-safe and becomes the message.
var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrCommandNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrSummaryNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrMissingSerial, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrEmptyCommand, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidDate, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrMissingEmployee, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrNotDeadLetter, http.StatusConflict, ErrCodeInvalidTransition},
	{services.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
	{services.ErrWrongDevice, http.StatusConflict, ErrCodeInvalidTransition},
}

// classify returns the status, code and message for err. Unknown errors
// become a 500 with fallbackCode and a generic message.
func classify(err error, fallbackCode string) (int, string, string) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code, m.err.Error()
		}
	}
	return http.StatusInternalServerError, fallbackCode, "internal error"
}
