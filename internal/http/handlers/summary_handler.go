// Attendance summary HTTP handlers.
//
//   - GET  /summaries/{code}/{date}            (read)
//   - POST /summaries/{code}/{date}/recompute  (rebuild from stored punches)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSummary godoc
// @ID          getSummary
// @Summary     Get a daily attendance summary
// @Tags        Attendance
// @Produce     json
//
// @Param       code  path  string  true  "Employee code"    example(E001)
// @Param       date  path  string  true  "Day (YYYY-MM-DD)" example(2024-01-10)
//
// @Success     200  {object}  domain.DailyAttendanceSummary
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Summary not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /summaries/{code}/{date} [get]
func (h *Handlers) GetSummary(c *gin.Context) {
	sum, err := h.summaries.Get(c.Request.Context(), c.Param("code"), c.Param("date"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, sum)
}

// RecomputeSummary godoc
// @ID          recomputeSummary
// @Summary     Recompute a daily attendance summary
// @Description Rebuilds the summary from the stored punches of that day. Used by bulk reprocessing.
// @Tags        Attendance
// @Produce     json
//
// @Param       code  path  string  true  "Employee code"    example(E001)
// @Param       date  path  string  true  "Day (YYYY-MM-DD)" example(2024-01-10)
//
// @Success     200  {object}  domain.DailyAttendanceSummary
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /summaries/{code}/{date}/recompute [post]
func (h *Handlers) RecomputeSummary(c *gin.Context) {
	sum, err := h.summaries.RecomputeDate(c.Request.Context(), c.Param("code"), c.Param("date"))
	if err != nil {
		failErr(c, err, ErrCodeRecomputeFailed)
		return
	}
	ok(c, http.StatusOK, sum)
}
