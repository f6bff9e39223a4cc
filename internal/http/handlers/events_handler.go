// Event stream handler.
//
// GET /events streams liveness and attendance notifications as server-sent
// events. A slow client loses events instead of slowing down terminals.
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StreamEvents godoc
// @ID          streamEvents
// @Summary     Stream live events
// @Description Server-sent events for device online/offline, punches, summaries, template changes and dead-lettered commands.
// @Tags        Events
// @Produce     text/event-stream
//
// @Success     200  {object}  services.Event
// @Failure     503  {object}  handlers.ErrorResponse "Event stream unavailable"
// @Router      /events [get]
func (h *Handlers) StreamEvents(c *gin.Context) {
	if h.events == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "event stream unavailable")
		return
	}
	ch, cancel := h.events.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(ev.Kind, ev)
			return true
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})
}
