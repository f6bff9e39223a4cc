// Terminal (iclock) HTTP handlers.
//
// This file exposes the endpoints biometric terminals talk to:
//   - GET  /iclock/cdata       (handshake, alias /iclock/handshake)
//   - POST /iclock/cdata       (record upload, alias /iclock/upload)
//   - GET  /iclock/getrequest  (command poll, alias /iclock/poll)
//   - POST /iclock/devicecmd   (command result, alias /iclock/result)
//
// Terminals have no error channel: every response is 200 text/plain and
// failures are logged server-side. The only non-"OK" bodies are the handshake
// option block and a "C:<id>:<command>" poll reply.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-adms-server/internal/adms"
	"github.com/tbourn/go-adms-server/internal/http/middleware"
	"github.com/tbourn/go-adms-server/internal/services"
)

// terminalOK is the fixed acknowledgement body.
const terminalOK = "OK"

// text writes a 200 text/plain response.
func text(c *gin.Context, body string) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

// serial returns the terminal serial from the SN query parameter.
func serial(c *gin.Context) string {
	return strings.TrimSpace(c.Query("SN"))
}

// readBody returns the request body decoded to UTF-8.
func readBody(c *gin.Context) (string, error) {
	if c.Request.Body == nil {
		return "", nil
	}
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	return adms.DecodeBody(b), nil
}

// Handshake godoc
// @ID          terminalHandshake
// @Summary     Terminal handshake
// @Description Registers the terminal and returns the protocol option block. Without SN a readiness message is returned.
// @Tags        Terminal
// @Produce     plain
//
// @Param       SN  query  string  false  "Terminal serial number"  example(3383154200002)
//
// @Success     200  {string}  string  "Option block"
// @Router      /iclock/cdata [get]
func (h *Handlers) Handshake(c *gin.Context) {
	sn := serial(c)
	body, err := h.devices.Handshake(c.Request.Context(), sn, c.ClientIP())
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Str("sn", sn).Msg("handshake failed")
		text(c, terminalOK)
		return
	}
	text(c, body)
}

// Upload godoc
// @ID          terminalUpload
// @Summary     Upload records
// @Description Accepts a newline-delimited record body for the given table. Always answers OK.
// @Tags        Terminal
// @Accept      plain
// @Produce     plain
//
// @Param       SN     query  string  true   "Terminal serial number"  example(3383154200002)
// @Param       table  query  string  true   "Record family"           example(ATTLOG)
// @Param       body   body   string  false  "Records"
//
// @Success     200  {string}  string  "OK"
// @Router      /iclock/cdata [post]
func (h *Handlers) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)
	sn := serial(c)
	table := c.Query("table")

	body, err := readBody(c)
	if err != nil {
		lg.Error().Err(err).Str("sn", sn).Str("table", table).Msg("upload body unreadable")
		text(c, terminalOK)
		return
	}
	if sn == "" {
		lg.Warn().Str("table", table).Int("bytes", len(body)).Msg("upload without serial ignored")
		text(c, terminalOK)
		return
	}
	if err := h.devices.Touch(ctx, sn, c.ClientIP()); err != nil {
		lg.Error().Err(err).Str("sn", sn).Msg("liveness update failed")
	}

	res := h.ingest.Upload(ctx, sn, table, body)
	lg.Debug().Str("sn", sn).Str("table", table).Interface("result", res).Msg("upload processed")
	text(c, terminalOK)
}

// Poll godoc
// @ID          terminalPoll
// @Summary     Poll for a command
// @Description Refreshes liveness, detects capabilities from INFO and returns the next queued command, or OK when there is none.
// @Tags        Terminal
// @Produce     plain
//
// @Param       SN    query  string  true   "Terminal serial number"  example(3383154200002)
// @Param       INFO  query  string  false  "Capability descriptor"   example(SpeedFace-V5L-Ver8.0,1,1,0,58)
//
// @Success     200  {string}  string  "OK or C:<id>:<command>"
// @Router      /iclock/getrequest [get]
func (h *Handlers) Poll(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)
	sn := serial(c)
	if sn == "" {
		text(c, terminalOK)
		return
	}
	if err := h.devices.Poll(ctx, sn, c.ClientIP(), c.Query("INFO")); err != nil {
		lg.Error().Err(err).Str("sn", sn).Msg("poll liveness update failed")
	}

	cmd, err := h.queue.Dequeue(ctx, sn)
	switch {
	case errors.Is(err, services.ErrNoWork):
		text(c, terminalOK)
	case err != nil:
		lg.Error().Err(err).Str("sn", sn).Msg("dequeue failed")
		text(c, terminalOK)
	default:
		lg.Info().Str("sn", sn).Uint("command_id", cmd.ID).Msg("command delivered")
		text(c, adms.PollReply(cmd.ID, cmd.Command))
	}
}

// Result godoc
// @ID          terminalResult
// @Summary     Report command results
// @Description Applies one or more ID=..&Return=.. groups to the command queue. Always answers OK.
// @Tags        Terminal
// @Accept      plain
// @Produce     plain
//
// @Param       SN    query  string  false  "Terminal serial number"  example(3383154200002)
// @Param       body  body   string  true   "Result groups"
//
// @Success     200  {string}  string  "OK"
// @Router      /iclock/devicecmd [post]
func (h *Handlers) Result(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)
	sn := serial(c)

	body, err := readBody(c)
	if err != nil {
		lg.Error().Err(err).Str("sn", sn).Msg("result body unreadable")
		text(c, terminalOK)
		return
	}
	if sn != "" {
		if err := h.devices.Touch(ctx, sn, c.ClientIP()); err != nil {
			lg.Error().Err(err).Str("sn", sn).Msg("liveness update failed")
		}
	}

	results := adms.ParseResults(body)
	if len(results) == 0 {
		lg.Warn().Str("sn", sn).Msg("result body carried no command outcome")
	}
	for _, r := range results {
		cmd, err := h.queue.Acknowledge(ctx, sn, r.ID, r.Return, r.Cmd)
		switch {
		case errors.Is(err, services.ErrCommandNotFound),
			errors.Is(err, services.ErrInvalidTransition),
			errors.Is(err, services.ErrWrongDevice):
			lg.Warn().Err(err).Str("sn", sn).Uint("command_id", r.ID).Int("return", r.Return).Msg("result ignored")
		case err != nil:
			lg.Error().Err(err).Str("sn", sn).Uint("command_id", r.ID).Msg("acknowledge failed")
		default:
			lg.Debug().Str("sn", sn).Uint("command_id", r.ID).Str("status", cmd.Status).Msg("result applied")
		}
	}
	text(c, terminalOK)
}
