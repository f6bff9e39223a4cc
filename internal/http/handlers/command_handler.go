// Command HTTP handlers.
//
// This file exposes operator endpoints for the per-device command queue:
//   - GET  /devices/{sn}/commands          (list, status filter, limit)
//   - POST /devices/{sn}/commands          (enqueue a manual command)
//   - POST /devices/{sn}/commands/cancel   (cancel pending commands)
//   - GET  /commands/{id}                  (read one command)
//   - POST /commands/{id}/requeue          (return a dead-lettered command)
//
// Enqueue honours Idempotency-Key: when a non-expired record exists for
// (device, key), the handler returns the recorded command instead of
// enqueuing again and sets "Idempotency-Replayed: true".
package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-adms-server/internal/domain"
	"github.com/tbourn/go-adms-server/internal/http/middleware"
	"github.com/tbourn/go-adms-server/internal/repo"
	"github.com/tbourn/go-adms-server/internal/services"
	"github.com/tbourn/go-adms-server/internal/utils"
)

//
// DTOs
//

// EnqueueCommandRequest is the JSON payload for a manual command.
type EnqueueCommandRequest struct {
	// Command is the raw protocol command sent to the terminal.
	Command string `json:"command" binding:"required" example:"DATA QUERY USERINFO PIN=E001"`
	// Priority overrides the class derived from the verb (1 highest).
	Priority int `json:"priority" example:"5"`
	// Sequence orders commands sharing a priority.
	Sequence int `json:"sequence" example:"0"`
}

// CancelCommandsRequest selects pending commands to cancel.
type CancelCommandsRequest struct {
	// Filter keeps commands whose payload starts with it (case-insensitive).
	Filter string `json:"filter" example:"DATA UPDATE BIODATA"`
}

// CancelCommandsResponse reports how many commands were cancelled.
type CancelCommandsResponse struct {
	Cancelled int64 `json:"cancelled" example:"3"`
}

// ListCommandsResponse wraps a device's commands in queue order.
type ListCommandsResponse struct {
	Commands []domain.DeviceCommand `json:"commands"`
}

var commandStatuses = map[string]struct{}{
	domain.CommandPending:    {},
	domain.CommandSent:       {},
	domain.CommandSuccess:    {},
	domain.CommandDeadLetter: {},
	domain.CommandCancelled:  {},
}

//
// Helpers
//

// clampLimit parses the limit query param, bounding it to (0, 500].
func clampLimit(c *gin.Context) int {
	const (
		defaultLimit = 100
		maxLimit     = 500
	)
	return utils.Clamp(utils.AtoiDefault(c.Query("limit"), defaultLimit), 1, maxLimit)
}

// commandID parses the {id} path param.
func commandID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

//
// Handlers
//

// ListCommands godoc
// @ID          listCommands
// @Summary     List a device's commands
// @Description Returns the device's commands in dequeue order, optionally filtered by status.
// @Tags        Commands
// @Produce     json
//
// @Param       sn      path   string  true   "Terminal serial number"  example(3383154200002)
// @Param       status  query  string  false  "Status filter"  Enums(pending, sent, success, dead_letter, cancelled)
// @Param       limit   query  int     false  "Maximum rows"   minimum(1) maximum(500) default(100)
//
// @Success     200  {object} handlers.ListCommandsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /devices/{sn}/commands [get]
func (h *Handlers) ListCommands(c *gin.Context) {
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if status != "" {
		if _, known := commandStatuses[status]; !known {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
			return
		}
	}
	items, err := h.queue.List(c.Request.Context(), c.Param("sn"), status, clampLimit(c))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.DeviceCommand{}
	}
	ok(c, http.StatusOK, ListCommandsResponse{Commands: items})
}

// EnqueueCommand godoc
// @ID          enqueueCommand
// @Summary     Enqueue a command
// @Description Queues a manual command for a registered terminal. Priority defaults from the command verb.
// @Description Supports idempotency via the Idempotency-Key header (same key → same command).
// @Tags        Commands
// @Accept      json
// @Produce     json
//
// @Param       sn               path    string  true   "Terminal serial number"  example(3383154200002)
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.EnqueueCommandRequest  true  "Command payload"
//
// @Success     201  {object}  domain.DeviceCommand
// @Success     200  {object}  domain.DeviceCommand  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Device not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /devices/{sn}/commands [post]
func (h *Handlers) EnqueueCommand(c *gin.Context) {
	ctx := c.Request.Context()
	sn := c.Param("sn")

	var req EnqueueCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "command required")
		return
	}
	if req.Priority < 0 || req.Sequence < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "priority and sequence must be >= 0")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	svc, hasDB := h.queue.(*services.QueueService)
	hasDB = hasDB && svc.DB != nil
	if idemKey != "" && hasDB {
		if rec, err := repo.GetIdempotency(ctx, svc.DB, sn, idemKey, time.Now().UTC()); err == nil {
			if prev, err := h.queue.Get(ctx, rec.CommandID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	if _, err := h.devices.Get(ctx, sn); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}

	cmd, err := h.queue.Enqueue(ctx, services.CommandSpec{
		DeviceSN: sn,
		Command:  req.Command,
		Priority: req.Priority,
		Sequence: req.Sequence,
	})
	if err != nil {
		failErr(c, err, ErrCodeEnqueueFailed)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && hasDB {
		_, _ = repo.CreateIdempotency(ctx, svc.DB, sn, idemKey, cmd.ID, http.StatusCreated, h.idemTTL)
	}

	middleware.LoggerFrom(c).Info().Str("sn", sn).Uint("command_id", cmd.ID).Msg("command enqueued")
	ok(c, http.StatusCreated, cmd)
}

// CancelCommands godoc
// @ID          cancelCommands
// @Summary     Cancel pending commands
// @Description Moves the device's pending commands to cancelled. An optional filter keeps only commands starting with it. In-flight commands are never cancelled.
// @Tags        Commands
// @Accept      json
// @Produce     json
//
// @Param       sn    path  string  true   "Terminal serial number"  example(3383154200002)
// @Param       body  body  handlers.CancelCommandsRequest  false  "Cancel filter"
//
// @Success     200  {object}  handlers.CancelCommandsResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /devices/{sn}/commands/cancel [post]
func (h *Handlers) CancelCommands(c *gin.Context) {
	var req CancelCommandsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	n, err := h.queue.Cancel(c.Request.Context(), c.Param("sn"), strings.TrimSpace(req.Filter))
	if err != nil {
		failErr(c, err, ErrCodeCancelFailed)
		return
	}
	ok(c, http.StatusOK, CancelCommandsResponse{Cancelled: n})
}

// GetCommand godoc
// @ID          getCommand
// @Summary     Get a command
// @Tags        Commands
// @Produce     json
//
// @Param       id  path  int  true  "Command ID"  minimum(1)
//
// @Success     200  {object}  domain.DeviceCommand
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Command not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /commands/{id} [get]
func (h *Handlers) GetCommand(c *gin.Context) {
	id, valid := commandID(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "command id must be a positive integer")
		return
	}
	cmd, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, cmd)
}

// RequeueCommand godoc
// @ID          requeueCommand
// @Summary     Requeue a dead-lettered command
// @Description Returns a dead-lettered command to pending with a fresh retry budget.
// @Tags        Commands
// @Produce     json
//
// @Param       id  path  int  true  "Command ID"  minimum(1)
//
// @Success     200  {object}  domain.DeviceCommand
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Command not found"
// @Failure     409  {object}  handlers.ErrorResponse "Command is not dead-lettered"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /commands/{id}/requeue [post]
func (h *Handlers) RequeueCommand(c *gin.Context) {
	id, valid := commandID(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "command id must be a positive integer")
		return
	}
	cmd, err := h.queue.Requeue(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, cmd)
}
