// Device HTTP handlers.
//
// This file exposes operator endpoints for device resources:
//   - GET /devices        (list with queue and drift counters, ETag support)
//   - GET /devices/{sn}   (detail with capabilities)
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-adms-server/internal/repo"
	"github.com/tbourn/go-adms-server/internal/services"
)

//
// DTOs
//

// ListDevicesResponse wraps the device list.
type ListDevicesResponse struct {
	Devices []services.DeviceStatus `json:"devices"`
	Total   int                     `json:"total"`
}

//
// Handlers
//

// ListDevices godoc
// @ID          listDevices
// @Summary     List devices
// @Description Returns every registered terminal with liveness, queue counters and sync drift. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Devices
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"devices:3:1704873600\")
//
// @Success     200  {object} handlers.ListDevicesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /devices [get]
func (h *Handlers) ListDevices(c *gin.Context) {
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.devices.(*services.DeviceService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.DevicesStats(ctx, db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"devices:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.devices.List(ctx)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []services.DeviceStatus{}
	}
	ok(c, http.StatusOK, ListDevicesResponse{Devices: items, Total: len(items)})
}

// GetDevice godoc
// @ID          getDevice
// @Summary     Get a device
// @Description Returns one terminal with its capability profile and queue counters.
// @Tags        Devices
// @Produce     json
//
// @Param       sn  path  string  true  "Terminal serial number"  example(3383154200002)
//
// @Success     200  {object} services.DeviceDetail
// @Failure     404  {object} handlers.ErrorResponse "Device not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /devices/{sn} [get]
func (h *Handlers) GetDevice(c *gin.Context) {
	d, err := h.devices.Get(c.Request.Context(), c.Param("sn"))
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}
