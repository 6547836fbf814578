package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"heizbox/internal/coordinator"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK = "ok"

	errDeviceUnavailable = "device unavailable"
	errUpdateStatus      = "failed to update status"
	errGetStatus         = "failed to load status"
	errSessionData       = "failed to load session data"
	errHeartbeat         = "failed to record heartbeat"
	errPublish           = "failed to publish event"
	errReadBody          = "failed to read body"
	errInvalidBodyPref   = "invalid body: "

	maxBodyBytes = 64 << 10
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if err != nil {
		fields := append([]interface{}{"err", err, "device_id", c.GetString(ctxDeviceID)}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// coordinatorFor resolves the coordinator for the validated device id.
// It writes the error response itself and returns nil on failure.
func (h *Handler) coordinatorFor(c *gin.Context) *coordinator.Coordinator {
	coord, err := h.registry.Get(c.Request.Context(), c.GetString(ctxDeviceID))
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidDeviceID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil
		}
		h.logAndJSONError(c, http.StatusServiceUnavailable, errDeviceUnavailable, "coordinator_unavailable", err)
		return nil
	}
	return coord
}

// opErrorStatus maps coordinator call failures to an HTTP status.
func opErrorStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
}

// StatusRequest is an exported model for Swagger docs of the status payload.
type StatusRequest struct {
	// Device power state; omitted fields are left unchanged
	IsOn *bool `json:"isOn,omitempty" example:"true"`
	// Whether the device is currently heating
	IsHeating *bool `json:"isHeating,omitempty" example:"false"`
}

// HeatCycleRequest is an exported model for Swagger docs of the heat cycle payload.
type HeatCycleRequest struct {
	// Heat cycle duration in seconds, must be > 0
	Duration *float64 `json:"duration" binding:"required" example:"12.5"`
	// Cycle number within the cap, defaults to 1
	Cycle *int `json:"cycle,omitempty" example:"1"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Get device status
// @Tags         device
// @Produce      json
// @Param        deviceId  path  string  true  "Device id"
// @Success      200  {object}  models.DeviceStatus
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/device-status/{deviceId}/status [get]
func (h *Handler) getStatus(c *gin.Context) {
	coord := h.coordinatorFor(c)
	if coord == nil {
		return
	}
	st, err := coord.Status(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, opErrorStatus(err), errGetStatus, "status_get_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Update device status
// @Description  Fields that are missing or not booleans are ignored.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        deviceId  path  string         true  "Device id"
// @Param        body      body  StatusRequest  true  "Status patch"
// @Success      200  {object}  models.DeviceStatus
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/device-status/{deviceId}/status [post]
func (h *Handler) updateStatus(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errReadBody})
		return
	}
	patch, err := coordinator.ParseStatusPatch(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	coord := h.coordinatorFor(c)
	if coord == nil {
		return
	}
	st, err := coord.UpdateStatus(c.Request.Context(), patch)
	if err != nil {
		h.logAndJSONError(c, opErrorStatus(err), errUpdateStatus, "status_update_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Publish an event to all live connections of a device
// @Description  The body must be a JSON object and is relayed verbatim.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        deviceId  path  string  true  "Device id"
// @Param        body      body  object  true  "Event"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Router       /api/device-status/{deviceId}/publish [post]
func (h *Handler) publish(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errReadBody})
		return
	}
	if _, err := coordinator.EventType(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	coord := h.coordinatorFor(c)
	if coord == nil {
		return
	}
	if err := coord.Publish(c.Request.Context(), body); err != nil {
		h.logAndJSONError(c, opErrorStatus(err), errPublish, "publish_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// @Summary      Current session counters
// @Tags         device
// @Produce      json
// @Param        deviceId  path  string  true  "Device id"
// @Success      200  {object}  models.SessionCounters
// @Failure      500  {object}  map[string]string
// @Router       /api/device-status/{deviceId}/session-data [get]
func (h *Handler) getSessionData(c *gin.Context) {
	coord := h.coordinatorFor(c)
	if coord == nil {
		return
	}
	counters, err := coord.SessionCounters(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, opErrorStatus(err), errSessionData, "session_data_failed", err)
		return
	}
	c.JSON(http.StatusOK, counters)
}

// @Summary      Record a heartbeat
// @Tags         device
// @Produce      json
// @Param        deviceId  path  string  true  "Device id"
// @Success      200  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/device-status/{deviceId}/heartbeat [post]
// @Router       /api/heartbeat/{deviceId} [post]
func (h *Handler) heartbeat(c *gin.Context) {
	coord := h.coordinatorFor(c)
	if coord == nil {
		return
	}
	if err := coord.Heartbeat(c.Request.Context()); err != nil {
		h.logAndJSONError(c, opErrorStatus(err), errHeartbeat, "heartbeat_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// @Summary      Submit a completed heat cycle
// @Description  Shares duplicate detection with live connections. 409 on duplicate.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        deviceId  path  string            true  "Device id"
// @Param        body      body  HeatCycleRequest  true  "Heat cycle"
// @Success      201  {object}  coordinator.Ack
// @Failure      400  {object}  coordinator.Ack
// @Failure      409  {object}  coordinator.Ack
// @Failure      500  {object}  coordinator.Ack
// @Router       /api/device-status/{deviceId}/heat-cycles [post]
func (h *Handler) createHeatCycle(c *gin.Context) {
	var req HeatCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	cycle := 1
	if req.Cycle != nil {
		cycle = *req.Cycle
	}
	coord := h.coordinatorFor(c)
	if coord == nil {
		return
	}
	ack, err := coord.CompleteHeatCycle(c.Request.Context(), *req.Duration, cycle)
	if err != nil {
		h.logAndJSONError(c, opErrorStatus(err), errDeviceUnavailable, "heat_cycle_submit_failed", err)
		return
	}
	c.JSON(ackStatus(ack), ack)
}

func ackStatus(ack coordinator.Ack) int {
	if ack.Success {
		return http.StatusCreated
	}
	switch ack.Reason {
	case coordinator.ReasonDuplicate:
		return http.StatusConflict
	case coordinator.ReasonInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
