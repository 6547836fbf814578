package handlers

import (
	"net/http"
	"time"

	"heizbox/internal/coordinator"

	"github.com/gin-gonic/gin"
)

const ctxDeviceID = "deviceId"

// deviceIDMiddleware validates the :deviceId path segment and stores the
// normalized id in the Gin context.
func (h *Handler) deviceIDMiddleware(c *gin.Context) {
	id, err := coordinator.ValidateDeviceID(c.Param("deviceId"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}
	c.Set(ctxDeviceID, id)
	c.Next()
}

func (h *Handler) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()

	status := c.Writer.Status()
	kv := []interface{}{
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if id := c.GetString(ctxDeviceID); id != "" {
		kv = append(kv, "device_id", id)
	}
	if status >= http.StatusInternalServerError {
		h.log.Warnw("http_request", kv...)
		return
	}
	h.log.Debugw("http_request", kv...)
}
