package handlers

import (
	"heizbox/internal/coordinator"
	"heizbox/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires the HTTP layer to the device coordinators.
type Handler struct {
	registry *coordinator.Registry
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(registry *coordinator.Registry, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{registry: registry, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// gateway-style upgrade: /ws?deviceId=...&type=device|frontend
	router.GET("/ws", h.wsConnect)

	h.registerDeviceRoutes(router)

	return router
}

func (h *Handler) registerDeviceRoutes(r *gin.Engine) {
	device := r.Group("/api/device-status/:deviceId", h.deviceIDMiddleware)
	{
		device.GET("/status", h.getStatus)
		// Body example: {"isOn":true,"isHeating":false}
		device.POST("/status", h.updateStatus)
		device.POST("/publish", h.publish)
		device.GET("/session-data", h.getSessionData)
		device.POST("/heartbeat", h.heartbeat)
		// Body example: {"duration":12.5,"cycle":1}
		device.POST("/heat-cycles", h.createHeatCycle)
		device.GET("/ws", h.wsConnect)
	}

	r.POST("/api/heartbeat/:deviceId", h.deviceIDMiddleware, h.heartbeat)
}
