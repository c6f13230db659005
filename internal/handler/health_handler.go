package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Probe reports whether the upstream realtime connection is up.
type Probe interface {
	Connected() bool
}

type HealthHandler struct {
	realtime Probe
	clients  func() int
}

func NewHealthHandler(realtime Probe, clients func() int) *HealthHandler {
	return &HealthHandler{realtime: realtime, clients: clients}
}

// Health always answers 200; realtime status is informational.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.realtime != nil {
		body["realtime_connected"] = h.realtime.Connected()
	}
	if h.clients != nil {
		body["consoles"] = h.clients()
	}
	c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/healthz", h.Health)
}
