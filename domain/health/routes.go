package health

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers health, readiness, and metrics routes.
func RegisterRoutes(e *echo.Echo, h *Handler, m *Collector) {
	e.GET("/health", h.Health)
	e.GET("/healthz", h.Healthz)
	e.GET("/ready", h.Ready)
	e.GET("/debug", h.Debug)

	e.GET("/metrics", echo.WrapHandler(m.Handler()))
}
