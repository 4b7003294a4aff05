package mcp

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the Streamable HTTP transport's unified /mcp endpoint: POST for
// JSON-RPC frames, GET for the SSE upgrade, DELETE for session termination (§6), plus the
// unauthenticated external elicitation callback surface (§4.9, §6).
func RegisterRoutes(e *echo.Echo, h *Handler, streams *StreamManager, authMiddleware *AuthMiddleware, elicit *ElicitationHandler) {
	g := e.Group("/mcp")
	g.Use(authMiddleware.RequireAuth())

	g.POST("", h.HandlePost)
	g.GET("", streams.HandleStream)
	g.DELETE("", h.HandleDelete)

	el := e.Group("/elicitation/:id")
	el.POST("/complete", elicit.HandleComplete)
	el.POST("/cancel", elicit.HandleCancel)
	el.GET("/status", elicit.HandleStatus)
}
