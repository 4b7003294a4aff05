package oauthmeta

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the two OAuth discovery documents, unauthenticated per
// AuthMiddleware's bypass-path list.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/.well-known/oauth-protected-resource", h.ProtectedResourceMetadata)
	e.GET("/.well-known/oauth-authorization-server", h.AuthorizationServerMetadata)
}
