// Package oauthmeta serves the OAuth 2.0 discovery documents (RFC 8414, RFC 9728) that an MCP
// client fetches before it has a token: the protected-resource metadata pointing at this server's
// authorization server, and a pass-through of the authorization server's own metadata. Content is
// derived from config, not hand-authored per deployment.
package oauthmeta

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mcpforge/server/internal/config"
)

// Handler serves the two well-known discovery documents referenced by AuthMiddleware's
// WWW-Authenticate challenge and bypass-path list.
type Handler struct {
	cfg *config.Config
}

// NewHandler constructs the discovery handler.
func NewHandler(cfg *config.Config) *Handler {
	return &Handler{cfg: cfg}
}

// ProtectedResourceMetadata serves RFC 9728 protected-resource metadata: this resource server's
// identifier and the authorization server(s) that can issue it tokens.
func (h *Handler) ProtectedResourceMetadata(c echo.Context) error {
	resource := h.cfg.MCP.ExpectedAudience
	if resource == "" {
		scheme := "https"
		if c.Request().TLS == nil {
			scheme = "http"
		}
		resource = scheme + "://" + c.Request().Host
	}

	return c.JSON(http.StatusOK, map[string]any{
		"resource":              resource,
		"authorization_servers": []string{h.cfg.Zitadel.GetIssuer()},
		"bearer_methods_supported": []string{"header"},
	})
}

// AuthorizationServerMetadata serves RFC 8414 authorization-server metadata, derived from the
// configured Zitadel issuer's conventional endpoint layout.
func (h *Handler) AuthorizationServerMetadata(c echo.Context) error {
	issuer := h.cfg.Zitadel.GetIssuer()

	return c.JSON(http.StatusOK, map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "/oauth/v2/authorize",
		"token_endpoint":         issuer + "/oauth/v2/token",
		"jwks_uri":               h.cfg.Zitadel.JWKSURI(),
		"response_types_supported":                []string{"code"},
		"grant_types_supported":                    []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":          []string{"S256"},
		"token_endpoint_auth_methods_supported":     []string{"none", "client_secret_basic"},
	})
}
