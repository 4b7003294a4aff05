package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// authContextKey is the Echo context key the AuthMiddleware stores the validated
// AuthorizationContext under, mirroring the teacher's pkg/auth.UserContextKey idiom.
const authContextKey = "mcp_auth_context"

// bypassPrefixes never require a bearer token: the OAuth discovery documents (reachable under
// either the bare or the /mcp-prefixed path, since some clients discover against the MCP route
// itself) and the authorization-code entry point must be reachable by a client that doesn't have a
// token yet (§4.5 "bypass list", §6 "Bypass paths").
var bypassPrefixes = []string{
	"/.well-known/",
	"/mcp/.well-known",
	"/oauth/authorize",
}

func isBypassPath(path string) bool {
	if path == "/healthz" {
		return true
	}
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// AuthMiddleware validates bearer tokens, binds sessions to the token that created them, and
// enforces per-route scope requirements, generalized from the teacher's pkg/auth.Middleware
// (extractToken/RequireScopes) onto MCP's session-hijack and challenge-header requirements (§4.5).
type AuthMiddleware struct {
	log          *slog.Logger
	validator    *TokenValidator
	store        Store
	refresher    TokenRefresher
	refreshWindow time.Duration
}

// NewAuthMiddleware constructs an AuthMiddleware. refresher may be nil, in which case step 6's
// refresh-on-expiry-window is skipped entirely and the existing context is always used as-is.
func NewAuthMiddleware(log *slog.Logger, validator *TokenValidator, store Store, refresher TokenRefresher) *AuthMiddleware {
	return &AuthMiddleware{
		log:           log.With("component", "mcp.authz"),
		validator:     validator,
		store:         store,
		refresher:     refresher,
		refreshWindow: defaultRefreshWindow,
	}
}

// defaultRefreshWindow is how far ahead of expiry a token becomes eligible for proactive refresh
// (§4.5 step 6 "within a refresh window").
const defaultRefreshWindow = 2 * time.Minute

// RequireAuth validates the bearer token on every request except the bypass paths, and verifies
// that a session ID presented in the Mcp-Session-Id header was bound to the same token hash that
// created it — rejecting an attempt to reuse another client's session (§4.5 step 5, "session
// hijack prevention"). On a session-aware path it also attempts step 6's proactive token refresh.
func (m *AuthMiddleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isBypassPath(c.Request().URL.Path) {
				return next(c)
			}

			token, tokenErr := extractBearerToken(c.Request())
			if tokenErr != nil {
				return m.challenge(c, http.StatusUnauthorized, tokenErr.code, tokenErr.description, nil)
			}

			ctx := c.Request().Context()
			authCtx, err := m.validator.Validate(ctx, token)
			if err != nil {
				return m.challenge(c, http.StatusUnauthorized, "invalid_token", err.Error(), nil)
			}

			if sessionID := c.Request().Header.Get("Mcp-Session-Id"); sessionID != "" {
				sess, err := m.store.Get(ctx, sessionID)
				if err == nil {
					if sess.Auth != nil && sess.Auth.TokenHash != authCtx.TokenHash {
						return m.challenge(c, http.StatusForbidden, "forbidden", "session bound to a different token", nil)
					}
					authCtx = m.maybeRefresh(ctx, sess, authCtx)
				}
			}

			c.Set(authContextKey, authCtx)
			return next(c)
		}
	}
}

// maybeRefresh implements §4.5 step 6: if the token is within the refresh window and a refresh
// endpoint is configured (a non-nil refresher and a session carrying a refresh block), it attempts
// a refresh through the external OAuth client. Failure is logged and non-fatal — the existing,
// still-valid context is used as-is; the attempt counter bounds retries per the refresh block's
// policy (§3 "Token-refresh block").
func (m *AuthMiddleware) maybeRefresh(ctx context.Context, sess *Session, authCtx *AuthorizationContext) *AuthorizationContext {
	if m.refresher == nil || sess.Refresh == nil {
		return authCtx
	}
	if time.Until(authCtx.ExpiresAt) > m.refreshWindow {
		return authCtx
	}
	block := sess.Refresh
	if block.MaxAttempts > 0 && block.AttemptCount >= block.MaxAttempts {
		return authCtx
	}

	refreshed, newBlock, err := m.refresher.Refresh(ctx, authCtx, block)
	if err != nil {
		block.AttemptCount++
		if updErr := m.store.UpdateAuthorization(ctx, sess.ID, authCtx, block); updErr != nil {
			m.log.WarnContext(ctx, "record failed refresh attempt", "session_id", sess.ID, "error", updErr)
		}
		m.log.WarnContext(ctx, "token refresh failed", "session_id", sess.ID, "error", err)
		return authCtx
	}

	if err := m.store.UpdateAuthorization(ctx, sess.ID, refreshed, newBlock); err != nil {
		m.log.WarnContext(ctx, "persist refreshed token failed", "session_id", sess.ID, "error", err)
	}
	return refreshed
}

// RequireScopes returns middleware asserting every listed scope is present on the validated
// token, challenging with the missing scopes per RFC 6750 §3 otherwise.
func (m *AuthMiddleware) RequireScopes(scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authCtx := AuthFromEcho(c)
			if authCtx == nil {
				return m.challenge(c, http.StatusUnauthorized, "invalid_token", "no authorization context", nil)
			}
			var missing []string
			for _, s := range scopes {
				if !authCtx.HasScope(s) {
					missing = append(missing, s)
				}
			}
			if len(missing) > 0 {
				return m.challenge(c, http.StatusForbidden, "insufficient_scope", "missing required scope", missing)
			}
			return next(c)
		}
	}
}

// AuthFromEcho retrieves the validated AuthorizationContext stored by RequireAuth.
func AuthFromEcho(c echo.Context) *AuthorizationContext {
	authCtx, _ := c.Get(authContextKey).(*AuthorizationContext)
	return authCtx
}

// AuthFromContext retrieves the validated AuthorizationContext from a plain context.Context, for
// non-HTTP call sites (e.g. the stdio transport) that don't carry an echo.Context.
func AuthFromContext(ctx context.Context) *AuthorizationContext {
	authCtx, _ := ctx.Value(authCtxKeyType{}).(*AuthorizationContext)
	return authCtx
}

// WithAuthContext attaches an AuthorizationContext to a plain context.Context.
func WithAuthContext(ctx context.Context, authCtx *AuthorizationContext) context.Context {
	return context.WithValue(ctx, authCtxKeyType{}, authCtx)
}

type authCtxKeyType struct{}

// bearerTokenError distinguishes the three ways extracting a bearer token can fail (§4.5 step 2),
// each with its own code and description rather than one collapsed "missing bearer token".
type bearerTokenError struct {
	code        string
	description string
}

func extractBearerToken(r *http.Request) (string, *bearerTokenError) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", &bearerTokenError{code: "authorization_required", description: "missing Authorization header"}
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", &bearerTokenError{code: "invalid_token", description: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		return "", &bearerTokenError{code: "invalid_token", description: "Bearer token is empty"}
	}
	return token, nil
}

// challenge writes a WWW-Authenticate challenge plus the flat MCP error body (§6 "error
// response shape"), distinct from the ambient pkg/apperror nested shape used elsewhere. The
// realm and resource_metadata parameters (RFC 6750 §3, RFC 9728 §5.1) point the client at this
// server's protected-resource metadata document so it can discover the authorization server to
// obtain a token from.
func (m *AuthMiddleware) challenge(c echo.Context, status int, code, description string, missingScopes []string) error {
	scheme := "https"
	if c.Request().TLS == nil {
		scheme = "http"
	}
	host := c.Request().Host
	resourceMetadataURL := fmt.Sprintf("%s://%s/.well-known/oauth-protected-resource", scheme, host)

	header := fmt.Sprintf(`Bearer realm=%q, error=%q, error_description=%q, resource_metadata=%q`, host, code, description, resourceMetadataURL)
	if len(missingScopes) > 0 {
		header += fmt.Sprintf(`, scope=%q`, strings.Join(missingScopes, " "))
	}
	c.Response().Header().Set("WWW-Authenticate", header)
	return c.JSON(status, mcpErrorBody{Error: code, ErrorDescription: description})
}
