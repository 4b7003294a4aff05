package mcp

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcpforge/server/internal/config"
)

// TokenRefresher is the external OAuth client collaborator invoked by step 6 of the authorization
// pipeline (§4.5): "attempt refresh via the external OAuth client". The returned
// AuthorizationContext and TokenRefreshBlock replace the session's current ones on success.
type TokenRefresher interface {
	Refresh(ctx context.Context, authCtx *AuthorizationContext, block *TokenRefreshBlock) (*AuthorizationContext, *TokenRefreshBlock, error)
}

// oauth2Refresher implements TokenRefresher against a standard RFC 6749 token endpoint via
// golang.org/x/oauth2, the same refresh-grant flow the teacher's outbound OIDC client already
// depends on for its own service-account tokens.
type oauth2Refresher struct {
	cfg oauth2.Config
}

// NewTokenRefresher builds the refresh-on-expiry-window collaborator (§4.5 step 6) from the
// Zitadel OIDC settings. Returns nil when no client credentials are configured, in which case
// AuthMiddleware skips step 6 entirely rather than failing every request.
func NewTokenRefresher(cfg *config.Config) TokenRefresher {
	if cfg.Zitadel.ClientJWT == "" && cfg.Zitadel.ClientJWTPath == "" {
		return nil
	}
	return &oauth2Refresher{
		cfg: oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.Zitadel.GetIssuer() + "/oauth/v2/token",
			},
		},
	}
}

func (r *oauth2Refresher) Refresh(ctx context.Context, authCtx *AuthorizationContext, block *TokenRefreshBlock) (*AuthorizationContext, *TokenRefreshBlock, error) {
	if block.RefreshToken == "" {
		return nil, nil, fmt.Errorf("mcp: refresh block has no refresh token")
	}
	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: block.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("refresh token grant: %w", err)
	}

	refreshed := *authCtx
	refreshed.TokenHash = TokenHash(tok.AccessToken)
	refreshed.ExpiresAt = tok.Expiry

	newBlock := *block
	newBlock.LastRefresh = time.Now()
	newBlock.AttemptCount = 0
	if tok.RefreshToken != "" {
		newBlock.RefreshToken = tok.RefreshToken
	}
	return &refreshed, &newBlock, nil
}
