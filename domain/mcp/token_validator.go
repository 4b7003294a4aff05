package mcp

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zitadel/oidc/v3/pkg/client/rs"
)

// Errors surfaced to the authorization pipeline (C5); mapped to WWW-Authenticate challenges there.
var (
	ErrTokenMalformed = errors.New("mcp: malformed bearer token")
	ErrTokenExpired   = errors.New("mcp: token expired")
	ErrTokenAudience  = errors.New("mcp: token audience mismatch")
	ErrTokenAlgorithm = errors.New("mcp: unsupported token signing algorithm")
	ErrTokenInactive  = errors.New("mcp: token inactive")
)

// TokenValidatorConfig configures TokenValidator. When ExpectedAudience is set, a token whose aud
// claim does not contain it is rejected (§4.4 "reject tokens not bound to this resource server");
// when it is empty, the audience is not checked.
type TokenValidatorConfig struct {
	JWKSURI          string
	ExpectedAudience string
	ExpectedIssuer   string
	// Introspection, if set, is consulted for opaque (non-JWT) tokens per RFC 7662.
	Introspection rs.ResourceServer
}

// TokenValidator verifies bearer tokens against a JWKS-backed RS256/ES256 signature check, falling
// back to RFC 7662 introspection for opaque tokens (§4.4).
type TokenValidator struct {
	cfg  TokenValidatorConfig
	jwks *JWKSCache
}

// NewTokenValidator constructs a TokenValidator backed by the given JWKS cache.
func NewTokenValidator(cfg TokenValidatorConfig, jwks *JWKSCache) *TokenValidator {
	return &TokenValidator{cfg: cfg, jwks: jwks}
}

// TokenHash returns the sha256 hex digest of a raw token, the only form ever persisted or logged
// (§4.4 "never store or log the raw token value").
func TokenHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Validate verifies a bearer token and returns the resulting AuthorizationContext. A JWT-shaped
// token (three dot-separated segments) is verified locally against the JWKS; anything else is
// sent to RFC 7662 introspection if configured.
func (v *TokenValidator) Validate(ctx context.Context, raw string) (*AuthorizationContext, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}
	if looksLikeJWT(raw) {
		return v.validateJWT(raw)
	}
	if v.cfg.Introspection == nil {
		return nil, ErrTokenMalformed
	}
	return v.introspect(ctx, raw)
}

func looksLikeJWT(raw string) bool {
	dots := 0
	for _, r := range raw {
		if r == '.' {
			dots++
		}
	}
	return dots == 2
}

func (v *TokenValidator) validateJWT(raw string) (*AuthorizationContext, error) {
	var claims jwt.MapClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
		case *jwt.SigningMethodECDSA:
		default:
			return nil, ErrTokenAlgorithm
		}
		kid, _ := t.Header["kid"].(string)
		key, err := v.jwks.Key(v.cfg.JWKSURI, kid)
		if err != nil {
			return nil, fmt.Errorf("resolve signing key: %w", err)
		}
		switch key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			return key, nil
		default:
			return nil, ErrTokenAlgorithm
		}
	}, jwt.WithValidMethods([]string{"RS256", "ES256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}

	authCtx, err := authContextFromClaims(claims, raw)
	if err != nil {
		return nil, err
	}
	if v.cfg.ExpectedAudience != "" && !containsString(authCtx.Audience, v.cfg.ExpectedAudience) {
		return nil, ErrTokenAudience
	}
	return authCtx, nil
}

// introspectionResponse is the RFC 7662 response shape this server asks Zitadel-compatible
// introspection endpoints for, mirroring the teacher's own introspectionResponse in
// pkg/auth/zitadel.go rather than any type the oidc client package exports directly.
type introspectionResponse struct {
	Active     bool           `json:"active"`
	Scope      string         `json:"scope"`
	ClientID   string         `json:"client_id"`
	Expiration introspectTime `json:"exp"`
	IssuedAt   introspectTime `json:"iat"`
	Subject    string         `json:"sub"`
	Audience   any            `json:"aud"`
	Issuer     string         `json:"iss"`
}

func (r *introspectionResponse) IsActive() bool               { return r.Active }
func (r *introspectionResponse) SetActive(active bool)        { r.Active = active }
func (r *introspectionResponse) GetEmail() string             { return "" }
func (r *introspectionResponse) GetPreferredUsername() string { return "" }
func (r *introspectionResponse) GetName() string              { return "" }

type introspectTime struct{ time.Time }

func (t *introspectTime) UnmarshalJSON(data []byte) error {
	var unix int64
	if err := json.Unmarshal(data, &unix); err != nil {
		return err
	}
	t.Time = time.Unix(unix, 0)
	return nil
}

func audienceList(aud any) []string {
	switch v := aud.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (v *TokenValidator) introspect(ctx context.Context, raw string) (*AuthorizationContext, error) {
	resp, err := rs.Introspect[*introspectionResponse](ctx, v.cfg.Introspection, raw)
	if err != nil {
		return nil, fmt.Errorf("introspect token: %w", err)
	}
	if !resp.Active {
		return nil, ErrTokenInactive
	}
	audience := audienceList(resp.Audience)
	if v.cfg.ExpectedAudience != "" && !containsString(audience, v.cfg.ExpectedAudience) {
		return nil, ErrTokenAudience
	}
	return &AuthorizationContext{
		Subject:   resp.Subject,
		ClientID:  resp.ClientID,
		Scopes:    splitScope(resp.Scope),
		Audience:  audience,
		TokenType: "Bearer",
		TokenHash: TokenHash(raw),
		IssuedAt:  resp.IssuedAt.Time,
		ExpiresAt: resp.Expiration.Time,
		Issuer:    resp.Issuer,
	}, nil
}

func authContextFromClaims(claims jwt.MapClaims, raw string) (*AuthorizationContext, error) {
	sub, _ := claims["sub"].(string)
	clientID, _ := claims["client_id"].(string)
	if clientID == "" {
		clientID, _ = claims["azp"].(string)
	}
	iss, _ := claims["iss"].(string)

	var scopes []string
	switch sc := claims["scope"].(type) {
	case string:
		scopes = splitScope(sc)
	case []any:
		for _, s := range sc {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	audience, err := claims.GetAudience()
	if err != nil {
		audience = nil
	}

	expiresAt := time.Time{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	issuedAt := time.Time{}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issuedAt = iat.Time
	}

	return &AuthorizationContext{
		Subject:   sub,
		ClientID:  clientID,
		Scopes:    scopes,
		Audience:  audience,
		TokenType: "Bearer",
		TokenHash: TokenHash(raw),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Issuer:    iss,
	}, nil
}

func containsString(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}
