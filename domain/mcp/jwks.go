package mcp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwksCacheTTL and jwksCacheCapacity bound the cached key sets per §4.4: up to 50 issuers' key
// sets, each reused for up to 600s (a kid missing from a set triggers an earlier refetch), grounded on the teacher's installation-token cache idiom
// (domain/githubapp/token.go's guarded map plus an expiry timestamp per entry), generalized from
// one GitHub App to many issuers' JWKS documents.
const (
	jwksCacheTTL      = 600 * time.Second
	jwksCacheCapacity = 50
)

// jwk is a single entry of a JSON Web Key Set (RFC 7517), restricted to the fields this server
// understands: RSA and EC public keys.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA
	N string `json:"n"`
	E string `json:"e"`
	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type cachedKeySet struct {
	keys      map[string]any // kid -> *rsa.PublicKey | *ecdsa.PublicKey
	fetchedAt time.Time
}

// JWKSCache fetches and caches per-issuer JWKS documents, evicting the oldest entry once
// jwksCacheCapacity issuers are cached (§4.4 "cache up to 50 keys, 600s TTL").
type JWKSCache struct {
	mu         sync.RWMutex
	httpClient *http.Client
	byIssuer   map[string]*cachedKeySet
	order      []string // issuer insertion order, for capacity eviction
}

// NewJWKSCache constructs an empty JWKS cache.
func NewJWKSCache(httpClient *http.Client) *JWKSCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{httpClient: httpClient, byIssuer: make(map[string]*cachedKeySet)}
}

// Key returns the public key for (jwksURI, kid), fetching or refreshing the issuer's key set if
// the cached copy is stale or the kid is unknown in it.
func (c *JWKSCache) Key(jwksURI, kid string) (any, error) {
	c.mu.RLock()
	set, ok := c.byIssuer[jwksURI]
	c.mu.RUnlock()

	if ok && time.Since(set.fetchedAt) < jwksCacheTTL {
		if key, found := set.keys[kid]; found {
			return key, nil
		}
	}

	fresh, err := c.fetch(jwksURI)
	if err != nil {
		if ok {
			if key, found := set.keys[kid]; found {
				return key, nil // serve stale rather than fail a validation on a transient fetch error
			}
		}
		return nil, err
	}

	c.mu.Lock()
	if _, exists := c.byIssuer[jwksURI]; !exists {
		if len(c.order) >= jwksCacheCapacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.byIssuer, oldest)
		}
		c.order = append(c.order, jwksURI)
	}
	c.byIssuer[jwksURI] = fresh
	c.mu.Unlock()

	key, found := fresh.keys[kid]
	if !found {
		return nil, fmt.Errorf("mcp: kid %q not found in jwks at %s", kid, jwksURI)
	}
	return key, nil
}

func (c *JWKSCache) fetch(jwksURI string) (*cachedKeySet, error) {
	resp, err := c.httpClient.Get(jwksURI)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		pub, err := parseJWK(k)
		if err != nil {
			continue // skip keys this server doesn't understand (e.g. unsupported curve) rather than fail the whole set
		}
		keys[k.Kid] = pub
	}
	return &cachedKeySet{keys: keys, fetchedAt: time.Now()}, nil
}

// parseJWK only accepts RSA and the NIST curves used by ES256, per §4.4 "RS256/ES256 only".
func parseJWK(k jwk) (any, error) {
	switch k.Kty {
	case "RSA":
		n, err := base64URLBigInt(k.N)
		if err != nil {
			return nil, err
		}
		e, err := base64URLBigInt(k.E)
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		if k.Crv != "P-256" {
			return nil, fmt.Errorf("mcp: unsupported EC curve %q", k.Crv)
		}
		x, err := base64URLBigInt(k.X)
		if err != nil {
			return nil, err
		}
		y, err := base64URLBigInt(k.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("mcp: unsupported key type %q", k.Kty)
	}
}

func base64URLBigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode jwk field: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}
