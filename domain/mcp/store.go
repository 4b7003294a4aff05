package mcp

import (
	"context"
	"encoding/json"
	"time"
)

// Retention bounds per §4.2.
const (
	streamHistoryLimit  = 1000
	sessionHistoryLimit = 100
)

// Session is the server-issued, opaque-UUID-identified session record (§3).
type Session struct {
	ID              string
	CreatedAt       time.Time
	LastActivity    time.Time
	EventCounter    int64 // monotonic, used when no per-stream tracking applies
	Auth            *AuthorizationContext
	Refresh         *TokenRefreshBlock
	StreamIDs       []string
}

// Stream is a child record of Session, keyed by an opaque stream ID (§3).
type Stream struct {
	ID               string
	SessionID        string
	EventCounter     int64
	LastDeliveredID  int64
	CreatedAt        time.Time
}

// AuthorizationContext is derived from a validated token (§3).
type AuthorizationContext struct {
	Subject      string
	ClientID     string
	Scopes       []string
	Audience     []string
	TokenType    string
	TokenHash    string // sha256(token), hex
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Issuer       string
}

// HasScope reports whether the context carries the given scope.
func (a *AuthorizationContext) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenRefreshBlock carries the opaque refresh token and its bookkeeping (§3).
type TokenRefreshBlock struct {
	RefreshToken   string
	AuthServerURI  string
	GrantedScopes  []string
	LastRefresh    time.Time
	AttemptCount   int
	MaxAttempts    int
}

// StoredMessage is one entry in a stream's or session's ordered history.
type StoredMessage struct {
	EventID   int64
	Payload   json.RawMessage
	CreatedAt time.Time
}

// SessionMeta is the caller-supplied data for creating a session.
type SessionMeta struct {
	Auth *AuthorizationContext
}

// ErrNotFound is returned by Store lookups of a missing session/stream where the spec calls for an
// explicit not-found rather than a generic error.
var ErrNotFound = &storeError{"not_found"}

type storeError struct{ msg string }

func (e *storeError) Error() string { return e.msg }

// Store abstracts session/stream persistence identically for in-memory and distributed (Redis)
// backings (§4.2). All methods are safe for concurrent use. add_message/touch_stream on a
// nonexistent session return ErrNotFound, not a hard failure — callers use this to tear down
// dangling subscriptions (§4.2 "Failure").
type Store interface {
	Create(ctx context.Context, id string, meta SessionMeta) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error

	CreateStream(ctx context.Context, sessionID string) (*Stream, error)
	DeleteStream(ctx context.Context, sessionID, streamID string) error
	TouchStream(ctx context.Context, sessionID, streamID string) error

	// AddMessage appends to a stream's history (streamID != "") or the session-level broadcast
	// history (streamID == ""), assigning the next monotonic event ID for that (sessionID, streamID)
	// key. Linearizable per (sessionID, streamID) (§4.2 concurrency contract).
	AddMessage(ctx context.Context, sessionID, streamID string, payload json.RawMessage) (int64, error)

	// MessagesSince returns entries strictly after lastEventID, ascending by event ID.
	MessagesSince(ctx context.Context, sessionID, streamID string, lastEventID int64) ([]StoredMessage, error)

	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	BindToken(ctx context.Context, tokenHash, sessionID string) error
	UpdateAuthorization(ctx context.Context, sessionID string, authCtx *AuthorizationContext, refresh *TokenRefreshBlock) error

	// SweepExpired deletes sessions idle past the configured TTL and returns the count removed.
	SweepExpired(ctx context.Context, idleTTL time.Duration) (int, error)

	// Ping reports whether the backing store is reachable, for health/readiness checks.
	Ping(ctx context.Context) error
}
