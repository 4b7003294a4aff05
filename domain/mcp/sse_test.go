package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStreamManager(t *testing.T) (*StreamManager, Store, Broker) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewMemoryStore()
	broker := NewMemoryBroker()
	return NewStreamManager(log, store, broker), store, broker
}

func streamRequest(sessionID string, authCtx *AuthorizationContext) (*httptest.ResponseRecorder, echo.Context, context.CancelFunc) {
	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if authCtx != nil {
		c.Set(authContextKey, authCtx)
	}
	return rec, c, cancel
}

func TestStreamManagerHandleStreamRequiresSessionID(t *testing.T) {
	m, _, _ := newTestStreamManager(t)
	rec, c, cancel := streamRequest("", nil)
	defer cancel()
	require.NoError(t, m.HandleStream(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamManagerHandleStreamRequiresAuth(t *testing.T) {
	m, _, _ := newTestStreamManager(t)
	rec, c, cancel := streamRequest("sess-1", nil)
	defer cancel()
	require.NoError(t, m.HandleStream(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamManagerHandleStreamRejectsUnknownSession(t *testing.T) {
	m, _, _ := newTestStreamManager(t)
	rec, c, cancel := streamRequest("ghost", &AuthorizationContext{TokenHash: "hash-1"})
	defer cancel()
	require.NoError(t, m.HandleStream(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamManagerHandleStreamRejectsMismatchedToken(t *testing.T) {
	m, store, _ := newTestStreamManager(t)
	sess, err := store.Create(context.Background(), "sess-1", SessionMeta{Auth: &AuthorizationContext{TokenHash: "hash-1"}})
	require.NoError(t, err)

	rec, c, cancel := streamRequest(sess.ID, &AuthorizationContext{TokenHash: "hash-2"})
	defer cancel()
	require.NoError(t, m.HandleStream(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func waitForBody(t *testing.T, rec *httptest.ResponseRecorder, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(rec.Body.String(), substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for body to contain %q, got: %s", substr, rec.Body.String())
}

func TestStreamManagerHandleStreamReplaysHistoryThenDeliversPublish(t *testing.T) {
	m, store, _ := newTestStreamManager(t)
	auth := &AuthorizationContext{TokenHash: "hash-1"}
	sess, err := store.Create(context.Background(), "sess-1", SessionMeta{Auth: auth})
	require.NoError(t, err)
	_, err = store.AddMessage(context.Background(), sess.ID, "", json.RawMessage(`{"replayed":true}`))
	require.NoError(t, err)

	rec, c, cancel := streamRequest(sess.ID, auth)
	done := make(chan struct{})
	go func() {
		_ = m.HandleStream(c)
		close(done)
	}()

	waitForBody(t, rec, `"replayed":true`)

	require.NoError(t, m.Publish(context.Background(), sess.ID, json.RawMessage(`{"live":true}`)))
	waitForBody(t, rec, `"live":true`)

	cancel()
	<-done
}

func TestStreamManagerPublishDeliversToExactlyOneStream(t *testing.T) {
	m, store, _ := newTestStreamManager(t)
	auth := &AuthorizationContext{TokenHash: "hash-1"}
	sess, err := store.Create(context.Background(), "sess-1", SessionMeta{Auth: auth})
	require.NoError(t, err)

	rec1, c1, cancel1 := streamRequest(sess.ID, auth)
	done1 := make(chan struct{})
	go func() {
		_ = m.HandleStream(c1)
		close(done1)
	}()
	time.Sleep(20 * time.Millisecond)

	rec2, c2, cancel2 := streamRequest(sess.ID, auth)
	done2 := make(chan struct{})
	go func() {
		_ = m.HandleStream(c2)
		close(done2)
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, m.Publish(context.Background(), sess.ID, json.RawMessage(`{"directed":true}`)))
	waitForBody(t, rec1, `"directed":true`)

	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, rec2.Body.String(), `"directed":true`, "a session-direct message must reach exactly one stream")

	cancel1()
	cancel2()
	<-done1
	<-done2
}

func TestStreamManagerBroadcastDeliversToConnectedStream(t *testing.T) {
	m, store, _ := newTestStreamManager(t)
	auth := &AuthorizationContext{TokenHash: "hash-1"}
	sess, err := store.Create(context.Background(), "sess-1", SessionMeta{Auth: auth})
	require.NoError(t, err)

	rec, c, cancel := streamRequest(sess.ID, auth)
	done := make(chan struct{})
	go func() {
		_ = m.HandleStream(c)
		close(done)
	}()
	// give HandleStream time to subscribe before broadcasting.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, m.Broadcast(context.Background(), json.RawMessage(`{"announcement":true}`), 1))
	waitForBody(t, rec, `"announcement":true`)

	cancel()
	<-done
}
