package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpforge/server/domain/mcp"
	"github.com/mcpforge/server/internal/config"
)

// fakeStore lets the health handler's Ping path be exercised independently of a real backing.
type fakeStore struct {
	mcp.Store
	pingErr error
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func doGet(t *testing.T, path string, handlerFn echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, handlerFn(c))
	return rec
}

func TestHandlerHealthReportsHealthyWhenStorePings(t *testing.T) {
	h := NewHandler(&fakeStore{}, &config.Config{})
	rec := doGet(t, "/health", h.Health)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["session_store"].Status)
}

func TestHandlerHealthReportsUnhealthyWhenStorePingFails(t *testing.T) {
	h := NewHandler(&fakeStore{pingErr: assertError("redis down")}, &config.Config{})
	rec := doGet(t, "/health", h.Health)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["session_store"].Status)
	assert.Equal(t, "redis down", resp.Checks["session_store"].Message)
}

func TestHandlerHealthz(t *testing.T) {
	h := NewHandler(&fakeStore{}, &config.Config{})
	rec := doGet(t, "/healthz", h.Healthz)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandlerReady(t *testing.T) {
	h := NewHandler(&fakeStore{}, &config.Config{})
	rec := doGet(t, "/ready", h.Ready)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHandler(&fakeStore{pingErr: assertError("down")}, &config.Config{})
	rec = doGet(t, "/ready", h.Ready)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerDebugHiddenInProduction(t *testing.T) {
	h := NewHandler(&fakeStore{}, &config.Config{Environment: "production"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/debug", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Debug(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestHandlerDebugAvailableOutsideProduction(t *testing.T) {
	h := NewHandler(&fakeStore{}, &config.Config{Environment: "local"})
	rec := doGet(t, "/debug", h.Debug)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "local", body["environment"])
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
