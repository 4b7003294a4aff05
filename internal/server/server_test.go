package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpforge/server/internal/config"
)

func TestNewEchoAppliesCORSAndRecoversPanics(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEcho(EchoParams{Config: &config.Config{Debug: true}, Log: log})

	e.GET("/boom", func(c echo.Context) error { panic("nope") })
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderOrigin, "https://client.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://client.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec = httptest.NewRecorder()
	assert.NotPanics(t, func() { e.ServeHTTP(rec, req) }, "recover middleware must turn a handler panic into an HTTP response")
}

func TestNewEchoTrimsTrailingSlash(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEcho(EchoParams{Config: &config.Config{}, Log: log})
	e.GET("/tools", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/tools/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
