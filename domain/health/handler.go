package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mcpforge/server/domain/mcp"
	"github.com/mcpforge/server/internal/config"
	"github.com/mcpforge/server/internal/version"
)

// Handler serves liveness/readiness checks for the MCP session store backing (in-memory vs
// Redis), replacing the teacher's Postgres-pool ping with a Store.Ping probe.
type Handler struct {
	store   mcp.Store
	cfg     *config.Config
	startAt time.Time
}

// NewHandler creates a new health handler.
func NewHandler(store mcp.Store, cfg *config.Config) *Handler {
	return &Handler{
		store:   store,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health returns the overall service health, probing the session store's backing.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	storeMessage := ""
	if err := h.store.Ping(ctx); err != nil {
		storeStatus = "unhealthy"
		storeMessage = err.Error()
	}

	overallStatus := "healthy"
	if storeStatus == "unhealthy" {
		overallStatus = "unhealthy"
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks: map[string]Check{
			"session_store": {
				Status:  storeStatus,
				Message: storeMessage,
			},
		},
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, response)
}

// Healthz returns a simple liveness check (for k8s liveness probes; exempt from auth per the
// authorization pipeline's bypass list).
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready returns readiness status (for k8s readiness probes).
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "session store unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Debug returns debug information (only outside production).
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(http.StatusOK, map[string]any{
		"environment":   h.cfg.Environment,
		"debug":         h.cfg.Debug,
		"go_version":    runtime.Version(),
		"goroutines":    runtime.NumGoroutine(),
		"redis_enabled": h.cfg.Redis.Enabled(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"sys_mb":         mem.Sys / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
	})
}
