// Package main provides the entry point for the MCP session/streaming coordination server.
//
// @title MCP Server
// @version 0.1.0
// @description Model Context Protocol session/streaming coordination server
// @license.name Proprietary
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description OAuth 2.0 access token (format: "Bearer <token>")
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/mcpforge/server/domain/health"
	"github.com/mcpforge/server/domain/mcp"
	"github.com/mcpforge/server/domain/oauthmeta"
	"github.com/mcpforge/server/domain/tracing"
	"github.com/mcpforge/server/internal/config"
	"github.com/mcpforge/server/internal/server"
	"github.com/mcpforge/server/pkg/logger"
)

func main() {
	// Order matters: .env.local overrides .env. Load() won't overwrite existing vars,
	// Overload() will.
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		server.Module,
		tracing.Module,

		// OAuth discovery documents, health/readiness/metrics
		oauthmeta.Module,
		health.Module,

		// MCP session/streaming coordination core (C1-C9)
		mcp.Module,
	).Run()
}
