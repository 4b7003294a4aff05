// Package logger provides the shared slog.Logger construction and attribute helpers used
// throughout the server.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the process-wide *slog.Logger to the fx graph.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// Scope returns a slog.Attr tagging a log line with the subsystem that emitted it, e.g.
// log.With(logger.Scope("mcp.dispatcher")).
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns a slog.Attr carrying an error value under the conventional "error" key.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger constructs the process-wide logger. LOG_LEVEL selects the minimum level
// (debug/info/warn/error, case-insensitive, defaulting to info for anything else). GO_ENV=production
// selects JSON output for log aggregation; anything else uses a human-readable text handler.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("GO_ENV"), "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
