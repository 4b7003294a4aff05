package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler serves the Streamable HTTP transport's unified endpoint: POST for request/response and
// notifications, GET for the SSE upgrade (delegated to StreamManager), DELETE for session
// termination (§4.6, §4.7, §6 "Streamable HTTP transport").
type Handler struct {
	log        *slog.Logger
	dispatcher *Dispatcher
	store      Store
	streams    *StreamManager
}

// NewHandler constructs the unified MCP HTTP handler.
func NewHandler(log *slog.Logger, dispatcher *Dispatcher, store Store, streams *StreamManager) *Handler {
	return &Handler{log: log.With("component", "mcp.handler"), dispatcher: dispatcher, store: store, streams: streams}
}

// HandlePost processes one JSON-RPC frame (single request or batch) over HTTP POST.
func (h *Handler) HandlePost(c echo.Context) error {
	ctx := c.Request().Context()
	authCtx := AuthFromEcho(c)
	if authCtx == nil {
		return c.JSON(http.StatusUnauthorized, mcpErrorBody{Error: "invalid_token", ErrorDescription: "missing authorization context"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse(nil, ErrCodeParseError, "could not read request body", nil))
	}

	sessionID := c.Request().Header.Get("Mcp-Session-Id")
	isInitialize := looksLikeInitialize(body)

	var sess *Session
	switch {
	case sessionID == "" && isInitialize:
		sess, err = h.store.Create(ctx, newSessionID(), SessionMeta{Auth: authCtx})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "could not create session"})
		}
		if err := h.store.BindToken(ctx, authCtx.TokenHash, sess.ID); err != nil {
			h.log.WarnContext(ctx, "bind token failed", "error", err)
		}
	case sessionID == "":
		return c.JSON(http.StatusBadRequest, mcpErrorBody{Error: "invalid_request", ErrorDescription: "Mcp-Session-Id header is required"})
	default:
		sess, err = h.store.Get(ctx, sessionID)
		if err != nil {
			return c.JSON(http.StatusNotFound, mcpErrorBody{Error: "invalid_request", ErrorDescription: "session not found or expired"})
		}
		if sess.Auth == nil || sess.Auth.TokenHash != authCtx.TokenHash {
			return c.JSON(http.StatusForbidden, mcpErrorBody{Error: "forbidden", ErrorDescription: "session bound to a different token"})
		}
	}

	hc := HandlerContext{SessionID: sess.ID, AuthCtx: authCtx}

	// Negotiation (§4.7): a POST asking for text/event-stream upgrades to SSE only if the session
	// has no stream already attached; otherwise it falls through to the regular JSON response.
	if wantsEventStream(c) {
		active, err := h.hasActiveStream(ctx, sess.ID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "could not check stream state"})
		}
		if !active {
			return h.streams.HandlePostUpgrade(c, h.dispatcher, sess, hc, body)
		}
	}

	responses := h.dispatcher.DispatchFrame(ctx, hc, body)

	if isInitialize {
		c.Response().Header().Set("Mcp-Session-Id", sess.ID)
	}

	if len(responses) == 0 {
		return c.NoContent(http.StatusAccepted)
	}
	if len(responses) == 1 {
		return c.JSON(http.StatusOK, responses[0])
	}
	return c.JSON(http.StatusOK, responses)
}

func (h *Handler) hasActiveStream(ctx context.Context, sessionID string) (bool, error) {
	sess, err := h.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return len(sess.StreamIDs) > 0, nil
}

func wantsEventStream(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get("Accept"), "text/event-stream")
}

// HandleDelete terminates a session, tearing down its streams and history.
func (h *Handler) HandleDelete(c echo.Context) error {
	sessionID := c.Request().Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, mcpErrorBody{Error: "invalid_request", ErrorDescription: "Mcp-Session-Id header is required"})
	}
	authCtx := AuthFromEcho(c)
	if authCtx != nil {
		if sess, err := h.store.Get(c.Request().Context(), sessionID); err == nil {
			if sess.Auth == nil || sess.Auth.TokenHash != authCtx.TokenHash {
				return c.JSON(http.StatusForbidden, mcpErrorBody{Error: "forbidden", ErrorDescription: "session bound to a different token"})
			}
		}
	}
	if err := h.store.Delete(c.Request().Context(), sessionID); err != nil {
		return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "could not delete session"})
	}
	return c.NoContent(http.StatusNoContent)
}

func looksLikeInitialize(body []byte) bool {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Method == "initialize"
}
