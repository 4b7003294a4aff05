package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mcpforge/server/pkg/sse"
)

// heartbeatInterval keeps intermediary proxies from closing an idle SSE connection (§4.7,
// "every 30s"). The teacher's own equivalent loop used a 4h ticker meant for direct client
// connections without an intervening proxy; MCP streams are reopened by any HTTP client in the
// path, so the interval is tightened here.
const heartbeatInterval = 30 * time.Second

// StreamManager owns SSE connections: registering a stream with the Store, replaying missed
// events on reconnect via Last-Event-ID, and fanning out Broker-published messages to whichever
// local connection owns the target session or stream (§4.7).
type StreamManager struct {
	log    *slog.Logger
	store  Store
	broker Broker
}

// NewStreamManager constructs a StreamManager.
func NewStreamManager(log *slog.Logger, store Store, broker Broker) *StreamManager {
	return &StreamManager{log: log.With("component", "mcp.sse"), store: store, broker: broker}
}

// HandleStream serves the GET /mcp SSE upgrade: it creates (or resumes) a stream, replays history
// since Last-Event-ID, then blocks relaying session-direct and broadcast messages until the client
// disconnects (§4.7 steps 1-5).
func (m *StreamManager) HandleStream(c echo.Context) error {
	sessionID := c.Request().Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, mcpErrorBody{Error: "invalid_request", ErrorDescription: "Mcp-Session-Id header is required"})
	}
	authCtx := AuthFromEcho(c)
	if authCtx == nil {
		return c.JSON(http.StatusUnauthorized, mcpErrorBody{Error: "invalid_token", ErrorDescription: "missing authorization context"})
	}

	ctx := c.Request().Context()
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return c.JSON(http.StatusNotFound, mcpErrorBody{Error: "invalid_request", ErrorDescription: "session not found or expired"})
	}
	if sess.Auth == nil || sess.Auth.TokenHash != authCtx.TokenHash {
		return c.JSON(http.StatusForbidden, mcpErrorBody{Error: "forbidden", ErrorDescription: "session bound to a different token"})
	}

	stream, err := m.store.CreateStream(ctx, sessionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "could not open stream"})
	}
	defer m.store.DeleteStream(context.Background(), sessionID, stream.ID)

	w := c.Response()
	w.Header().Set("X-Accel-Buffering", "no")
	writer := sse.NewWriter(w)
	if err := writer.Start(); err != nil {
		return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "response does not support streaming"})
	}

	lastEventID := int64(0)
	if raw := c.Request().Header.Get("Last-Event-ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	if err := m.replay(ctx, writer, sessionID, stream.ID, lastEventID); err != nil {
		m.log.WarnContext(ctx, "replay failed", "session_id", sessionID, "error", err)
	}

	sessionSub, err := m.broker.Subscribe(ctx, streamTopic(stream.ID))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "could not subscribe to stream topic"})
	}
	defer sessionSub.Close()

	broadcastSub, err := m.broker.Subscribe(ctx, topicBroadcast)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "could not subscribe to broadcast topic"})
	}
	defer broadcastSub.Close()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	m.log.InfoContext(ctx, "sse stream opened", "session_id", sessionID, "stream_id", stream.ID)
	for {
		select {
		case <-ctx.Done():
			m.log.InfoContext(ctx, "sse stream closed", "session_id", sessionID, "stream_id", stream.ID)
			return nil
		case msg, ok := <-sessionSub.C():
			if !ok {
				return nil
			}
			if err := writer.WriteEventWithID("message", msg.EventID, msg.Payload); err != nil {
				return nil
			}
			_ = m.store.TouchStream(ctx, sessionID, stream.ID)
		case msg, ok := <-broadcastSub.C():
			if !ok {
				return nil
			}
			if err := writer.WriteEventWithID("notification", msg.EventID, msg.Payload); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := writer.WriteComment("heartbeat"); err != nil {
				return nil
			}
		}
	}
}

func (m *StreamManager) replay(ctx context.Context, writer *sse.Writer, sessionID, streamID string, lastEventID int64) error {
	missed, err := m.store.MessagesSince(ctx, sessionID, streamID, lastEventID)
	if err != nil {
		return err
	}
	for _, entry := range missed {
		if err := writer.WriteEventWithID("message", entry.EventID, entry.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Publish delivers a payload to exactly one stream attached to the session — the first available,
// per §4.7 "at-most-one stream receives each directed message" — persisting it into that stream's
// own history so a reconnecting client with a stale Last-Event-ID can replay it. A session with no
// attached stream drops the message; there is nothing to deliver it to.
func (m *StreamManager) Publish(ctx context.Context, sessionID string, payload json.RawMessage) error {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(sess.StreamIDs) == 0 {
		return nil
	}
	targetStreamID := sess.StreamIDs[0]
	eventID, err := m.store.AddMessage(ctx, sessionID, targetStreamID, payload)
	if err != nil {
		return err
	}
	return m.broker.Publish(ctx, streamTopic(targetStreamID), eventID, payload)
}

// Broadcast delivers a payload to every connected stream across all sessions, ordered by
// publish-time event ID rather than any per-session sequence (§9 "broadcast ordering is
// timestamp-based, not per-recipient").
func (m *StreamManager) Broadcast(ctx context.Context, payload json.RawMessage, eventID int64) error {
	return m.broker.Publish(ctx, topicBroadcast, eventID, payload)
}

// HandlePostUpgrade serves a POST that negotiated an SSE upgrade (§4.7 "Negotiation"): rather than
// a single JSON body, every response for this frame — plus any intermediate items a streaming tool
// call yields via HandlerContext.Reply — is written as its own SSE frame on a stream scoped to this
// request. The HTTP response does not close between items; it closes once dispatch returns.
func (m *StreamManager) HandlePostUpgrade(c echo.Context, dispatcher *Dispatcher, sess *Session, hc HandlerContext, body []byte) error {
	ctx := c.Request().Context()
	stream, err := m.store.CreateStream(ctx, sess.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "could not open stream"})
	}
	defer m.store.DeleteStream(context.Background(), sess.ID, stream.ID)

	w := c.Response()
	w.Header().Set("Mcp-Session-Id", stream.ID)
	w.Header().Set("X-Accel-Buffering", "no")
	writer := sse.NewWriter(w)
	if err := writer.Start(); err != nil {
		return c.JSON(http.StatusInternalServerError, mcpErrorBody{Error: "server_error", ErrorDescription: "response does not support streaming"})
	}

	hc.Reply = func(item any) {
		payload, err := json.Marshal(item)
		if err != nil {
			return
		}
		eventID, err := m.store.AddMessage(ctx, sess.ID, stream.ID, payload)
		if err != nil {
			return
		}
		_ = writer.WriteEventWithID("message", eventID, item)
	}

	for _, resp := range dispatcher.DispatchFrame(ctx, hc, body) {
		payload, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		eventID, err := m.store.AddMessage(ctx, sess.ID, stream.ID, payload)
		if err != nil {
			continue
		}
		if err := writer.WriteEventWithID("message", eventID, resp); err != nil {
			return nil
		}
	}
	return nil
}
