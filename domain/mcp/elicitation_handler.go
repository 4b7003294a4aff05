package mcp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ElicitationHandler serves the external completion callback surface for C9 (§6): the out-of-band
// agent that handled a URL-mode elicitation reports back here, never through the JSON-RPC
// endpoint.
type ElicitationHandler struct {
	log          *slog.Logger
	elicitations *ElicitationManager
	streams      *StreamManager
}

// NewElicitationHandler constructs the elicitation callback handler.
func NewElicitationHandler(log *slog.Logger, elicitations *ElicitationManager, streams *StreamManager) *ElicitationHandler {
	return &ElicitationHandler{log: log.With("component", "mcp.elicitation"), elicitations: elicitations, streams: streams}
}

// elicitationCompleteResult is the success body for complete/cancel (§8 scenario 6: "200
// {success:true, elicitationId:"e1"}").
type elicitationCompleteResult struct {
	Success       bool   `json:"success"`
	ElicitationID string `json:"elicitationId"`
}

// HandleComplete serves POST /elicitation/:id/complete.
func (h *ElicitationHandler) HandleComplete(c echo.Context) error {
	var body struct {
		Response map[string]any `json:"response"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, mcpErrorBody{Error: "invalid_request", ErrorDescription: "could not parse request body"})
	}
	return h.finish(c, func(id string) error { return h.elicitations.Complete(id, body.Response) })
}

// HandleCancel serves POST /elicitation/:id/cancel.
func (h *ElicitationHandler) HandleCancel(c echo.Context) error {
	return h.finish(c, func(id string) error { return h.elicitations.Cancel(id) })
}

// finish runs a terminating action and maps ElicitationManager's errors onto the idempotency
// contract (§4.9, §7): unknown id is 404 not_found, already-terminal is 400 already_*. On success
// it publishes the notifications/elicitation/complete broadcast to every attached stream of the
// session (§4.9, §8 scenario 6).
func (h *ElicitationHandler) finish(c echo.Context, action func(id string) error) error {
	id := c.Param("id")
	e, ok := h.elicitations.Get(id)
	if !ok {
		return c.JSON(http.StatusNotFound, mcpErrorBody{Error: "not_found", ErrorDescription: "unknown elicitation id"})
	}
	if err := action(id); err != nil {
		switch {
		case isElicitationTerminal(e.Status) && e.Status == ElicitationStatusCompleted:
			return c.JSON(http.StatusBadRequest, mcpErrorBody{Error: "already_completed", ErrorDescription: "elicitation already completed"})
		case isElicitationTerminal(e.Status):
			return c.JSON(http.StatusBadRequest, mcpErrorBody{Error: "already_cancelled", ErrorDescription: "elicitation already cancelled"})
		default:
			return c.JSON(http.StatusNotFound, mcpErrorBody{Error: "not_found", ErrorDescription: "unknown elicitation id"})
		}
	}

	if err := h.broadcastComplete(c, id); err != nil {
		h.log.WarnContext(c.Request().Context(), "broadcast elicitation complete failed", "elicitation_id", id, "error", err)
	}
	return c.JSON(http.StatusOK, elicitationCompleteResult{Success: true, ElicitationID: id})
}

func (h *ElicitationHandler) broadcastComplete(c echo.Context, id string) error {
	payload, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  struct {
			ElicitationID string `json:"elicitationId"`
		} `json:"params"`
	}{JSONRPC: "2.0", Method: "notifications/elicitation/complete", Params: struct {
		ElicitationID string `json:"elicitationId"`
	}{ElicitationID: id}})
	if err != nil {
		return err
	}
	return h.streams.Broadcast(c.Request().Context(), payload, time.Now().UnixNano())
}

// HandleStatus serves GET /elicitation/:id/status, a pure poll with no side effects.
func (h *ElicitationHandler) HandleStatus(c echo.Context) error {
	e, ok := h.elicitations.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, mcpErrorBody{Error: "not_found", ErrorDescription: "unknown elicitation id"})
	}
	return c.JSON(http.StatusOK, e)
}
