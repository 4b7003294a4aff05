package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcpforge/server/pkg/tracing"
)

// Sentinel errors produced by decodeFrame; mapped to JSON-RPC error codes in Dispatch.
var (
	errParseFailure   = errors.New("mcp: malformed json-rpc frame")
	errInvalidRequest = errors.New("mcp: invalid json-rpc request")
)

// MethodNotFoundError is returned by a handler lookup miss; Dispatch maps it to -32601.
type MethodNotFoundError struct{ Method string }

func (e *MethodNotFoundError) Error() string { return fmt.Sprintf("method not found: %s", e.Method) }

// InvalidParamsError wraps a schema ValidationError as a dispatcher-level error, mapped to -32602.
type InvalidParamsError struct{ Err error }

func (e *InvalidParamsError) Error() string  { return e.Err.Error() }
func (e *InvalidParamsError) Unwrap() error  { return e.Err }

// methodHandler processes one decoded Request and returns either a result (possibly nil for
// notifications) or an error. Handlers never write to the transport directly; Dispatch is
// responsible for framing responses, keeping C6 transport-agnostic between HTTP/SSE and stdio
// (§4.6).
type methodHandler func(ctx context.Context, hc HandlerContext, params json.RawMessage) (any, error)

// Dispatcher routes decoded JSON-RPC frames to registered method handlers and enforces the
// tools/call validation pipeline (§4.6 algorithm).
type Dispatcher struct {
	log        *slog.Logger
	registry   *Registry
	methods    map[string]methodHandler
	tasks      *TaskManager
	completion methodHandler
	elicit     Elicitor
}

// loggingLevels enumerates the RFC 5424-derived severities accepted by logging/setLevel (§4.6).
var loggingLevels = map[string]bool{
	"debug": true, "info": true, "notice": true, "warning": true,
	"error": true, "critical": true, "alert": true, "emergency": true,
}

// NewDispatcher constructs a Dispatcher wired to the given registry and task manager.
func NewDispatcher(log *slog.Logger, registry *Registry, tasks *TaskManager) *Dispatcher {
	d := &Dispatcher{log: log, registry: registry, methods: make(map[string]methodHandler), tasks: tasks}
	d.methods["initialize"] = d.handleInitialize
	d.methods["ping"] = d.handlePing
	d.methods["tools/list"] = d.handleToolsList
	d.methods["tools/call"] = d.handleToolsCall
	d.methods["resources/list"] = d.handleResourcesList
	d.methods["resources/read"] = d.handleResourcesRead
	d.methods["prompts/list"] = d.handlePromptsList
	d.methods["prompts/get"] = d.handlePromptsGet
	d.methods["tasks/get"] = d.handleTasksGet
	d.methods["tasks/list"] = d.handleTasksList
	d.methods["tasks/cancel"] = d.handleTasksCancel
	d.methods["logging/setLevel"] = d.handleLoggingSetLevel
	d.methods["completion/complete"] = d.handleCompletionComplete
	d.methods["notifications/initialized"] = d.handleInitializedNotification
	return d
}

// SetCompletionHandler wires an optional completion/complete delegate. Without one, the method
// reports METHOD_NOT_FOUND (§4.6).
func (d *Dispatcher) SetCompletionHandler(fn func(ctx context.Context, hc HandlerContext, params json.RawMessage) (any, error)) {
	d.completion = fn
}

// SetElicitor wires the mcpElicit entry point (§4.9) that handlers reach through
// HandlerContext.Elicit. Without one, Elicit stays nil and handlers must treat elicitation as
// unsupported.
func (d *Dispatcher) SetElicitor(fn Elicitor) {
	d.elicit = fn
}

// DispatchFrame decodes a raw body and dispatches every frame it contains, returning the
// responses that must be written back (empty for a notification or batch of notifications).
func (d *Dispatcher) DispatchFrame(ctx context.Context, hc HandlerContext, body []byte) []*Response {
	single, batch, err := decodeFrame(body)
	if err != nil {
		return []*Response{d.frameError(nil, err)}
	}
	if batch != nil {
		out := make([]*Response, 0, len(batch))
		for i := range batch {
			if resp := d.Dispatch(ctx, hc, &batch[i]); resp != nil {
				out = append(out, resp)
			}
		}
		return out
	}
	if resp := d.Dispatch(ctx, hc, single); resp != nil {
		return []*Response{resp}
	}
	return nil
}

func (d *Dispatcher) frameError(id json.RawMessage, err error) *Response {
	switch {
	case errors.Is(err, errParseFailure):
		return NewErrorResponse(id, ErrCodeParseError, "parse error", nil)
	default:
		return NewErrorResponse(id, ErrCodeInvalidRequest, "invalid request", nil)
	}
}

// Dispatch routes a single decoded Request. Returns nil for notifications (no response is ever
// written for those, per JSON-RPC 2.0 §4 and MCP §4.6).
func (d *Dispatcher) Dispatch(ctx context.Context, hc HandlerContext, req *Request) *Response {
	ctx, span := tracing.Start(ctx, "mcp.dispatch", attribute.String("mcp.method", req.Method))
	defer span.End()

	handler, ok := d.methods[req.Method]
	if !ok {
		if req.IsNotification() {
			d.log.WarnContext(ctx, "unknown notification ignored", "method", req.Method)
			return nil
		}
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, "method not found", map[string]string{"method": req.Method})
	}

	hc.RequestID = string(req.ID)
	hc.Elicit = d.elicit
	result, err := handler(ctx, hc, req.Params)
	if req.IsNotification() {
		if err != nil {
			d.log.ErrorContext(ctx, "notification handler failed", "method", req.Method, "error", err)
		}
		return nil
	}
	if err != nil {
		return d.toErrorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

func (d *Dispatcher) toErrorResponse(id json.RawMessage, err error) *Response {
	var notFound *MethodNotFoundError
	var invalidParams *InvalidParamsError
	switch {
	case errors.As(err, &notFound):
		return NewErrorResponse(id, ErrCodeMethodNotFound, notFound.Error(), nil)
	case errors.As(err, &invalidParams):
		return NewErrorResponse(id, ErrCodeInvalidParams, "invalid params", invalidParams.Error())
	case errors.Is(err, ErrNotFound):
		return NewErrorResponse(id, ErrCodeInvalidParams, "not found", err.Error())
	default:
		d.log.Error("internal handler error", "error", err)
		return NewErrorResponse(id, ErrCodeInternalError, "internal error", nil)
	}
}

func (d *Dispatcher) handleInitialize(_ context.Context, _ HandlerContext, params json.RawMessage) (any, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &InvalidParamsError{Err: err}
		}
	}
	version := LatestProtocolVersion
	for _, v := range SupportedProtocolVersions {
		if v == p.ProtocolVersion {
			version = v
			break
		}
	}
	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:     ToolsCapability{},
			Resources: ResourcesCapability{},
			Prompts:   PromptsCapability{},
			Tasks:     &TasksCapability{},
		},
		ServerInfo: map[string]string{"name": "mcpforge", "version": "1.0.0"},
	}, nil
}

func (d *Dispatcher) handleInitializedNotification(_ context.Context, _ HandlerContext, _ json.RawMessage) (any, error) {
	return nil, nil
}

// handlePing always succeeds with an empty result; used by clients as a liveness check (§4.6).
func (d *Dispatcher) handlePing(_ context.Context, _ HandlerContext, _ json.RawMessage) (any, error) {
	return struct{}{}, nil
}

func (d *Dispatcher) handleLoggingSetLevel(_ context.Context, _ HandlerContext, params json.RawMessage) (any, error) {
	var p struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &InvalidParamsError{Err: err}
	}
	if !loggingLevels[p.Level] {
		return nil, &InvalidParamsError{Err: fmt.Errorf("unknown logging level %q", p.Level)}
	}
	return struct{}{}, nil
}

func (d *Dispatcher) handleCompletionComplete(ctx context.Context, hc HandlerContext, params json.RawMessage) (any, error) {
	if d.completion == nil {
		return nil, &MethodNotFoundError{Method: "completion/complete"}
	}
	return d.completion(ctx, hc, params)
}

func (d *Dispatcher) handleToolsList(_ context.Context, _ HandlerContext, _ json.RawMessage) (any, error) {
	return ToolsListResult{Tools: d.registry.ListTools()}, nil
}

func (d *Dispatcher) handleResourcesList(_ context.Context, _ HandlerContext, _ json.RawMessage) (any, error) {
	return ResourcesListResult{Resources: d.registry.ListResources()}, nil
}

func (d *Dispatcher) handlePromptsList(_ context.Context, _ HandlerContext, _ json.RawMessage) (any, error) {
	return PromptsListResult{Prompts: d.registry.ListPrompts()}, nil
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, hc HandlerContext, params json.RawMessage) (any, error) {
	var p ResourceReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &InvalidParamsError{Err: err}
	}
	def, ok := d.registry.Resource(p.URI)
	if !ok {
		return nil, &MethodNotFoundError{Method: "resources/read:" + p.URI}
	}
	if verr, err := d.registry.ValidateResourceURI(def, p.URI); err != nil {
		return nil, err
	} else if verr != nil {
		return nil, &InvalidParamsError{Err: verr}
	}
	return def.Handler(hc, p.URI)
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, hc HandlerContext, params json.RawMessage) (any, error) {
	var p PromptGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &InvalidParamsError{Err: err}
	}
	def, ok := d.registry.Prompt(p.Name)
	if !ok {
		return nil, &MethodNotFoundError{Method: "prompts/get:" + p.Name}
	}
	if verr, err := d.registry.ValidatePromptArgs(def, p.Arguments); err != nil {
		return nil, err
	} else if verr != nil {
		return nil, &InvalidParamsError{Err: verr}
	}
	return def.Handler(hc, p.Arguments)
}

// handleToolsCall implements the eight-step tools/call algorithm (§4.6):
// lookup, sanitize, schema-validate, authorize (scope already enforced by middleware upstream of
// Dispatch), task-mode branch, invoke, wrap result, and error translation.
func (d *Dispatcher) handleToolsCall(ctx context.Context, hc HandlerContext, params json.RawMessage) (any, error) {
	var p ToolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &InvalidParamsError{Err: err}
	}
	def, ok := d.registry.Tool(p.Name)
	if !ok {
		return nil, &MethodNotFoundError{Method: "tools/call:" + p.Name}
	}
	if def.Handler == nil {
		return CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("tool %q has no handler", p.Name)}},
			IsError: true,
		}, nil
	}
	if err := sanitize(p.Arguments); err != nil {
		return nil, &InvalidParamsError{Err: err}
	}
	if verr, err := d.registry.ValidateToolSchema(def, p.Arguments); err != nil {
		return nil, err
	} else if verr != nil {
		// A schema failure is reported in-band so the model can self-correct, not as a protocol
		// error (§4.6 step 6); only the sanitize failure above is protocol-level INVALID_PARAMS.
		return CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: verr.Error()}},
			IsError: true,
		}, nil
	}

	if p.Meta != nil && p.Meta.Task != nil {
		return d.invokeAsTask(ctx, hc, def, p)
	}
	return d.invokeSync(ctx, hc, def, p)
}

func (d *Dispatcher) invokeSync(ctx context.Context, hc HandlerContext, def *ToolDefinition, p ToolsCallParams) (any, error) {
	result, err := def.Handler(hc, p.Arguments)
	if err != nil {
		return CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	if sr, ok := result.(StreamingResult); ok {
		final, err := d.drainStreamingResult(hc, sr)
		if err != nil {
			return nil, err
		}
		return final, nil
	}
	return wrapToolResult(result), nil
}

// drainStreamingResult implements §4.6 step 8's streaming branch / §4.7 "streamed tool response":
// each item is handed to hc.Reply so the transport can emit it as its own JSONRPCResponse carrying
// the original request ID, while the terminal CallToolResult returned here becomes the final
// response Dispatch writes back. A nil hc.Reply (no SSE stream attached) silently drops
// intermediate items; only the terminal result reaches the caller. An error left in sr.Err once
// Items closes is returned instead, and Dispatch answers it with a -32603 error response.
func (d *Dispatcher) drainStreamingResult(hc HandlerContext, sr StreamingResult) (CallToolResult, error) {
	for item := range sr.Items {
		if hc.Reply != nil {
			hc.Reply(NewSuccessResponse(json.RawMessage(hc.RequestID), wrapToolResult(item)))
		}
	}
	if sr.Err != nil && *sr.Err != nil {
		return CallToolResult{}, *sr.Err
	}
	return CallToolResult{}, nil
}

func (d *Dispatcher) invokeAsTask(ctx context.Context, hc HandlerContext, def *ToolDefinition, p ToolsCallParams) (any, error) {
	if d.tasks == nil {
		return nil, &MethodNotFoundError{Method: "tools/call (task mode unsupported)"}
	}
	ttl := p.Meta.Task.TTL
	task := d.tasks.Create(ttl, hc.AuthCtx, func(taskCtx context.Context, t *Task) {
		taskHC := hc
		taskHC.Cancelled = func() bool { return d.tasks.IsCancelled(t.ID) }
		result, err := def.Handler(taskHC, p.Arguments)
		if err != nil {
			d.tasks.Fail(t.ID, err)
			return
		}
		d.tasks.Complete(t.ID, wrapToolResult(result))
	})
	return CreateTaskResult{
		TaskID:       task.ID,
		Status:       task.Status,
		CreatedAt:    task.CreatedAt.Format(time.RFC3339),
		TTL:          ttl,
		PollInterval: defaultPollIntervalSeconds,
	}, nil
}

// handleTasksGet returns the task's current status sans result (§4.8 "tasks/get returns the
// current status sans result"); the result is only ever delivered via the initial sync/async
// response or the task's SSE push, never re-fetched through tasks/get.
func (d *Dispatcher) handleTasksGet(_ context.Context, _ HandlerContext, params json.RawMessage) (any, error) {
	var p struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &InvalidParamsError{Err: err}
	}
	task, ok := d.tasks.Get(p.TaskID)
	if !ok {
		return nil, ErrNotFound
	}
	stripped := *task
	stripped.Result = nil
	return &stripped, nil
}

// handleTasksList scopes the returned tasks to the caller (§3, §4.8): a task with no captured
// authorization context is never listed, since it cannot be attributed to any caller.
func (d *Dispatcher) handleTasksList(_ context.Context, hc HandlerContext, _ json.RawMessage) (any, error) {
	all := d.tasks.List()
	owned := make([]*Task, 0, len(all))
	for _, t := range all {
		if taskOwnedBy(t, hc.AuthCtx) {
			owned = append(owned, t)
		}
	}
	return struct {
		Tasks []*Task `json:"tasks"`
	}{Tasks: owned}, nil
}

func taskOwnedBy(t *Task, caller *AuthorizationContext) bool {
	if t.AuthCtx == nil || caller == nil {
		return false
	}
	if t.AuthCtx.Subject != "" && t.AuthCtx.Subject == caller.Subject {
		return true
	}
	return t.AuthCtx.ClientID != "" && t.AuthCtx.ClientID == caller.ClientID
}

func (d *Dispatcher) handleTasksCancel(_ context.Context, _ HandlerContext, params json.RawMessage) (any, error) {
	var p struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &InvalidParamsError{Err: err}
	}
	if err := d.tasks.Cancel(p.TaskID); err != nil {
		return nil, err
	}
	task, _ := d.tasks.Get(p.TaskID)
	return task, nil
}

// wrapToolResult normalizes a handler's raw return value into the MCP content-block shape. A
// handler may already return a CallToolResult; anything else is wrapped as a single text block via
// its fmt.Stringer or JSON form.
func wrapToolResult(result any) CallToolResult {
	if r, ok := result.(CallToolResult); ok {
		return r
	}
	if r, ok := result.(*CallToolResult); ok {
		return *r
	}
	if s, ok := result.(fmt.Stringer); ok {
		return CallToolResult{Content: []ContentBlock{{Type: "text", Text: s.String()}}}
	}
	blob, err := json.Marshal(result)
	if err != nil {
		return CallToolResult{Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("%v", result)}}, IsError: true}
	}
	return CallToolResult{Content: []ContentBlock{{Type: "text", Text: string(blob)}}}
}
