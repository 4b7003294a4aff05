package mcp

// InitializeParams represents the params for the initialize method.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// ClientInfo represents client metadata.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult represents the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      map[string]string  `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ServerCapabilities describes what the server supports.
type ServerCapabilities struct {
	Tools     ToolsCapability     `json:"tools"`
	Resources ResourcesCapability `json:"resources"`
	Prompts   PromptsCapability   `json:"prompts"`
	Tasks     *TasksCapability    `json:"tasks,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability describes resource-related capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// PromptsCapability describes prompt-related capabilities.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// TasksCapability advertises the async task subsystem (C8).
type TasksCapability struct{}

// ToolsListResult represents the result of tools/list.
type ToolsListResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// ResourcesListResult represents the result of resources/list.
type ResourcesListResult struct {
	Resources  []ResourceDefinition `json:"resources"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ResourceDefinition describes an MCP resource.
type ResourceDefinition struct {
	URI         string      `json:"uri"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	MimeType    string      `json:"mimeType,omitempty"`
	URISchema   *RawSchema  `json:"-"`
	Handler     ResourceFn  `json:"-"`
}

// ResourceReadParams represents params for resources/read.
type ResourceReadParams struct {
	URI string `json:"uri"`
}

// ResourceContents represents the contents of a resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ResourceReadResult represents the result of resources/read.
type ResourceReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

// PromptsListResult represents the result of prompts/list.
type PromptsListResult struct {
	Prompts    []PromptDefinition `json:"prompts"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

// PromptDefinition describes an MCP prompt template.
type PromptDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
	ArgsSchema  *RawSchema       `json:"-"`
	Handler     PromptFn         `json:"-"`
}

// PromptArgument describes a prompt template argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptGetParams represents params for prompts/get.
type PromptGetParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// PromptMessage represents a message in a prompt result.
type PromptMessage struct {
	Role    string        `json:"role"`
	Content PromptContent `json:"content"`
}

// PromptContent represents the content of a prompt message.
type PromptContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PromptGetResult represents the result of prompts/get.
type PromptGetResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ToolAnnotations carries hints used only for logging, never for authorization (§4.6 step 4).
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   bool   `json:"openWorldHint,omitempty"`
}

// ToolDefinition describes an MCP tool registration (§3 "Tool / Resource / Prompt registration").
type ToolDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema InputSchema      `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`

	// internalSchema is the compiled validator used by C1; nil means no validation beyond sanitization.
	internalSchema *RawSchema
	// Handler is invoked by C6's tools/call algorithm. Nil means "no handler" (§4.6 step 3).
	Handler ToolFn
}

// InputSchema is the transport-visible JSON schema for tool parameters.
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes a single property in a JSON schema.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *int     `json:"minimum,omitempty"`
	Maximum     *int     `json:"maximum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ToolsCallParams represents the params for tools/call.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments map[string]any  `json:"arguments,omitempty"`
	Meta      *ToolCallMeta   `json:"_meta,omitempty"`
}

// ToolCallMeta carries the optional async-task augmentation (§4.8).
type ToolCallMeta struct {
	Task *TaskRequestMeta `json:"task,omitempty"`
}

// TaskRequestMeta requests the dispatcher run the call as a background task.
type TaskRequestMeta struct {
	TTL int64 `json:"ttl,omitempty"` // milliseconds
}

// CallToolResult represents the result of a tool call (MCP content format).
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a piece of content in tool results.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CreateTaskResult is returned by tools/call when the call was deferred to C8.
type CreateTaskResult struct {
	TaskID        string `json:"taskId"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	TTL           int64  `json:"ttl"`
	PollInterval  int64  `json:"pollInterval,omitempty"`
}

// HandlerContext is the explicit, value-passed context handed to tool/resource/prompt handlers
// (§9 "from callback closures to explicit context").
type HandlerContext struct {
	SessionID string
	RequestID string
	AuthCtx   *AuthorizationContext
	// Reply, when non-nil, delivers an already-framed *Response for a streaming tool call's
	// intermediate item over the transport's active stream; the dispatcher calls this, handlers
	// never do (§4.7 "streamed tool response").
	Reply func(item any)
	// Elicit, when non-nil, is the mcpElicit entry point (§4.9): it opens a URL-mode elicitation
	// and pushes an elicitation/create message onto the caller's SSE stream.
	Elicit    Elicitor
	Cancelled func() bool // cooperative cancellation signal (§5)
}

// ToolFn is a tool handler. It returns either a terminal result or, for streaming tools,
// implements StreamingResult below.
type ToolFn func(ctx HandlerContext, args map[string]any) (any, error)

// ResourceFn is a resource read handler.
type ResourceFn func(ctx HandlerContext, uri string) (*ResourceReadResult, error)

// PromptFn is a prompt get handler.
type PromptFn func(ctx HandlerContext, args map[string]any) (*PromptGetResult, error)

// StreamingResult is returned by a ToolFn that wants to stream items over SSE instead of
// returning a single value immediately (§4.6 step 8, §4.7 "streamed tool response").
type StreamingResult struct {
	// Items yields successive values; the channel is closed when the sequence is exhausted.
	Items <-chan any
	// Err, if non-nil after Items closes, becomes a JSON-RPC -32603 error on the stream.
	Err *error
}
