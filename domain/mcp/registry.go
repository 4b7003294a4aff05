package mcp

import (
	"fmt"
	"sync"
)

// Registry holds tool/resource/prompt registrations, keyed by name (tools, prompts) or uri
// (resources). Registrations are additive and process-lifetime-scoped; re-registering the same key
// replaces the prior entry. Once Freeze is called (at "server ready"), registration panics rather
// than silently racing with in-flight request handling (§3 "registrations are frozen at server
// ready").
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	tools    map[string]*ToolDefinition
	toolOrd  []string
	resources map[string]*ResourceDefinition
	resOrd    []string
	prompts   map[string]*PromptDefinition
	promptOrd []string

	schemas *schemaCache
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*ToolDefinition),
		resources: make(map[string]*ResourceDefinition),
		prompts:   make(map[string]*PromptDefinition),
		schemas:   newSchemaCache(),
	}
}

// RegisterTool adds or replaces a tool registration. schema may be nil (no internal validation
// beyond sanitization).
func (r *Registry) RegisterTool(def ToolDefinition, schema *RawSchema, handler ToolFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("mcp: cannot register tool after server-ready freeze: " + def.Name)
	}
	def.internalSchema = schema
	def.Handler = handler
	if _, exists := r.tools[def.Name]; !exists {
		r.toolOrd = append(r.toolOrd, def.Name)
	}
	r.tools[def.Name] = &def
}

// RegisterResource adds or replaces a resource registration.
func (r *Registry) RegisterResource(def ResourceDefinition, uriSchema *RawSchema, handler ResourceFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("mcp: cannot register resource after server-ready freeze: " + def.URI)
	}
	def.URISchema = uriSchema
	def.Handler = handler
	if _, exists := r.resources[def.URI]; !exists {
		r.resOrd = append(r.resOrd, def.URI)
	}
	r.resources[def.URI] = &def
}

// RegisterPrompt adds or replaces a prompt registration.
func (r *Registry) RegisterPrompt(def PromptDefinition, argsSchema *RawSchema, handler PromptFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("mcp: cannot register prompt after server-ready freeze: " + def.Name)
	}
	def.ArgsSchema = argsSchema
	def.Handler = handler
	if _, exists := r.prompts[def.Name]; !exists {
		r.promptOrd = append(r.promptOrd, def.Name)
	}
	r.prompts[def.Name] = &def
}

// Freeze marks the registry read-only; called once at server-ready (§3, §5).
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Tool looks up a tool by name.
func (r *Registry) Tool(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Resource looks up a resource by URI.
func (r *Registry) Resource(uri string) (*ResourceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[uri]
	return res, ok
}

// Prompt looks up a prompt by name.
func (r *Registry) Prompt(name string) (*PromptDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[name]
	return p, ok
}

// ListTools returns all registered tools in registration order.
func (r *Registry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.toolOrd))
	for _, name := range r.toolOrd {
		out = append(out, *r.tools[name])
	}
	return out
}

// ListResources returns all registered resources in registration order.
func (r *Registry) ListResources() []ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceDefinition, 0, len(r.resOrd))
	for _, uri := range r.resOrd {
		out = append(out, *r.resources[uri])
	}
	return out
}

// ListPrompts returns all registered prompts in registration order.
func (r *Registry) ListPrompts() []PromptDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PromptDefinition, 0, len(r.promptOrd))
	for _, name := range r.promptOrd {
		out = append(out, *r.prompts[name])
	}
	return out
}

// ValidateToolArgs sanitizes and, if the tool declared an internal schema, validates arguments.
func (r *Registry) ValidateToolArgs(def *ToolDefinition, args map[string]any) (*ValidationError, error) {
	return r.schemas.validate(def.internalSchema, args)
}

// ValidateToolSchema validates already-sanitized arguments against the tool's declared schema,
// without re-running sanitization. The dispatcher's tools/call path sanitizes separately (§4.6
// step 5) so it can report a schema failure (step 6) as an in-band CallToolResult rather than a
// protocol-level error.
func (r *Registry) ValidateToolSchema(def *ToolDefinition, args map[string]any) (*ValidationError, error) {
	return r.schemas.validateSchema(def.internalSchema, args)
}

// ValidateResourceURI sanitizes and, if declared, validates a resource URI against its schema.
func (r *Registry) ValidateResourceURI(def *ResourceDefinition, uri string) (*ValidationError, error) {
	return r.schemas.validate(def.URISchema, uri)
}

// ValidatePromptArgs sanitizes and, if declared, validates prompt arguments.
func (r *Registry) ValidatePromptArgs(def *PromptDefinition, args map[string]any) (*ValidationError, error) {
	return r.schemas.validate(def.ArgsSchema, args)
}

// compiledSchemaSummary is a small debug helper reporting how many schemas the cache holds.
func (r *Registry) compiledSchemaSummary() string {
	r.schemas.mu.RLock()
	defer r.schemas.mu.RUnlock()
	return fmt.Sprintf("%d compiled schemas", len(r.schemas.byKey))
}
