package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// RawSchema is a JSON Schema document kept alongside its compiled validator. The registry compiles
// lazily and caches by a structural hash so repeated validations are O(size(value)) (§4.1).
type RawSchema struct {
	doc json.RawMessage
}

// NewRawSchema wraps a JSON Schema document (as Go values, e.g. map[string]any) for registration.
func NewRawSchema(doc any) (*RawSchema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return &RawSchema{doc: raw}, nil
}

// ValidationError describes a single schema validation failure (§4.1 "{err, path, expected, received}").
type ValidationError struct {
	Path     string
	Expected string
	Received string
	Message  string
}

func (e *ValidationError) Error() string { return e.Message }

// schemaCache compiles and caches jsonschema.Schema validators keyed by the SHA-256 of the
// marshaled schema document, so two registrations with an identical schema body share one compiled
// validator (§4.1).
type schemaCache struct {
	mu    sync.RWMutex
	byKey map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{byKey: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(raw *RawSchema) (*jsonschema.Schema, error) {
	key := structuralHash(raw.doc)

	c.mu.RLock()
	if s, ok := c.byKey[key]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byKey[key]; ok {
		return s, nil
	}

	var doc any
	if err := json.Unmarshal(raw.doc, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "mem://schema/" + key
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	c.byKey[key] = compiled
	return compiled, nil
}

func structuralHash(doc json.RawMessage) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}

// validate runs sanitization followed by schema validation, per §4.1.
func (c *schemaCache) validate(raw *RawSchema, value any) (*ValidationError, error) {
	if err := sanitize(value); err != nil {
		return &ValidationError{Message: err.Error()}, nil
	}
	return c.validateSchema(raw, value)
}

// validateSchema runs only the compiled-schema check, skipping sanitization. Used by the
// tools/call path (§4.6 steps 5-6), which sanitizes separately so it can distinguish a
// sanitize failure (protocol-level INVALID_PARAMS) from a schema failure (in-band
// CallToolResult{IsError:true}) — the two share a failure type from `validate` but must be
// reported differently by the caller.
func (c *schemaCache) validateSchema(raw *RawSchema, value any) (*ValidationError, error) {
	if raw == nil {
		return nil, nil
	}
	schema, err := c.compile(raw)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(value); err != nil {
		ve := &ValidationError{Message: err.Error()}
		if verr, ok := err.(*jsonschema.ValidationError); ok && len(verr.Causes) == 0 {
			ve.Path = verr.InstanceLocation
		}
		return ve, nil
	}
	return nil, nil
}
