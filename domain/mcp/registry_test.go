package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryToolRegistrationAndLookup(t *testing.T) {
	r := NewRegistry()
	called := false
	r.RegisterTool(ToolDefinition{Name: "echo", Description: "echoes input"}, nil,
		func(ctx HandlerContext, args map[string]any) (any, error) {
			called = true
			return args, nil
		})

	def, ok := r.Tool("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", def.Name)
	require.NotNil(t, def.Handler)
	_, _ = def.Handler(HandlerContext{}, nil)
	assert.True(t, called)

	_, ok = r.Tool("missing")
	assert.False(t, ok)
}

func TestRegistryReRegisterReplacesWithoutDuplicatingOrder(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(ToolDefinition{Name: "t1", Description: "v1"}, nil, nil)
	r.RegisterTool(ToolDefinition{Name: "t2", Description: "v1"}, nil, nil)
	r.RegisterTool(ToolDefinition{Name: "t1", Description: "v2"}, nil, nil)

	tools := r.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "t1", tools[0].Name)
	assert.Equal(t, "v2", tools[0].Description)
	assert.Equal(t, "t2", tools[1].Name)
}

func TestRegistryFreezePanicsOnLateRegistration(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	assert.Panics(t, func() {
		r.RegisterTool(ToolDefinition{Name: "late"}, nil, nil)
	})
}

func TestRegistryResourceAndPromptLookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterResource(ResourceDefinition{URI: "file:///a", Name: "a"}, nil, nil)
	r.RegisterPrompt(PromptDefinition{Name: "greet"}, nil, nil)

	res, ok := r.Resource("file:///a")
	require.True(t, ok)
	assert.Equal(t, "a", res.Name)

	prompt, ok := r.Prompt("greet")
	require.True(t, ok)
	assert.Equal(t, "greet", prompt.Name)

	assert.Len(t, r.ListResources(), 1)
	assert.Len(t, r.ListPrompts(), 1)
}

func TestRegistryValidateToolArgsUsesDeclaredSchema(t *testing.T) {
	r := NewRegistry()
	schema, err := NewRawSchema(map[string]any{
		"type":     "object",
		"required": []string{"name"},
	})
	require.NoError(t, err)

	def := ToolDefinition{Name: "needs-name"}
	r.RegisterTool(def, schema, nil)
	registered, _ := r.Tool("needs-name")

	ve, err := r.ValidateToolArgs(registered, map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, ve)

	ve, err = r.ValidateToolArgs(registered, map[string]any{"name": "ok"})
	require.NoError(t, err)
	assert.Nil(t, ve)
}
