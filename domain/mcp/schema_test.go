package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCacheValidate(t *testing.T) {
	schema, err := NewRawSchema(map[string]any{
		"type":     "object",
		"required": []string{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	})
	require.NoError(t, err)

	cache := newSchemaCache()

	ve, err := cache.validate(schema, map[string]any{"name": "widget"})
	require.NoError(t, err)
	assert.Nil(t, ve)

	ve, err = cache.validate(schema, map[string]any{"count": 1})
	require.NoError(t, err)
	require.NotNil(t, ve)
	assert.NotEmpty(t, ve.Message)
}

func TestSchemaCacheSanitizesFirst(t *testing.T) {
	schema, err := NewRawSchema(map[string]any{"type": "object"})
	require.NoError(t, err)

	cache := newSchemaCache()
	ve, err := cache.validate(schema, map[string]any{"bad": "contains\x00control"})
	require.NoError(t, err)
	require.NotNil(t, ve)
}

func TestSchemaCacheNilSchemaOnlySanitizes(t *testing.T) {
	cache := newSchemaCache()
	ve, err := cache.validate(nil, map[string]any{"anything": "goes"})
	require.NoError(t, err)
	assert.Nil(t, ve)
}

func TestSchemaCacheCompilesOnce(t *testing.T) {
	schema, err := NewRawSchema(map[string]any{"type": "string"})
	require.NoError(t, err)

	cache := newSchemaCache()
	_, err = cache.validate(schema, "a")
	require.NoError(t, err)
	_, err = cache.validate(schema, "b")
	require.NoError(t, err)

	cache.mu.RLock()
	defer cache.mu.RUnlock()
	assert.Len(t, cache.byKey, 1)
}
