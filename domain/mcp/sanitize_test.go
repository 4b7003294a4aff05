package mcp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStrings(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		expectErr bool
	}{
		{"plain string", "hello world", false},
		{"string at the byte limit", strings.Repeat("a", maxStringBytes), false},
		{"string over the byte limit", strings.Repeat("a", maxStringBytes+1), true},
		{"control character NUL", "foo\x00bar", true},
		{"control character DEL", "foo\x7Fbar", true},
		{"tab and newline are fine", "foo\tbar\nbaz", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitize(tt.value)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeDepth(t *testing.T) {
	var nested any = "leaf"
	for i := 0; i < maxObjectDepth; i++ {
		nested = map[string]any{"child": nested}
	}
	assert.NoError(t, sanitize(nested))

	nested = map[string]any{"child": nested}
	assert.Error(t, sanitize(nested))
}

func TestSanitizePropertyCount(t *testing.T) {
	obj := make(map[string]any, maxObjectProps+1)
	for i := 0; i < maxObjectProps; i++ {
		obj[fmt.Sprintf("prop%d", i)] = i
	}
	assert.NoError(t, sanitize(obj))

	obj["oneTooMany"] = "overflow"
	assert.Error(t, sanitize(obj))
}

func TestSanitizeArrayLength(t *testing.T) {
	arr := make([]any, maxObjectProps)
	assert.NoError(t, sanitize(arr))

	arr = append(arr, "overflow")
	assert.Error(t, sanitize(arr))
}

func TestSanitizeScalarsPass(t *testing.T) {
	for _, v := range []any{nil, true, false, 1.0, -3.5} {
		assert.NoError(t, sanitize(v))
	}
}
