package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrameSingleRequest(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	single, batch, err := decodeFrame(body)
	require.NoError(t, err)
	assert.Nil(t, batch)
	require.NotNil(t, single)
	assert.Equal(t, "initialize", single.Method)
	assert.False(t, single.IsNotification())
}

func TestDecodeFrameNotification(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	single, _, err := decodeFrame(body)
	require.NoError(t, err)
	assert.True(t, single.IsNotification())
	assert.Equal(t, "<notification>", single.IDString())
}

func TestDecodeFrameBatch(t *testing.T) {
	body := []byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","id":2,"method":"b"}]`)
	single, batch, err := decodeFrame(body)
	require.NoError(t, err)
	assert.Nil(t, single)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Method)
}

func TestDecodeFrameEmptyBatchIsInvalid(t *testing.T) {
	_, _, err := decodeFrame([]byte(`[]`))
	assert.ErrorIs(t, err, errInvalidRequest)
}

func TestDecodeFrameMissingMethodIsInvalid(t *testing.T) {
	_, _, err := decodeFrame([]byte(`{"jsonrpc":"2.0","id":1}`))
	assert.ErrorIs(t, err, errInvalidRequest)
}

func TestDecodeFrameWrongVersionIsInvalid(t *testing.T) {
	_, _, err := decodeFrame([]byte(`{"jsonrpc":"1.0","id":1,"method":"x"}`))
	assert.ErrorIs(t, err, errInvalidRequest)
}

func TestDecodeFrameMalformedJSONIsParseFailure(t *testing.T) {
	_, _, err := decodeFrame([]byte(`{not json`))
	assert.ErrorIs(t, err, errParseFailure)
}

func TestDecodeFrameEmptyBodyIsInvalid(t *testing.T) {
	_, _, err := decodeFrame([]byte("   "))
	assert.ErrorIs(t, err, errInvalidRequest)
}

func TestNewErrorResponse(t *testing.T) {
	id := json.RawMessage(`1`)
	resp := NewErrorResponse(id, ErrCodeMethodNotFound, "not found", nil)
	assert.Equal(t, "2.0", resp.JSONRPC)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Nil(t, resp.Result)
}

func TestNewSuccessResponse(t *testing.T) {
	id := json.RawMessage(`"abc"`)
	resp := NewSuccessResponse(id, map[string]string{"ok": "true"})
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]string{"ok": "true"}, resp.Result)
}
