package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPWireNames(t *testing.T) {
	adapter := NewMCPAdapter()

	cases := map[Method]string{
		MethodInitialize:       "initialize",
		MethodInitialized:      "notifications/initialized",
		MethodListTools:        "tools/list",
		MethodCallTool:         "tools/call",
		MethodToolsChanged:     "notifications/tools/list_changed",
		MethodCreateMessage:    "sampling/createMessage",
		MethodCreateElicitation: "elicitation/create",
		MethodListRoots:        "roots/list",
	}

	for method, want := range cases {
		wire, ok := adapter.WireMethod(method)
		assert.True(t, ok, "method %s should have a wire name", method)
		assert.Equal(t, want, wire)

		back, ok := adapter.NormalizeMethod(wire)
		assert.True(t, ok)
		assert.Equal(t, method, back)
	}
}

func TestMCPEncodeNotificationsCarryNoID(t *testing.T) {
	adapter := NewMCPAdapter()

	req, err := adapter.Encode(&Envelope{Method: MethodInitialized})
	require.NoError(t, err)
	assert.True(t, req.IsNotification())
	assert.Equal(t, "notifications/initialized", req.Method)

	req, err = adapter.Encode(&Envelope{Method: MethodListTools})
	require.NoError(t, err)
	assert.False(t, req.IsNotification())
}

func TestMCPServerRequestDetection(t *testing.T) {
	adapter := NewMCPAdapter()

	assert.True(t, adapter.IsServerRequest(MethodCreateMessage))
	assert.True(t, adapter.IsServerRequest(MethodCreateElicitation))
	assert.True(t, adapter.IsServerRequest(MethodListRoots))
	assert.False(t, adapter.IsServerRequest(MethodListTools))
	assert.False(t, adapter.IsServerRequest(MethodToolsChanged))
}

func TestMCPDecodeStreamEvent(t *testing.T) {
	adapter := NewMCPAdapter()

	result, rpcErr := adapter.DecodeStreamEvent([]byte(`data: {"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`))
	assert.Nil(t, rpcErr)
	assert.JSONEq(t, `{"tools":[]}`, string(result))

	// Notifications surface their params.
	result, rpcErr = adapter.DecodeStreamEvent([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":0.5}}`))
	assert.Nil(t, rpcErr)
	assert.JSONEq(t, `{"progress":0.5}`, string(result))

	_, rpcErr = adapter.DecodeStreamEvent([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"boom"}}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32603, rpcErr.Code)
}

func TestMCPEncodeUnknownMethod(t *testing.T) {
	adapter := NewMCPAdapter()

	_, err := adapter.Encode(&Envelope{Method: MethodSendMessage})
	require.Error(t, err)
}

func TestMCPDecodeKeepsParamsOpaque(t *testing.T) {
	adapter := NewMCPAdapter()

	params, _ := json.Marshal(map[string]any{"name": "search", "arguments": map[string]any{"q": "go"}})
	env, err := adapter.Decode(newWireRequest("tools/call", params))
	require.NoError(t, err)

	assert.Equal(t, MethodCallTool, env.Method)
	assert.Equal(t, "search", env.Payload["name"])
}
